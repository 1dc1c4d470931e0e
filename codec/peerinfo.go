package codec

import (
	"time"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

// BuildPeerInfo serialises the advertisement as compact JSON content of
// a signed peer info event.  The result round-trips exactly through
// ParsePeerInfo.
func (c *Codec) BuildPeerInfo(info *wire.PeerInfo) (*wire.Event, er.R) {
	if err := validatePeerInfo(info); err != nil {
		return nil, err
	}
	content, errr := json.Marshal(info)
	if errr != nil {
		return nil, er.E(errr)
	}
	ev := &wire.Event{
		Kind:      wire.KindPeerInfo,
		Content:   string(content),
		Tags:      [][]string{},
		CreatedAt: time.Now().Unix(),
	}
	if err := c.kc.SignEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParsePeerInfo validates and decodes a peer info event.  Missing
// optional collections decode to empty collections, except
// preferredTokens and tokenNetworks which stay absent.
func ParsePeerInfo(ev *wire.Event) (*wire.PeerInfo, er.R) {
	if ev.Kind != wire.KindPeerInfo {
		return nil, ErrWrongKind.New("want peer info", nil)
	}
	var info wire.PeerInfo
	if errr := json.Unmarshal([]byte(ev.Content), &info); errr != nil {
		return nil, ErrNotJSON.New(errr.Error(), nil)
	}
	if err := validatePeerInfo(&info); err != nil {
		return nil, err
	}
	if info.SupportedChains == nil {
		info.SupportedChains = []string{}
	}
	if info.SettlementAddresses == nil {
		info.SettlementAddresses = map[string]string{}
	}
	return &info, nil
}

func validatePeerInfo(info *wire.PeerInfo) er.R {
	if info.ILPAddress == "" {
		return ErrMissingField.New("ilpAddress", nil)
	}
	if info.BTPEndpoint == "" {
		return ErrMissingField.New("btpEndpoint", nil)
	}
	if info.AssetCode == "" {
		return ErrMissingField.New("assetCode", nil)
	}
	return validateHints(info.SupportedChains, info.SettlementAddresses,
		info.PreferredTokens, info.TokenNetworks)
}
