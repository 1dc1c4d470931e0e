package codec

import (
	"time"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

// BuildResponse creates an encrypted settlement response event addressed
// to the original requester.  When requestEventID is non-empty it is
// referenced with an "e" tag.
func (c *Codec) BuildResponse(payload *wire.SettlementResponse,
	originalSenderPubkey, requestEventID string) (*wire.Event, er.R) {

	if payload.RequestID == "" {
		return nil, ErrMissingField.New("requestId", nil)
	}
	if payload.DestinationAccount == "" {
		return nil, ErrMissingField.New("destinationAccount", nil)
	}
	if payload.SharedSecret == "" {
		return nil, ErrMissingField.New("sharedSecret", nil)
	}
	plain, errr := json.Marshal(payload)
	if errr != nil {
		return nil, er.E(errr)
	}
	content, err := c.encryptTo(originalSenderPubkey, plain)
	if err != nil {
		return nil, err
	}
	tags := [][]string{{"p", originalSenderPubkey}}
	if requestEventID != "" {
		tags = append(tags, []string{"e", requestEventID})
	}
	ev := &wire.Event{
		Kind:      wire.KindSettlementResponse,
		Content:   content,
		Tags:      tags,
		CreatedAt: time.Now().Unix(),
	}
	if err := c.kc.SignEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseResponse decrypts and validates a settlement response event using
// the responder identity from the envelope.
func (c *Codec) ParseResponse(ev *wire.Event) (*wire.SettlementResponse, er.R) {
	if ev.Kind != wire.KindSettlementResponse {
		return nil, ErrWrongKind.New("want settlement response", nil)
	}
	plain, err := c.decryptFrom(ev.Pubkey, ev.Content)
	if err != nil {
		return nil, err
	}
	var resp wire.SettlementResponse
	if errr := json.Unmarshal(plain, &resp); errr != nil {
		return nil, ErrNotJSON.New(errr.Error(), nil)
	}
	if resp.RequestID == "" {
		return nil, ErrMissingField.New("requestId", nil)
	}
	if resp.DestinationAccount == "" {
		return nil, ErrMissingField.New("destinationAccount", nil)
	}
	if resp.SharedSecret == "" {
		return nil, ErrMissingField.New("sharedSecret", nil)
	}
	if resp.NegotiatedChain != "" && !wire.ValidChainID(resp.NegotiatedChain) {
		return nil, ErrBadChain.New(resp.NegotiatedChain, nil)
	}
	if resp.SettlementTimeout < 0 {
		return nil, ErrBadField.New("settlementTimeout must be positive", nil)
	}
	return &resp, nil
}
