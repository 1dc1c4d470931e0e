package codec

import (
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

// BuildRequest creates an encrypted settlement request event addressed
// to recipientPubkey.  The returned request id is used by the caller to
// correlate the response.  The event's created_at always equals the
// timestamp inside the encrypted payload.
func (c *Codec) BuildRequest(recipientPubkey string,
	hints *wire.SettlementHints) (*wire.Event, string, er.R) {

	reqID, errr := uuid.GenerateUUID()
	if errr != nil {
		return nil, "", er.E(errr)
	}
	payload := wire.SettlementRequest{
		RequestID: reqID,
		Timestamp: time.Now().Unix(),
	}
	if hints != nil {
		payload.SettlementHints = *hints
	}
	if err := validateHints(payload.SupportedChains, payload.SettlementAddresses,
		payload.PreferredTokens, payload.TokenNetworks); err != nil {
		return nil, "", err
	}

	plain, errr := json.Marshal(&payload)
	if errr != nil {
		return nil, "", er.E(errr)
	}
	content, err := c.encryptTo(recipientPubkey, plain)
	if err != nil {
		return nil, "", err
	}
	ev := &wire.Event{
		Kind:      wire.KindSettlementRequest,
		Content:   content,
		Tags:      [][]string{{"p", recipientPubkey}},
		CreatedAt: payload.Timestamp,
	}
	if err := c.kc.SignEvent(ev); err != nil {
		return nil, "", err
	}
	return ev, reqID, nil
}

// ParseRequest decrypts and validates a settlement request event using
// the sender identity from the envelope.
func (c *Codec) ParseRequest(ev *wire.Event) (*wire.SettlementRequest, er.R) {
	if ev.Kind != wire.KindSettlementRequest {
		return nil, ErrWrongKind.New("want settlement request", nil)
	}
	plain, err := c.decryptFrom(ev.Pubkey, ev.Content)
	if err != nil {
		return nil, err
	}
	var req wire.SettlementRequest
	if errr := json.Unmarshal(plain, &req); errr != nil {
		return nil, ErrNotJSON.New(errr.Error(), nil)
	}
	if req.RequestID == "" {
		return nil, ErrMissingField.New("requestId", nil)
	}
	if req.Timestamp <= 0 {
		return nil, ErrBadField.New("timestamp", nil)
	}
	if err := validateHints(req.SupportedChains, req.SettlementAddresses,
		req.PreferredTokens, req.TokenNetworks); err != nil {
		return nil, err
	}
	return &req, nil
}
