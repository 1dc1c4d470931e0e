package wire

import (
	"math/big"

	"github.com/coral-colony/corald/coralutil/er"
)

// Packet is the inbound/outbound payment unit at the business logic
// server boundary.  Data transports one compact-encoded event.
type Packet struct {
	// Amount is an unsigned bignum as a decimal string.
	Amount string

	// Destination is a packet-layer routing address.
	Destination string

	// Data is opaque to the packet layer.
	Data []byte

	SourceAccount string
}

// ParseAmount decodes the packet amount, rejecting anything which is not
// an unsigned decimal integer.
func (p *Packet) ParseAmount() (*big.Int, er.R) {
	n, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || n.Sign() < 0 {
		return nil, ErrMalformedPacket.New("amount is not an unsigned decimal integer", nil)
	}
	return n, nil
}

// CheckBasic validates that the required packet fields are present.
func (p *Packet) CheckBasic() er.R {
	if p.Amount == "" {
		return ErrMalformedPacket.New("missing amount", nil)
	}
	if _, err := p.ParseAmount(); err != nil {
		return err
	}
	if p.Destination == "" {
		return ErrMalformedPacket.New("missing destination", nil)
	}
	if len(p.Data) == 0 {
		return ErrMalformedPacket.New("missing data", nil)
	}
	return nil
}

// Reply is the verdict for one handled packet, either an accept or a
// reject, never both.
type Reply struct {
	Accept *Accept
	Reject *Reject
}

// Accept is the positive verdict for a packet.  Fulfillment is set only
// on payment paths which carry one, and Data optionally piggy-backs a
// compact-encoded response event.
type Accept struct {
	Fulfillment []byte
	Data        []byte

	// EventID and StoredAt describe the stored event for store paths.
	EventID  string
	StoredAt int64
}

// Reject is the negative verdict for a packet.
type Reject struct {
	Code    string
	Message string

	// Required and Received are set on insufficient payment rejections.
	Required string
	Received string
}

func AcceptReply(a *Accept) Reply { return Reply{Accept: a} }

func RejectReply(r *Reject) Reply { return Reply{Reject: r} }
