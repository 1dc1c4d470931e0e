// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/hex"

	"github.com/dchest/blake2b"
	jsoniter "github.com/json-iterator/go"

	"github.com/coral-colony/corald/coralutil/er"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event kinds consumed or emitted by this node.  Peer info and follow
// lists live in the replaceable profile range, settlement handshake
// events live in the ephemeral range so relays are not expected to
// retain them.
const (
	KindPeerInfo           = 0
	KindFollows            = 3
	KindSettlementRequest  = 23194
	KindSettlementResponse = 23195
)

// KindClass describes the retention semantics of an event kind.
type KindClass int

const (
	// KindRegular events are stored and served forever.
	KindRegular KindClass = iota

	// KindReplaceable events are stored at most once per (pubkey, kind),
	// newer created_at winning.
	KindReplaceable

	// KindEphemeral events are relayed to live subscriptions but not
	// retained.
	KindEphemeral

	// KindParamReplaceable events are stored at most once per
	// (pubkey, kind, d-tag).
	KindParamReplaceable
)

// ClassOfKind returns the retention class for a kind number.
func ClassOfKind(kind int) KindClass {
	switch {
	case kind == KindPeerInfo || kind == KindFollows:
		return KindReplaceable
	case kind >= 10000 && kind < 20000:
		return KindReplaceable
	case kind >= 20000 && kind < 30000:
		return KindEphemeral
	case kind >= 30000 && kind < 40000:
		return KindParamReplaceable
	default:
		return KindRegular
	}
}

// Event is the canonical signed event envelope used on the relay.
// An event is immutable once signed.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Err is the error type for malformed wire structures.
var Err er.ErrorType = er.NewErrorType("wire.Err")

var (
	// ErrMalformedEvent is returned when event bytes cannot be decoded
	// into an event structure.
	ErrMalformedEvent = Err.CodeWithDetail("ErrMalformedEvent",
		"malformed event")

	// ErrMalformedPacket is returned when a packet is missing required
	// fields or carries fields of the wrong shape.
	ErrMalformedPacket = Err.CodeWithDetail("ErrMalformedPacket",
		"malformed packet")

	// ErrMalformedChainID is returned when a chain identifier does not
	// match ns:net[:chainId] with non-empty segments.
	ErrMalformedChainID = Err.CodeWithDetail("ErrMalformedChainID",
		"malformed chain identifier")
)

// SerializeCanonical returns the canonical serialization which is hashed
// to form the event id: a JSON array of
// [0, pubkey, created_at, kind, tags, content].
func (ev *Event) SerializeCanonical() ([]byte, er.R) {
	arr := []interface{}{
		0, ev.Pubkey, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content,
	}
	b, errr := json.Marshal(arr)
	if errr != nil {
		return nil, er.E(errr)
	}
	return b, nil
}

// ComputeID hashes the canonical serialization and returns the id as
// lowercase hex.
func (ev *Event) ComputeID() (string, er.R) {
	ser, err := ev.SerializeCanonical()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(ser)
	return hex.EncodeToString(sum[:]), nil
}

// TagValue returns the first value of the first tag with the given name,
// or empty string when no such tag exists.
func (ev *Event) TagValue(name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Marshal encodes the event as JSON.
func (ev *Event) Marshal() ([]byte, er.R) {
	b, errr := json.Marshal(ev)
	if errr != nil {
		return nil, er.E(errr)
	}
	return b, nil
}

// UnmarshalEvent decodes an event from JSON bytes.
func UnmarshalEvent(b []byte) (*Event, er.R) {
	var ev Event
	if errr := json.Unmarshal(b, &ev); errr != nil {
		return nil, ErrMalformedEvent.New(errr.Error(), nil)
	}
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	return &ev, nil
}
