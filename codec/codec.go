// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package codec builds and parses the three wire events this node
// consumes or emits: peer info advertisements, encrypted settlement
// requests and encrypted settlement responses.  All structural
// validation of these events is centralised here.  The codec never
// touches the network.
package codec

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Err identifies an invalid event: wrong kind, undecryptable content or
// failed structural validation.  Callers test membership with Err.Is.
var Err er.ErrorType = er.NewErrorType("codec.Err")

var (
	// ErrWrongKind is returned when an event of an unexpected kind is
	// passed to a parse function.
	ErrWrongKind = Err.CodeWithDetail("ErrWrongKind",
		"unexpected event kind")

	// ErrNotJSON is returned when event content is not a JSON object of
	// the expected shape.
	ErrNotJSON = Err.CodeWithDetail("ErrNotJSON",
		"event content is not a valid JSON object")

	// ErrMissingField is returned when a required field is missing or
	// empty.
	ErrMissingField = Err.CodeWithDetail("ErrMissingField",
		"missing required field")

	// ErrBadChain is returned when a chain identifier is malformed.
	ErrBadChain = Err.CodeWithDetail("ErrBadChain",
		"malformed chain identifier")

	// ErrChainMismatch is returned when settlementAddresses contains a
	// key that is not listed in supportedChains.
	ErrChainMismatch = Err.CodeWithDetail("ErrChainMismatch",
		"settlement address for a chain not in supportedChains")

	// ErrDecryptFailed is returned when event decryption failed, which
	// includes authentication failures.
	ErrDecryptFailed = Err.CodeWithDetail("ErrDecryptFailed",
		"event decryption failed")

	// ErrBadField is returned when an optional field is present but of
	// the wrong type or out of range.
	ErrBadField = Err.CodeWithDetail("ErrBadField",
		"field has wrong type or is out of range")
)

// Keychain is the signing and key agreement surface the codec needs.
// Credential handling itself is not this package's concern.
type Keychain interface {
	// Pubkey returns the local identity as 64 lowercase hex.
	Pubkey() string

	// SignEvent fills in ID, Pubkey and Sig on the event.
	SignEvent(ev *wire.Event) er.R

	// SharedSecret returns the 32 byte key agreed with a peer identity.
	SharedSecret(peerPubkeyHex string) ([]byte, er.R)
}

// Codec builds and parses wire events on behalf of one local identity.
type Codec struct {
	kc Keychain
}

func New(kc Keychain) *Codec {
	return &Codec{kc: kc}
}

// Pubkey returns the local identity the codec signs with.
func (c *Codec) Pubkey() string {
	return c.kc.Pubkey()
}

// validateHints checks the optional settlement descriptors which appear
// in both peer info advertisements and settlement requests.
func validateHints(chains []string, addrs, tokens, nets map[string]string) er.R {
	seen := make(map[string]struct{}, len(chains))
	for _, ch := range chains {
		if !wire.ValidChainID(ch) {
			return ErrBadChain.New(ch, nil)
		}
		seen[ch] = struct{}{}
	}
	for ch := range addrs {
		if !wire.ValidChainID(ch) {
			return ErrBadChain.New(ch, nil)
		}
		if _, ok := seen[ch]; !ok {
			return ErrChainMismatch.New(ch, nil)
		}
	}
	for ch := range tokens {
		if !wire.ValidChainID(ch) {
			return ErrBadChain.New(ch, nil)
		}
	}
	for ch := range nets {
		if !wire.ValidChainID(ch) {
			return ErrBadChain.New(ch, nil)
		}
	}
	return nil
}
