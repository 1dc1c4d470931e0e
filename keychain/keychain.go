// Package keychain holds the node's identity key and implements event
// signing and key agreement over secp256k1.  Peer identities are x-only
// public keys, 32 bytes as 64 lowercase hex.
package keychain

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"github.com/dchest/blake2b"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/coralutil/util"
	"github.com/coral-colony/corald/wire"
)

// Err is the error type for key handling failures.
var Err er.ErrorType = er.NewErrorType("keychain.Err")

var (
	// ErrBadSecretKey is returned when a secret key is not 64 hex
	// characters or is out of range for the curve.
	ErrBadSecretKey = Err.CodeWithDetail("ErrBadSecretKey",
		"secret key must be 64 hex characters")

	// ErrBadPubkey is returned when a peer identity is not 64 lowercase
	// hex characters or does not name a curve point.
	ErrBadPubkey = Err.CodeWithDetail("ErrBadPubkey",
		"pubkey must be 64 lowercase hex characters")
)

// ValidPubkeyHex reports whether s is a well formed peer identity.
func ValidPubkeyHex(s string) bool {
	if len(s) != 64 || s != strings.ToLower(s) {
		return false
	}
	_, errr := hex.DecodeString(s)
	return errr == nil
}

// KeyRing wraps the node's identity keypair.
type KeyRing struct {
	priv *btcec.PrivateKey
	pub  string
}

// NewKeyRing parses a 64-hex secret key and derives the x-only pubkey.
func NewKeyRing(secretHex string) (*KeyRing, er.R) {
	if len(secretHex) != 64 {
		return nil, ErrBadSecretKey.Default()
	}
	raw, err := util.DecodeHex(secretHex)
	if err != nil {
		return nil, ErrBadSecretKey.New(err.Message(), nil)
	}
	priv, pub := btcec.PrivKeyFromBytes(btcec.S256(), raw)
	comp := pub.SerializeCompressed()
	return &KeyRing{
		priv: priv,
		pub:  hex.EncodeToString(comp[1:]),
	}, nil
}

// Pubkey returns the node's identity as 64 lowercase hex.
func (k *KeyRing) Pubkey() string {
	return k.pub
}

// SignEvent computes the event id, signs it and fills in the ID, Pubkey
// and Sig fields.  The event must not be modified afterwards.
func (k *KeyRing) SignEvent(ev *wire.Event) er.R {
	ev.Pubkey = k.pub
	id, err := ev.ComputeID()
	if err != nil {
		return err
	}
	ev.ID = id
	digest, err := util.DecodeHex(id)
	if err != nil {
		return err
	}
	sig, errr := k.priv.Sign(digest)
	if errr != nil {
		return er.E(errr)
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// parsePoint lifts an x-only identity back onto the curve.  The even-y
// point is used by convention on both sides of the agreement.
func parsePoint(pubkeyHex string) (*btcec.PublicKey, er.R) {
	if !ValidPubkeyHex(pubkeyHex) {
		return nil, ErrBadPubkey.New(pubkeyHex, nil)
	}
	raw, _ := hex.DecodeString(pubkeyHex)
	pub, errr := btcec.ParsePubKey(append([]byte{0x02}, raw...), btcec.S256())
	if errr != nil {
		return nil, ErrBadPubkey.New(errr.Error(), nil)
	}
	return pub, nil
}

// SharedSecret performs ECDH with the peer identity and hashes the
// result to a uniform 32 byte key.
func (k *KeyRing) SharedSecret(peerPubkeyHex string) ([]byte, er.R) {
	pub, err := parsePoint(peerPubkeyHex)
	if err != nil {
		return nil, err
	}
	ecdh := btcec.GenerateSharedSecret(k.priv, pub)
	sum := blake2b.Sum256(ecdh)
	return sum[:], nil
}
