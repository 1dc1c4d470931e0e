package codec

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"

	"github.com/aead/chacha20"
	"github.com/dchest/blake2b"

	"github.com/coral-colony/corald/coralutil/er"
)

// Encrypted content layout, base64 encoded:
//
//	nonce[24] || ciphertext || mac[16]
//
// The cipher is XChaCha20 keyed with the ECDH shared secret, the mac is
// a keyed blake2b over nonce||ciphertext with the same key.

const (
	nonceSize = 24
	macSize   = 16
)

func seal(key, plaintext []byte) (string, er.R) {
	nonce := make([]byte, nonceSize)
	if _, errr := rand.Read(nonce); errr != nil {
		return "", er.E(errr)
	}
	ct := make([]byte, len(plaintext))
	chacha20.XORKeyStream(ct, plaintext, nonce, key)

	mac := blake2b.NewMAC(macSize, key)
	mac.Write(nonce)
	mac.Write(ct)

	out := make([]byte, 0, nonceSize+len(ct)+macSize)
	out = append(out, nonce...)
	out = append(out, ct...)
	out = mac.Sum(out)
	return base64.StdEncoding.EncodeToString(out), nil
}

func open(key []byte, content string) ([]byte, er.R) {
	raw, errr := base64.StdEncoding.DecodeString(content)
	if errr != nil {
		return nil, ErrDecryptFailed.New("content is not base64", nil)
	}
	if len(raw) < nonceSize+macSize {
		return nil, ErrDecryptFailed.New("content too short", nil)
	}
	nonce := raw[:nonceSize]
	ct := raw[nonceSize : len(raw)-macSize]
	gotMac := raw[len(raw)-macSize:]

	mac := blake2b.NewMAC(macSize, key)
	mac.Write(nonce)
	mac.Write(ct)
	if !bytes.Equal(mac.Sum(nil), gotMac) {
		return nil, ErrDecryptFailed.New("authentication failed", nil)
	}

	pt := make([]byte, len(ct))
	chacha20.XORKeyStream(pt, ct, nonce, key)
	return pt, nil
}

// encryptTo seals plaintext for a peer identity.
func (c *Codec) encryptTo(peerPubkey string, plaintext []byte) (string, er.R) {
	key, err := c.kc.SharedSecret(peerPubkey)
	if err != nil {
		return "", ErrDecryptFailed.New("key agreement failed", err)
	}
	return seal(key, plaintext)
}

// decryptFrom opens content sealed by a peer identity.
func (c *Codec) decryptFrom(peerPubkey string, content string) ([]byte, er.R) {
	key, err := c.kc.SharedSecret(peerPubkey)
	if err != nil {
		return nil, ErrDecryptFailed.New("key agreement failed", err)
	}
	return open(key, content)
}
