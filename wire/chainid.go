package wire

import (
	"strings"

	"github.com/coral-colony/corald/coralutil/er"
)

// ChainID identifies a settlement rail, formatted ns:net[:chainId] with
// every segment non-empty, e.g. "evm:base:8453".
type ChainID struct {
	Namespace string
	Network   string
	ChainRef  string
}

// ParseChainID validates and splits a chain identifier.
func ParseChainID(s string) (ChainID, er.R) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ChainID{}, ErrMalformedChainID.New(s, nil)
	}
	for _, p := range parts {
		if p == "" {
			return ChainID{}, ErrMalformedChainID.New(s, nil)
		}
	}
	out := ChainID{Namespace: parts[0], Network: parts[1]}
	if len(parts) == 3 {
		out.ChainRef = parts[2]
	}
	return out, nil
}

// ValidChainID reports whether s is a well formed chain identifier.
func ValidChainID(s string) bool {
	_, err := ParseChainID(s)
	return err == nil
}

func (c ChainID) String() string {
	if c.ChainRef == "" {
		return c.Namespace + ":" + c.Network
	}
	return c.Namespace + ":" + c.Network + ":" + c.ChainRef
}
