// Package pricing computes the minimum acceptable payment for an event,
// given its encoded byte length and kind.
package pricing

import (
	"math/big"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

// Err is the error type for pricing policy failures.
var Err er.ErrorType = er.NewErrorType("pricing.Err")

var (
	// ErrBadPrice is returned when a configured price is not an unsigned
	// decimal integer.
	ErrBadPrice = Err.CodeWithDetail("ErrBadPrice",
		"price is not an unsigned decimal integer")
)

// Policy is the node's pricing configuration.  All prices are unsigned
// arbitrary precision integers.
type Policy struct {
	// BasePricePerByte is the default rate applied to event bytes.
	BasePricePerByte *big.Int

	// KindOverrides maps an event kind to a flat per-event price which
	// takes precedence over the byte rate.
	KindOverrides map[int]*big.Int

	// RequestFloor, when non-nil, is the flat price for settlement
	// request events.  A zero floor makes discovery free.  When nil the
	// base rate applies.
	RequestFloor *big.Int
}

// Oracle prices events against a fixed policy.
type Oracle struct {
	policy Policy
}

// ParsePrice decodes an unsigned decimal price string.
func ParsePrice(s string) (*big.Int, er.R) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, ErrBadPrice.New(s, nil)
	}
	return n, nil
}

func New(policy Policy) *Oracle {
	if policy.BasePricePerByte == nil {
		policy.BasePricePerByte = big.NewInt(0)
	}
	return &Oracle{policy: policy}
}

// Price returns the minimum acceptable payment for an event of the given
// encoded length and kind.  The result is always a fresh value the
// caller may own.
func (o *Oracle) Price(byteLen int, kind int) *big.Int {
	if p, ok := o.policy.KindOverrides[kind]; ok {
		return new(big.Int).Set(p)
	}
	if kind == wire.KindSettlementRequest && o.policy.RequestFloor != nil {
		return new(big.Int).Set(o.policy.RequestFloor)
	}
	return new(big.Int).Mul(big.NewInt(int64(byteLen)), o.policy.BasePricePerByte)
}
