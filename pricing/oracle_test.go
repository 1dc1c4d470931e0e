package pricing

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-colony/corald/coralutil/util"
	"github.com/coral-colony/corald/wire"
)

func TestParsePrice(t *testing.T) {
	n, err := ParsePrice("10")
	util.RequireNoErr(t, err)
	require.Equal(t, int64(10), n.Int64())

	for _, bad := range []string{"", "-5", "1.2", "abc"} {
		_, err := ParsePrice(bad)
		util.RequireErr(t, err)
	}
}

func TestBaseRate(t *testing.T) {
	o := New(Policy{BasePricePerByte: big.NewInt(10)})
	require.Equal(t, int64(1000), o.Price(100, 1).Int64())
	require.Equal(t, int64(0), o.Price(0, 1).Int64())
}

func TestKindOverride(t *testing.T) {
	o := New(Policy{
		BasePricePerByte: big.NewInt(10),
		KindOverrides:    map[int]*big.Int{3: big.NewInt(7)},
	})
	require.Equal(t, int64(7), o.Price(100, 3).Int64())
	require.Equal(t, int64(1000), o.Price(100, 1).Int64())
}

func TestRequestFloor(t *testing.T) {
	// A zero floor makes discovery free regardless of size.
	o := New(Policy{
		BasePricePerByte: big.NewInt(10),
		RequestFloor:     big.NewInt(0),
	})
	require.Equal(t, int64(0), o.Price(100, wire.KindSettlementRequest).Int64())
	require.Equal(t, int64(1000), o.Price(100, 1).Int64())

	// No floor falls through to the base rate.
	o = New(Policy{BasePricePerByte: big.NewInt(10)})
	require.Equal(t, int64(1000), o.Price(100, wire.KindSettlementRequest).Int64())

	// An override beats the floor.
	o = New(Policy{
		BasePricePerByte: big.NewInt(10),
		RequestFloor:     big.NewInt(0),
		KindOverrides:    map[int]*big.Int{wire.KindSettlementRequest: big.NewInt(5)},
	})
	require.Equal(t, int64(5), o.Price(100, wire.KindSettlementRequest).Int64())
}

func TestPriceReturnsFreshValue(t *testing.T) {
	o := New(Policy{BasePricePerByte: big.NewInt(10)})
	p := o.Price(10, 1)
	p.SetInt64(0)
	require.Equal(t, int64(100), o.Price(10, 1).Int64())
}
