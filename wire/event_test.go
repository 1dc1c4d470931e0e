package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-colony/corald/coralutil/util"
)

func TestClassOfKind(t *testing.T) {
	require.Equal(t, KindReplaceable, ClassOfKind(KindPeerInfo))
	require.Equal(t, KindReplaceable, ClassOfKind(KindFollows))
	require.Equal(t, KindReplaceable, ClassOfKind(10002))
	require.Equal(t, KindEphemeral, ClassOfKind(KindSettlementRequest))
	require.Equal(t, KindEphemeral, ClassOfKind(KindSettlementResponse))
	require.Equal(t, KindParamReplaceable, ClassOfKind(30023))
	require.Equal(t, KindRegular, ClassOfKind(1))
}

func TestComputeIDDeterministic(t *testing.T) {
	ev := &Event{
		Pubkey:    "aa",
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      [][]string{{"p", "bb"}},
		Content:   "hello",
	}
	id1, err := ev.ComputeID()
	util.RequireNoErr(t, err)
	id2, err := ev.ComputeID()
	util.RequireNoErr(t, err)
	require.Equal(t, id1, id2)
	require.Len(t, id1, 64)

	ev.Content = "hello!"
	id3, err := ev.ComputeID()
	util.RequireNoErr(t, err)
	require.NotEqual(t, id1, id3)
}

func TestTagValue(t *testing.T) {
	ev := &Event{Tags: [][]string{{"e"}, {"p", "first"}, {"p", "second"}}}
	require.Equal(t, "first", ev.TagValue("p"))
	require.Equal(t, "", ev.TagValue("e"))
	require.Equal(t, "", ev.TagValue("d"))
}

func TestEventDataEncoding(t *testing.T) {
	ev := &Event{
		ID:        "deadbeef",
		Pubkey:    "aa",
		CreatedAt: 1700000000,
		Kind:      KindSettlementRequest,
		Tags:      [][]string{{"p", "bb"}},
		Content:   "ciphertext",
		Sig:       "cafe",
	}
	data, err := EncodeEventData(ev)
	util.RequireNoErr(t, err)

	got, err := DecodeEventData(data)
	util.RequireNoErr(t, err)
	require.Equal(t, ev, got)
}

func TestDecodeEventDataRejectsGarbage(t *testing.T) {
	_, err := DecodeEventData([]byte("not snappy"))
	util.RequireErr(t, err)
}

func TestParseAmount(t *testing.T) {
	p := &Packet{Amount: "123456789012345678901234567890"}
	n, err := p.ParseAmount()
	util.RequireNoErr(t, err)
	require.Equal(t, "123456789012345678901234567890", n.String())

	for _, bad := range []string{"", "-1", "1.5", "0x10", "ten"} {
		p := &Packet{Amount: bad}
		_, err := p.ParseAmount()
		util.RequireErr(t, err)
	}
}

func TestPacketCheckBasic(t *testing.T) {
	pkt := &Packet{Amount: "1", Destination: "g.peer", Data: []byte{1}}
	util.RequireNoErr(t, pkt.CheckBasic())

	util.RequireErr(t, (&Packet{Destination: "g.peer", Data: []byte{1}}).CheckBasic())
	util.RequireErr(t, (&Packet{Amount: "1", Data: []byte{1}}).CheckBasic())
	util.RequireErr(t, (&Packet{Amount: "1", Destination: "g.peer"}).CheckBasic())
}
