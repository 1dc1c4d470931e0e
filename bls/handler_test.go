package bls

import (
	"context"
	"encoding/base64"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-colony/corald/codec"
	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/coralutil/util"
	"github.com/coral-colony/corald/keychain"
	"github.com/coral-colony/corald/pricing"
	"github.com/coral-colony/corald/rpcclient"
	"github.com/coral-colony/corald/settle"
	"github.com/coral-colony/corald/wire"
	"github.com/coral-colony/corald/wire/rejecterr"
)

type memSink struct {
	events []*wire.Event
	fail   er.R
}

func (m *memSink) Put(ev *wire.Event) er.R {
	if m.fail != nil {
		return m.fail
	}
	m.events = append(m.events, ev)
	return nil
}

type fakeChannels struct {
	opens int
}

func (f *fakeChannels) OpenChannel(req *rpcclient.OpenChannelRequest) (*rpcclient.Channel, er.R) {
	f.opens++
	return &rpcclient.Channel{ChannelID: "0xCH", Status: rpcclient.ChannelOpen}, nil
}

func (f *fakeChannels) GetChannelState(id string) (*rpcclient.Channel, er.R) {
	return &rpcclient.Channel{ChannelID: id, Status: rpcclient.ChannelOpen}, nil
}

type fakeAdmin struct {
	added []*rpcclient.AddPeerRequest
	fail  er.R
}

func (f *fakeAdmin) AddPeer(req *rpcclient.AddPeerRequest) er.R {
	if f.fail != nil {
		return f.fail
	}
	f.added = append(f.added, req)
	return nil
}

func (f *fakeAdmin) RemovePeer(peerID string) er.R { return nil }

func testKeyRing(t *testing.T, b string) *keychain.KeyRing {
	kr, err := keychain.NewKeyRing(strings.Repeat(b, 32))
	util.RequireNoErr(t, err)
	return kr
}

func freeOracle() *pricing.Oracle {
	return pricing.New(pricing.Policy{BasePricePerByte: big.NewInt(0)})
}

func paidOracle() *pricing.Oracle {
	return pricing.New(pricing.Policy{BasePricePerByte: big.NewInt(10)})
}

// encodedEvent signs and compact-encodes a kind 1 note from the given
// keyring.
func encodedEvent(t *testing.T, kr *keychain.KeyRing) []byte {
	ev := &wire.Event{
		Kind:      1,
		Content:   "hello",
		Tags:      [][]string{},
		CreatedAt: 1700000000,
	}
	util.RequireNoErr(t, kr.SignEvent(ev))
	data, err := wire.EncodeEventData(ev)
	util.RequireNoErr(t, err)
	return data
}

func TestStorePath(t *testing.T) {
	node := testKeyRing(t, "22")
	sink := &memSink{}
	h := New(Config{ILPAddress: "g.node"}, freeOracle(), codec.New(node), sink, nil, nil)

	data := encodedEvent(t, testKeyRing(t, "11"))
	reply := h.HandlePacket(context.Background(), &wire.Packet{
		Amount: "0", Destination: "g.node", Data: data,
	})
	require.NotNil(t, reply.Accept)
	require.Nil(t, reply.Accept.Fulfillment)
	require.NotEmpty(t, reply.Accept.EventID)
	require.NotZero(t, reply.Accept.StoredAt)
	require.Len(t, sink.events, 1)
	require.Equal(t, reply.Accept.EventID, sink.events[0].ID)
}

func TestStoreFailure(t *testing.T) {
	node := testKeyRing(t, "22")
	sink := &memSink{fail: er.Errorf("disk full")}
	h := New(Config{ILPAddress: "g.node"}, freeOracle(), codec.New(node), sink, nil, nil)

	reply := h.HandlePacket(context.Background(), &wire.Packet{
		Amount: "0", Destination: "g.node",
		Data: encodedEvent(t, testKeyRing(t, "11")),
	})
	require.NotNil(t, reply.Reject)
	require.Equal(t, rejecterr.CodeInternalError, reply.Reject.Code)
}

func TestInsufficientAmount(t *testing.T) {
	node := testKeyRing(t, "22")
	h := New(Config{ILPAddress: "g.node"}, paidOracle(), codec.New(node), &memSink{}, nil, nil)

	data := encodedEvent(t, testKeyRing(t, "11"))
	want := new(big.Int).Mul(big.NewInt(10), big.NewInt(int64(len(data))))

	reply := h.HandlePacket(context.Background(), &wire.Packet{
		Amount: "1", Destination: "g.node", Data: data,
	})
	require.NotNil(t, reply.Reject)
	require.Equal(t, rejecterr.CodeInsufficientAmount, reply.Reject.Code)
	require.Equal(t, want.String(), reply.Reject.Required)
	require.Equal(t, "1", reply.Reject.Received)
}

func TestOwnerBypassesPayment(t *testing.T) {
	node := testKeyRing(t, "22")
	owner := testKeyRing(t, "11")
	sink := &memSink{}
	h := New(Config{ILPAddress: "g.node", OwnerPubkey: owner.Pubkey()},
		paidOracle(), codec.New(node), sink, nil, nil)

	reply := h.HandlePacket(context.Background(), &wire.Packet{
		Amount: "0", Destination: "g.node", Data: encodedEvent(t, owner),
	})
	require.NotNil(t, reply.Accept)
	require.Len(t, sink.events, 1)
}

func TestMalformedPacketAndData(t *testing.T) {
	node := testKeyRing(t, "22")
	h := New(Config{ILPAddress: "g.node"}, freeOracle(), codec.New(node), &memSink{}, nil, nil)

	for _, pkt := range []*wire.Packet{
		{Amount: "", Destination: "g.node", Data: []byte("x")},
		{Amount: "ten", Destination: "g.node", Data: []byte("x")},
		{Amount: "0", Destination: "", Data: []byte("x")},
		{Amount: "0", Destination: "g.node", Data: nil},
		{Amount: "0", Destination: "g.node", Data: []byte("not an event")},
	} {
		reply := h.HandlePacket(context.Background(), pkt)
		require.NotNil(t, reply.Reject)
		require.Equal(t, rejecterr.CodeBadRequest, reply.Reject.Code)
	}
}

func TestRequestWrongRecipient(t *testing.T) {
	node := testKeyRing(t, "22")
	requester := codec.New(testKeyRing(t, "11"))
	h := New(Config{ILPAddress: "g.node"}, freeOracle(), codec.New(node), &memSink{}, nil, nil)

	// A request addressed to a third party cannot be decrypted here.
	ev, _, err := requester.BuildRequest(testKeyRing(t, "33").Pubkey(), nil)
	util.RequireNoErr(t, err)
	data, err := wire.EncodeEventData(ev)
	util.RequireNoErr(t, err)

	reply := h.HandlePacket(context.Background(), &wire.Packet{
		Amount: "0", Destination: "g.node", Data: data,
	})
	require.NotNil(t, reply.Reject)
	require.Equal(t, rejecterr.CodeBadRequest, reply.Reject.Code)
}

// roundTripRequest sends a request through the handler and parses the
// response event from the requester's side.
func roundTripRequest(t *testing.T, h *Handler, requester *codec.Codec,
	hints *wire.SettlementHints, recipient string) (*wire.SettlementResponse, string) {

	ev, reqID, err := requester.BuildRequest(recipient, hints)
	util.RequireNoErr(t, err)
	data, err := wire.EncodeEventData(ev)
	util.RequireNoErr(t, err)

	reply := h.HandlePacket(context.Background(), &wire.Packet{
		Amount: "0", Destination: "g.node", Data: data,
	})
	require.Nil(t, reply.Reject)
	require.NotNil(t, reply.Accept)
	require.NotEmpty(t, reply.Accept.Data)

	respEv, err := wire.DecodeEventData(reply.Accept.Data)
	util.RequireNoErr(t, err)
	resp, err := requester.ParseResponse(respEv)
	util.RequireNoErr(t, err)
	return resp, reqID
}

func TestRequestWithoutChains(t *testing.T) {
	node := testKeyRing(t, "22")
	requester := codec.New(testKeyRing(t, "11"))
	channels := &fakeChannels{}
	h := New(Config{
		ILPAddress: "g.node",
		Settle: &settle.Config{
			OwnSupportedChains: []string{"evm:base:8453"},
			OwnSettlementAddresses: map[string]string{
				"evm:base:8453": "0xOWN",
			},
		},
	}, freeOracle(), codec.New(node), &memSink{}, channels, nil)

	resp, reqID := roundTripRequest(t, h, requester, nil, node.Pubkey())
	require.Equal(t, reqID, resp.RequestID)
	require.True(t, strings.HasPrefix(resp.DestinationAccount, "g.node.spsp."))
	require.Len(t, strings.TrimPrefix(resp.DestinationAccount, "g.node.spsp."), 16)
	secret, errr := base64.StdEncoding.DecodeString(resp.SharedSecret)
	require.NoError(t, errr)
	require.Len(t, secret, 32)

	// No chain hints, so no negotiation was attempted.
	require.Empty(t, resp.NegotiatedChain)
	require.Empty(t, resp.ChannelID)
	require.Zero(t, channels.opens)
}

func TestRequestNegotiatesChannel(t *testing.T) {
	node := testKeyRing(t, "22")
	requesterKeys := testKeyRing(t, "11")
	requester := codec.New(requesterKeys)
	channels := &fakeChannels{}
	admin := &fakeAdmin{}
	h := New(Config{
		ILPAddress: "g.node",
		Settle: &settle.Config{
			OwnSupportedChains: []string{"evm:base:8453"},
			OwnSettlementAddresses: map[string]string{
				"evm:base:8453": "0xOWN",
			},
			SettlementTimeout: 86400,
		},
	}, freeOracle(), codec.New(node), &memSink{}, channels, admin)

	hints := &wire.SettlementHints{
		ILPAddress:      "g.peer",
		SupportedChains: []string{"evm:base:8453"},
		SettlementAddresses: map[string]string{
			"evm:base:8453": "0xPEER",
		},
	}
	resp, reqID := roundTripRequest(t, h, requester, hints, node.Pubkey())
	require.Equal(t, reqID, resp.RequestID)
	require.Equal(t, "evm:base:8453", resp.NegotiatedChain)
	require.Equal(t, "0xOWN", resp.SettlementAddress)
	require.Equal(t, "0xCH", resp.ChannelID)
	require.Equal(t, int64(86400), resp.SettlementTimeout)
	require.Equal(t, 1, channels.opens)

	// The requester became routable.
	require.Len(t, admin.added, 1)
	require.Equal(t, requesterKeys.Pubkey(), admin.added[0].ID)
	require.Equal(t, "g.peer", admin.added[0].URL)
}

func TestRequestNoCommonChainDegrades(t *testing.T) {
	node := testKeyRing(t, "22")
	requester := codec.New(testKeyRing(t, "11"))
	channels := &fakeChannels{}
	h := New(Config{
		ILPAddress: "g.node",
		Settle: &settle.Config{
			OwnSupportedChains: []string{"evm:base:8453"},
			OwnSettlementAddresses: map[string]string{
				"evm:base:8453": "0xOWN",
			},
		},
	}, freeOracle(), codec.New(node), &memSink{}, channels, nil)

	hints := &wire.SettlementHints{
		SupportedChains: []string{"btc:mainnet"},
		SettlementAddresses: map[string]string{
			"btc:mainnet": "bc1q",
		},
	}
	resp, _ := roundTripRequest(t, h, requester, hints, node.Pubkey())
	require.Empty(t, resp.NegotiatedChain)
	require.NotEmpty(t, resp.DestinationAccount)
	require.Zero(t, channels.opens)
}

func TestRequestNegotiationFailure(t *testing.T) {
	node := testKeyRing(t, "22")
	requester := codec.New(testKeyRing(t, "11"))
	h := New(Config{
		ILPAddress: "g.node",
		Settle: &settle.Config{
			OwnSupportedChains: []string{"evm:base:8453"},
			OwnSettlementAddresses: map[string]string{
				"evm:base:8453": "0xOWN",
			},
		},
	}, freeOracle(), codec.New(node), &memSink{},
		&failingChannels{}, nil)

	hints := &wire.SettlementHints{
		SupportedChains: []string{"evm:base:8453"},
		SettlementAddresses: map[string]string{
			"evm:base:8453": "0xPEER",
		},
	}
	ev, _, err := requester.BuildRequest(node.Pubkey(), hints)
	util.RequireNoErr(t, err)
	data, err := wire.EncodeEventData(ev)
	util.RequireNoErr(t, err)

	reply := h.HandlePacket(context.Background(), &wire.Packet{
		Amount: "0", Destination: "g.node", Data: data,
	})
	require.NotNil(t, reply.Reject)
	require.Equal(t, rejecterr.CodeInternalError, reply.Reject.Code)
}

type failingChannels struct{}

func (failingChannels) OpenChannel(req *rpcclient.OpenChannelRequest) (*rpcclient.Channel, er.R) {
	return nil, rpcclient.ErrServer.New("boom", nil)
}

func (failingChannels) GetChannelState(id string) (*rpcclient.Channel, er.R) {
	return nil, rpcclient.ErrServer.New("boom", nil)
}
