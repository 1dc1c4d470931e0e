package bootstrap

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coral-colony/corald/codec"
	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/coralutil/util"
	"github.com/coral-colony/corald/keychain"
	"github.com/coral-colony/corald/pricing"
	"github.com/coral-colony/corald/rpcclient"
	"github.com/coral-colony/corald/wire"
)

type memSink struct {
	mtx    sync.Mutex
	events []*wire.Event
}

func (m *memSink) Put(ev *wire.Event) er.R {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memSink) all() []*wire.Event {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]*wire.Event(nil), m.events...)
}

type fakeAdmin struct {
	mtx     sync.Mutex
	added   []*rpcclient.AddPeerRequest
	removed []string
	fail    er.R
}

func (f *fakeAdmin) AddPeer(req *rpcclient.AddPeerRequest) er.R {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.added = append(f.added, req)
	return nil
}

func (f *fakeAdmin) RemovePeer(peerID string) er.R {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.removed = append(f.removed, peerID)
	return nil
}

// peerRuntime plays the remote peer: it parses the handshake request
// and answers with a well formed response event.
type peerRuntime struct {
	cdc *codec.Codec

	// nodePubkey is who the response is addressed to.
	nodePubkey string

	// channelID, when set, is included in the response.
	channelID string

	// reject, when set, refuses the packet outright.
	reject bool

	// wrongRequestID breaks request correlation on purpose.
	wrongRequestID bool

	mtx   sync.Mutex
	sends int
}

func (p *peerRuntime) SendIlpPacket(req *rpcclient.SendPacketRequest) (*rpcclient.SendPacketResult, er.R) {
	p.mtx.Lock()
	p.sends++
	p.mtx.Unlock()
	if p.reject {
		return &rpcclient.SendPacketResult{Code: "F06", Message: "pay up"}, nil
	}

	ev, err := wire.DecodeEventData(req.Data)
	if err != nil {
		return nil, err
	}
	parsed, err := p.cdc.ParseRequest(ev)
	if err != nil {
		return nil, err
	}
	reqID := parsed.RequestID
	if p.wrongRequestID {
		reqID = "someone-elses-request"
	}
	respEv, err := p.cdc.BuildResponse(&wire.SettlementResponse{
		RequestID:          reqID,
		DestinationAccount: "g.peer.spsp.0123456789abcdef",
		SharedSecret:       "c2VjcmV0c2VjcmV0c2VjcmV0c2VjcmV0c2VjcmV0cw==",
		ChannelID:          p.channelID,
	}, p.nodePubkey, ev.ID)
	if err != nil {
		return nil, err
	}
	data, err := wire.EncodeEventData(respEv)
	if err != nil {
		return nil, err
	}
	return &rpcclient.SendPacketResult{Accepted: true, Data: data}, nil
}

type openChannels struct{}

func (openChannels) OpenChannel(req *rpcclient.OpenChannelRequest) (*rpcclient.Channel, er.R) {
	return &rpcclient.Channel{ChannelID: "0xCH", Status: rpcclient.ChannelOpen}, nil
}

func (openChannels) GetChannelState(id string) (*rpcclient.Channel, er.R) {
	return &rpcclient.Channel{ChannelID: id, Status: rpcclient.ChannelOpen}, nil
}

func testKeyRing(t *testing.T, b string) *keychain.KeyRing {
	kr, err := keychain.NewKeyRing(strings.Repeat(b, 32))
	util.RequireNoErr(t, err)
	return kr
}

func testOracle() *pricing.Oracle {
	return pricing.New(pricing.Policy{BasePricePerByte: big.NewInt(1)})
}

func testInfo() *wire.PeerInfo {
	return &wire.PeerInfo{
		ILPAddress:  "g.node",
		BTPEndpoint: "btp+ws://node:7443",
		AssetCode:   "USD",
	}
}

// recorder collects bootstrap events synchronously.
type recorder struct {
	mtx    sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(typ EventType) []Event {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) phases() []Phase {
	var out []Phase
	for _, ev := range r.ofType(EventPhaseChange) {
		out = append(out, ev.Phase)
	}
	return out
}

func TestGenesisBootstrap(t *testing.T) {
	node := testKeyRing(t, "11")
	store := &memSink{}
	svc := New(Config{LocalInfo: testInfo()},
		Deps{Store: store}, codec.New(node), testOracle())
	rec := &recorder{}
	svc.Subscribe(rec.listen)

	results, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)
	require.Empty(t, results)
	require.Equal(t, PhaseReady, svc.Phase())

	// The advertisement was stored locally for future peers.
	events := store.all()
	require.Len(t, events, 1)
	require.Equal(t, wire.KindPeerInfo, events[0].Kind)
	require.Equal(t, node.Pubkey(), events[0].Pubkey)

	// No peers means the handshaking phase is skipped entirely.
	require.Equal(t, []Phase{
		PhaseDiscovering, PhaseAnnouncing, PhaseReady,
	}, rec.phases())

	peers, channels := svc.Counts()
	require.Zero(t, peers)
	require.Zero(t, channels)
}

func TestBootstrapOnlyRunsOnce(t *testing.T) {
	node := testKeyRing(t, "11")
	svc := New(Config{LocalInfo: testInfo()},
		Deps{Store: &memSink{}}, codec.New(node), testOracle())

	_, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)
	_, err = svc.Bootstrap(context.Background(), "")
	util.CheckError(t, "second run", err, ErrAlreadyRunning)
}

func TestBootstrapBadPeerList(t *testing.T) {
	node := testKeyRing(t, "11")
	svc := New(Config{LocalInfo: testInfo()},
		Deps{Store: &memSink{}}, codec.New(node), testOracle())

	_, err := svc.Bootstrap(context.Background(), "{not json")
	util.CheckError(t, "bad peer list", err, ErrBadPeerList)
	require.Equal(t, PhaseFailed, svc.Phase())
}

func TestBootstrapHandshake(t *testing.T) {
	node := testKeyRing(t, "11")
	peerKeys := testKeyRing(t, "22")
	runtime := &peerRuntime{
		cdc:        codec.New(peerKeys),
		nodePubkey: node.Pubkey(),
		channelID:  "0xCH",
	}
	admin := &fakeAdmin{}
	store := &memSink{}
	svc := New(Config{
		Seeds: []wire.KnownPeer{{
			Pubkey:      peerKeys.Pubkey(),
			ILPAddress:  "g.peer",
			BTPEndpoint: "btp+ws://peer:7443",
		}},
		LocalInfo:    testInfo(),
		BTPSecret:    "hunter2",
		PollInterval: time.Millisecond,
	}, Deps{
		Runtime:  runtime,
		Admin:    admin,
		Channels: openChannels{},
		Store:    store,
	}, codec.New(node), testOracle())
	rec := &recorder{}
	svc.Subscribe(rec.listen)

	results, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)
	require.Len(t, results, 1)
	require.Equal(t, OutcomeRegistered, results[0].Outcome)
	require.Equal(t, "0xCH", results[0].ChannelID)
	require.Equal(t, PhaseReady, svc.Phase())

	peers, channels := svc.Counts()
	require.EqualValues(t, 1, peers)
	require.EqualValues(t, 1, channels)
	require.True(t, svc.Handled(peerKeys.Pubkey()))

	require.Len(t, rec.ofType(EventPeerRegistered), 1)
	require.Len(t, rec.ofType(EventChannelOpened), 1)
	require.Equal(t, []Phase{
		PhaseDiscovering, PhaseAnnouncing, PhaseHandshaking, PhaseReady,
	}, rec.phases())

	// The peer was registered with the derived transport token.
	require.Len(t, admin.added, 1)
	require.Equal(t, peerKeys.Pubkey(), admin.added[0].ID)
	require.Equal(t, "btp+ws://peer:7443", admin.added[0].URL)
	require.NotEmpty(t, admin.added[0].AuthToken)
	require.Equal(t, []rpcclient.Route{{Prefix: "g.peer"}}, admin.added[0].Routes)
}

func TestBootstrapHandshakeRejected(t *testing.T) {
	node := testKeyRing(t, "11")
	peerKeys := testKeyRing(t, "22")
	runtime := &peerRuntime{
		cdc:        codec.New(peerKeys),
		nodePubkey: node.Pubkey(),
		reject:     true,
	}
	svc := New(Config{
		Seeds: []wire.KnownPeer{{
			Pubkey:     peerKeys.Pubkey(),
			ILPAddress: "g.peer",
		}},
		LocalInfo: testInfo(),
	}, Deps{
		Runtime: runtime,
		Admin:   &fakeAdmin{},
		Store:   &memSink{},
	}, codec.New(node), testOracle())
	rec := &recorder{}
	svc.Subscribe(rec.listen)

	results, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)
	require.Len(t, results, 1)
	require.Equal(t, OutcomeFailed, results[0].Outcome)
	util.CheckError(t, "peer rejected", results[0].Err, ErrHandshakeRejected)

	// A failed handshake never aborts the run.
	require.Equal(t, PhaseReady, svc.Phase())
	require.Len(t, rec.ofType(EventHandshakeFailed), 1)
	peers, _ := svc.Counts()
	require.Zero(t, peers)
}

func TestBootstrapBadCorrelation(t *testing.T) {
	node := testKeyRing(t, "11")
	peerKeys := testKeyRing(t, "22")
	runtime := &peerRuntime{
		cdc:            codec.New(peerKeys),
		nodePubkey:     node.Pubkey(),
		wrongRequestID: true,
	}
	svc := New(Config{
		Seeds: []wire.KnownPeer{{
			Pubkey:     peerKeys.Pubkey(),
			ILPAddress: "g.peer",
		}},
		LocalInfo: testInfo(),
	}, Deps{
		Runtime: runtime,
		Admin:   &fakeAdmin{},
		Store:   &memSink{},
	}, codec.New(node), testOracle())

	results, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)
	require.Len(t, results, 1)
	util.CheckError(t, "mismatched response", results[0].Err, ErrBadResponse)
}

func TestBootstrapPeerWithoutRoute(t *testing.T) {
	node := testKeyRing(t, "11")
	peerKeys := testKeyRing(t, "22")
	svc := New(Config{
		Seeds:     []wire.KnownPeer{{Pubkey: peerKeys.Pubkey()}},
		LocalInfo: testInfo(),
	}, Deps{
		Runtime: &peerRuntime{cdc: codec.New(peerKeys), nodePubkey: node.Pubkey()},
		Admin:   &fakeAdmin{},
		Store:   &memSink{},
	}, codec.New(node), testOracle())

	results, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)
	require.Len(t, results, 1)
	util.CheckError(t, "no route", results[0].Err, ErrNoRoute)
}

func TestBootstrapDuplicateRegistrationIsSuccess(t *testing.T) {
	node := testKeyRing(t, "11")
	peerKeys := testKeyRing(t, "22")
	svc := New(Config{
		Seeds: []wire.KnownPeer{{
			Pubkey:     peerKeys.Pubkey(),
			ILPAddress: "g.peer",
		}},
		LocalInfo: testInfo(),
	}, Deps{
		Runtime: &peerRuntime{cdc: codec.New(peerKeys), nodePubkey: node.Pubkey()},
		Admin:   &fakeAdmin{fail: rpcclient.ErrAlreadyExists.Default()},
		Store:   &memSink{},
	}, codec.New(node), testOracle())

	results, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)
	require.Len(t, results, 1)
	require.Equal(t, OutcomeRegistered, results[0].Outcome)
}

func TestDiscoverDedupeAndValidation(t *testing.T) {
	node := testKeyRing(t, "11")
	peerKeys := testKeyRing(t, "22")
	svc := New(Config{
		Seeds: []wire.KnownPeer{
			{Pubkey: peerKeys.Pubkey(), ILPAddress: "g.first"},
			{Pubkey: "not a pubkey"},
			{Pubkey: node.Pubkey()},
		},
		LocalInfo: testInfo(),
	}, Deps{Store: &memSink{}}, codec.New(node), testOracle())

	// The configured list repeats the seed; first-seen wins.
	extra := `[{"pubkey":"` + peerKeys.Pubkey() + `","ilpAddress":"g.second"}]`
	peers, err := svc.discoverPeers(extra)
	util.RequireNoErr(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "g.first", peers[0].ILPAddress)
}

func TestHandshakePeerEmitsDiscovered(t *testing.T) {
	node := testKeyRing(t, "11")
	peerKeys := testKeyRing(t, "22")
	svc := New(Config{LocalInfo: testInfo()}, Deps{
		Runtime: &peerRuntime{cdc: codec.New(peerKeys), nodePubkey: node.Pubkey()},
		Admin:   &fakeAdmin{},
		Store:   &memSink{},
	}, codec.New(node), testOracle())
	rec := &recorder{}
	svc.Subscribe(rec.listen)

	// A peer arriving outside the bootstrap run, the relay monitor path,
	// is announced as discovered before its handshake.
	peer := wire.KnownPeer{Pubkey: peerKeys.Pubkey(), ILPAddress: "g.peer"}
	res := svc.HandshakePeer(context.Background(), peer)
	require.Equal(t, OutcomeRegistered, res.Outcome)

	discovered := rec.ofType(EventPeerDiscovered)
	require.Len(t, discovered, 1)
	require.Equal(t, peerKeys.Pubkey(), discovered[0].Peer.Pubkey)

	// A second attempt for the same peer does not re-announce it.
	svc.HandshakePeer(context.Background(), peer)
	require.Len(t, rec.ofType(EventPeerDiscovered), 1)
}

func TestBootstrapPeerDiscoveredOnce(t *testing.T) {
	node := testKeyRing(t, "11")
	peerKeys := testKeyRing(t, "22")
	svc := New(Config{
		Seeds: []wire.KnownPeer{{
			Pubkey:     peerKeys.Pubkey(),
			ILPAddress: "g.peer",
		}},
		LocalInfo: testInfo(),
	}, Deps{
		Runtime: &peerRuntime{cdc: codec.New(peerKeys), nodePubkey: node.Pubkey()},
		Admin:   &fakeAdmin{},
		Store:   &memSink{},
	}, codec.New(node), testOracle())
	rec := &recorder{}
	svc.Subscribe(rec.listen)

	_, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)

	// Discovery announces the seed once; the handshake that follows must
	// not announce it again.
	require.Len(t, rec.ofType(EventPeerDiscovered), 1)
}

func TestDeregisterPeer(t *testing.T) {
	node := testKeyRing(t, "11")
	admin := &fakeAdmin{}
	svc := New(Config{LocalInfo: testInfo()},
		Deps{Admin: admin, Store: &memSink{}}, codec.New(node), testOracle())
	rec := &recorder{}
	svc.Subscribe(rec.listen)

	util.RequireNoErr(t, svc.DeregisterPeer("pk"))
	require.Equal(t, []string{"pk"}, admin.removed)
	require.Len(t, rec.ofType(EventPeerDeregister), 1)
}

func TestAwaitPhase(t *testing.T) {
	node := testKeyRing(t, "11")
	svc := New(Config{LocalInfo: testInfo()},
		Deps{Store: &memSink{}}, codec.New(node), testOracle())

	done := make(chan bool, 1)
	go func() {
		done <- svc.AwaitPhase(context.Background(), PhaseReady)
	}()
	_, err := svc.Bootstrap(context.Background(), "")
	util.RequireNoErr(t, err)
	require.True(t, <-done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, svc.AwaitPhase(ctx, PhaseFailed))
}
