// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bootstrap brings the node from init to ready: it assembles
// the initial peer set, runs settlement handshakes against each peer,
// registers the survivors with the packet router and announces the node
// so future peers can find it.
package bootstrap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dchest/blake2b"
	"github.com/emirpasic/gods/maps/linkedhashmap"
	jsoniter "github.com/json-iterator/go"
	"github.com/tv42/zbase32"

	"github.com/coral-colony/corald/codec"
	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/coralutil/util/mailbox"
	"github.com/coral-colony/corald/coralutil/workqueue"
	"github.com/coral-colony/corald/directory"
	"github.com/coral-colony/corald/keychain"
	"github.com/coral-colony/corald/metrics"
	"github.com/coral-colony/corald/pricing"
	"github.com/coral-colony/corald/relayclient"
	"github.com/coral-colony/corald/rpcclient"
	"github.com/coral-colony/corald/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Err is the error type for bootstrap failures.
var Err er.ErrorType = er.NewErrorType("bootstrap.Err")

var (
	// ErrAlreadyRunning is returned when Bootstrap is invoked more than
	// once on the same service.
	ErrAlreadyRunning = Err.CodeWithDetail("ErrAlreadyRunning",
		"bootstrap already ran")

	// ErrNoRoute is a handshake failure for a peer with no known routing
	// address.
	ErrNoRoute = Err.CodeWithDetail("ErrNoRoute",
		"peer has no routing address")

	// ErrHandshakeRejected is a handshake failure for a packet the peer
	// rejected.
	ErrHandshakeRejected = Err.CodeWithDetail("ErrHandshakeRejected",
		"handshake packet rejected")

	// ErrBadResponse is a handshake failure for a response which does not
	// correlate with the request.
	ErrBadResponse = Err.CodeWithDetail("ErrBadResponse",
		"handshake response does not match request")

	// ErrBadPeerList is returned when the additional peers JSON cannot be
	// decoded.
	ErrBadPeerList = Err.CodeWithDetail("ErrBadPeerList",
		"malformed additional peer list")

	// ErrNotWired is a handshake failure when the runtime or admin
	// collaborator was never configured.
	ErrNotWired = Err.CodeWithDetail("ErrNotWired",
		"packet runtime or connector admin not configured")
)

// EventSink is where the genesis self-announcement is stored.
type EventSink interface {
	Put(ev *wire.Event) er.R
}

// Config is the construction-time configuration of the service.
type Config struct {
	// Seeds is the static seed peer list.
	Seeds []wire.KnownPeer

	// LocalInfo is this node's own advertisement.
	LocalInfo *wire.PeerInfo

	// DirectoryEnabled switches the directory lookup on.  Resolver must
	// be set when it is.
	DirectoryEnabled bool
	Resolver         directory.Resolver

	// BTPSecret keys the per-peer transport auth token derivation.
	BTPSecret string

	// AnnounceToPeers publishes the local advertisement to each
	// discovered peer's relay in addition to the local store.
	AnnounceToPeers bool

	WorkerCount int
	SendTimeout time.Duration

	ChannelOpenTimeout time.Duration
	PollInterval       time.Duration
}

// Deps are the external collaborators, injected so the service is
// testable.  Channels may be nil when the node does not settle
// on-chain.
type Deps struct {
	Runtime  rpcclient.Runtime
	Admin    rpcclient.ConnectorAdmin
	Channels rpcclient.ChannelService
	Store    EventSink
}

// Outcome tags one per-peer handshake result.
type Outcome string

const (
	OutcomeRegistered Outcome = "registered"
	OutcomeFailed     Outcome = "failed"
)

// Result is the per-peer outcome of one handshake attempt.
type Result struct {
	Peer      wire.KnownPeer
	Outcome   Outcome
	ChannelID string
	Err       er.R
}

const (
	defaultSendTimeout        = 30 * time.Second
	defaultChannelOpenTimeout = 30 * time.Second
	defaultPollInterval       = 500 * time.Millisecond
	announceDialTimeout       = 10 * time.Second
)

// Service is the bootstrap service.  One per process; Bootstrap may be
// called once.
type Service struct {
	cfg    Config
	deps   Deps
	cdc    *codec.Codec
	oracle *pricing.Oracle

	phase mailbox.Mailbox[Phase]

	listenerMtx sync.Mutex
	listeners   []Listener
	emitMtx     sync.Mutex

	running int32

	peerCount    int64
	channelCount int64

	handledMtx sync.Mutex
	handled    map[string]struct{}
	discovered map[string]struct{}
}

// New creates the service in phase init.
func New(cfg Config, deps Deps, cdc *codec.Codec, oracle *pricing.Oracle) *Service {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.ChannelOpenTimeout == 0 {
		cfg.ChannelOpenTimeout = defaultChannelOpenTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Service{
		cfg:     cfg,
		deps:    deps,
		cdc:     cdc,
		oracle:  oracle,
		phase:      mailbox.NewMailbox(PhaseInit),
		handled:    make(map[string]struct{}),
		discovered: make(map[string]struct{}),
	}
}

// Subscribe registers a listener for bootstrap events.  Listeners are
// invoked synchronously in subscription order; a panicking listener is
// logged and skipped.
func (s *Service) Subscribe(l Listener) {
	s.listenerMtx.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMtx.Unlock()
}

func (s *Service) emit(ev Event) {
	s.listenerMtx.Lock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.listenerMtx.Unlock()

	// Serialized so listeners observe events in enqueue order.
	s.emitMtx.Lock()
	defer s.emitMtx.Unlock()
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Bootstrap listener panicked on %s: %v", ev.Type, r)
				}
			}()
			l(ev)
		}()
	}
}

// setPhase advances the lifecycle.  Phases never move backwards.
func (s *Service) setPhase(p Phase) {
	cur := s.phase.Load()
	if p <= cur {
		return
	}
	s.phase.Store(p)
	metrics.BootstrapPhase.Set(float64(p))
	log.Infof("Bootstrap phase %s", p)
	s.emit(Event{Type: EventPhaseChange, Phase: p})
}

// Phase returns the current lifecycle phase.
func (s *Service) Phase() Phase {
	return s.phase.Load()
}

// Pubkey returns the node's own public key.
func (s *Service) Pubkey() string {
	return s.cdc.Pubkey()
}

// AwaitPhase blocks until the given phase (or a later one) is reached.
func (s *Service) AwaitPhase(ctx context.Context, p Phase) bool {
	_, ok := s.phase.AwaitTrueCtx(ctx, func(cur Phase) bool {
		return cur >= p
	})
	return ok
}

// Counts returns the registered peer and opened channel counters.
func (s *Service) Counts() (peers, channels int64) {
	return atomic.LoadInt64(&s.peerCount), atomic.LoadInt64(&s.channelCount)
}

// Handled reports whether a pubkey was already processed by this
// service, either during the initial run or through the monitor.
func (s *Service) Handled(pubkey string) bool {
	s.handledMtx.Lock()
	defer s.handledMtx.Unlock()
	_, ok := s.handled[pubkey]
	return ok
}

func (s *Service) markHandled(pubkey string) bool {
	s.handledMtx.Lock()
	defer s.handledMtx.Unlock()
	if _, ok := s.handled[pubkey]; ok {
		return false
	}
	s.handled[pubkey] = struct{}{}
	return true
}

// markDiscovered reports whether pubkey is newly seen, so each peer is
// announced as discovered exactly once no matter which path found it.
func (s *Service) markDiscovered(pubkey string) bool {
	s.handledMtx.Lock()
	defer s.handledMtx.Unlock()
	if _, ok := s.discovered[pubkey]; ok {
		return false
	}
	s.discovered[pubkey] = struct{}{}
	return true
}

// Bootstrap runs the single bootstrap pass: discover, announce,
// handshake, ready.  Per-peer failures never abort the run; the
// returned slice holds one result per attempted peer.
func (s *Service) Bootstrap(ctx context.Context, additionalPeersJSON string) ([]Result, er.R) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil, ErrAlreadyRunning.Default()
	}

	s.setPhase(PhaseDiscovering)
	peers, err := s.discoverPeers(additionalPeersJSON)
	if err != nil {
		s.phase.Store(PhaseFailed)
		metrics.BootstrapPhase.Set(float64(PhaseFailed))
		s.emit(Event{Type: EventPhaseChange, Phase: PhaseFailed})
		return nil, err
	}
	log.Infof("Discovered %d peers", len(peers))

	s.setPhase(PhaseAnnouncing)
	s.announce(ctx, peers)

	var results []Result
	if len(peers) > 0 {
		s.setPhase(PhaseHandshaking)
		results = s.handshakeAll(ctx, peers)
	}

	s.setPhase(PhaseReady)
	peerCount, channelCount := s.Counts()
	s.emit(Event{
		Type:         EventReady,
		Phase:        PhaseReady,
		PeerCount:    peerCount,
		ChannelCount: channelCount,
	})
	log.Infof("Bootstrap complete: %d peers, %d channels", peerCount, channelCount)
	return results, nil
}

// discoverPeers unions the seed list, the optional JSON list and the
// directory.  Duplicates keyed by pubkey collapse to the first-seen
// entry.
func (s *Service) discoverPeers(additionalPeersJSON string) ([]wire.KnownPeer, er.R) {
	set := linkedhashmap.New()
	add := func(p wire.KnownPeer, origin string) {
		if !keychain.ValidPubkeyHex(p.Pubkey) {
			log.Warnf("Skipping %s peer with invalid pubkey %q", origin, p.Pubkey)
			return
		}
		if p.Pubkey == s.cdc.Pubkey() {
			return
		}
		if _, ok := set.Get(p.Pubkey); ok {
			return
		}
		set.Put(p.Pubkey, p)
	}

	for _, p := range s.cfg.Seeds {
		add(p, "seed")
	}
	if additionalPeersJSON != "" {
		var extra []wire.KnownPeer
		if errr := json.Unmarshal([]byte(additionalPeersJSON), &extra); errr != nil {
			return nil, ErrBadPeerList.New(errr.Error(), nil)
		}
		for _, p := range extra {
			add(p, "configured")
		}
	}
	if s.cfg.DirectoryEnabled && s.cfg.Resolver != nil {
		found, err := s.cfg.Resolver.Resolve()
		if err != nil {
			// Directory trouble degrades discovery, it does not fail it.
			log.Warnf("Directory lookup failed: %s", err.Message())
		}
		for _, p := range found {
			add(p, "directory")
		}
	}

	out := make([]wire.KnownPeer, 0, set.Size())
	it := set.Iterator()
	for it.Next() {
		p := it.Value().(wire.KnownPeer)
		out = append(out, p)
		if s.markDiscovered(p.Pubkey) {
			s.emit(Event{Type: EventPeerDiscovered, Phase: s.Phase(), Peer: &p})
		}
	}
	return out, nil
}

// announce publishes the local advertisement.  A genesis node (empty
// peer set) stores it locally so the relay can serve it to future
// peers; otherwise it is optionally published to each peer's relay.
func (s *Service) announce(ctx context.Context, peers []wire.KnownPeer) {
	ev, err := s.cdc.BuildPeerInfo(s.cfg.LocalInfo)
	if err != nil {
		log.Errorf("Failed to build own advertisement: %s", err.String())
		s.emit(Event{Type: EventAnnounceFailed, Phase: s.Phase(), Reason: err.Message()})
		return
	}

	if len(peers) == 0 {
		log.Infof("No peers discovered, announcing as genesis node")
		if err := s.deps.Store.Put(ev); err != nil {
			log.Errorf("Failed to store own advertisement: %s", err.String())
			s.emit(Event{Type: EventAnnounceFailed, Phase: s.Phase(), Reason: err.Message()})
			return
		}
		s.emit(Event{Type: EventAnnounced, Phase: s.Phase()})
		return
	}

	if !s.cfg.AnnounceToPeers {
		return
	}
	announced := false
	for i := range peers {
		p := peers[i]
		if p.RelayURL == "" {
			continue
		}
		if err := s.announceTo(ctx, p.RelayURL, ev); err != nil {
			log.Warnf("Announce to %s failed: %s", p.RelayURL, err.Message())
			s.emit(Event{
				Type:   EventAnnounceFailed,
				Phase:  s.Phase(),
				Peer:   &p,
				Reason: err.Message(),
			})
			continue
		}
		announced = true
	}
	if announced {
		s.emit(Event{Type: EventAnnounced, Phase: s.Phase()})
	}
}

func (s *Service) announceTo(ctx context.Context, relayURL string, ev *wire.Event) er.R {
	dialCtx, cancel := context.WithTimeout(ctx, announceDialTimeout)
	defer cancel()
	rc, err := relayclient.Dial(dialCtx, relayURL)
	if err != nil {
		return err
	}
	defer rc.Close()
	return rc.Publish(ev)
}

// handshakeAll fans the handshake out over a bounded worker pool and
// emits the per-peer outcome events.
func (s *Service) handshakeAll(ctx context.Context, peers []wire.KnownPeer) []Result {
	results := make([]Result, len(peers))
	wq := workqueue.New(s.cfg.WorkerCount, len(peers), func(key int) er.R {
		results[key] = s.HandshakePeer(ctx, peers[key])
		return results[key].Err
	})
	wq.Wait()
	return results
}

// HandshakePeer runs the full handshake pipeline against one peer:
// send the encrypted request over the packet runtime, parse the
// piggy-backed response, wait for any opened channel and register the
// peer with the packet router.  Used by both the bootstrap run and the
// relay monitor.
func (s *Service) HandshakePeer(ctx context.Context, peer wire.KnownPeer) Result {
	res := Result{Peer: peer, Outcome: OutcomeFailed}
	if s.markDiscovered(peer.Pubkey) {
		// First sight of this peer, typically via the relay monitor.
		s.emit(Event{Type: EventPeerDiscovered, Phase: s.Phase(), Peer: &peer})
	}
	s.markHandled(peer.Pubkey)

	channelID, err := s.handshake(ctx, &peer)
	if err != nil {
		res.Err = err
		metrics.Handshakes.WithLabelValues("failed").Inc()
		log.Warnf("Handshake with %s failed: %s", peer.Pubkey, err.Message())
		s.emit(Event{
			Type:   EventHandshakeFailed,
			Phase:  s.Phase(),
			Peer:   &peer,
			Reason: err.Message(),
		})
		return res
	}
	res.Outcome = OutcomeRegistered
	res.ChannelID = channelID
	metrics.Handshakes.WithLabelValues("registered").Inc()
	return res
}

func (s *Service) handshake(ctx context.Context, peer *wire.KnownPeer) (string, er.R) {

	if s.deps.Runtime == nil || s.deps.Admin == nil {
		return "", ErrNotWired.Default()
	}
	if peer.ILPAddress == "" {
		return "", ErrNoRoute.New(peer.Pubkey, nil)
	}

	info := s.cfg.LocalInfo
	hints := &wire.SettlementHints{
		ILPAddress:          info.ILPAddress,
		SupportedChains:     info.SupportedChains,
		SettlementAddresses: info.SettlementAddresses,
		PreferredTokens:     info.PreferredTokens,
		TokenNetworks:       info.TokenNetworks,
	}
	ev, reqID, err := s.cdc.BuildRequest(peer.Pubkey, hints)
	if err != nil {
		return "", err
	}
	data, err := wire.EncodeEventData(ev)
	if err != nil {
		return "", err
	}
	amount := s.oracle.Price(len(data), wire.KindSettlementRequest)

	reply, err := s.deps.Runtime.SendIlpPacket(&rpcclient.SendPacketRequest{
		Destination: peer.ILPAddress,
		Amount:      amount.String(),
		Data:        data,
		Timeout:     s.cfg.SendTimeout,
	})
	if err != nil {
		return "", err
	}
	if !reply.Accepted {
		return "", ErrHandshakeRejected.New(reply.Code+": "+reply.Message, nil)
	}

	respEv, err := wire.DecodeEventData(reply.Data)
	if err != nil {
		return "", err
	}
	resp, err := s.cdc.ParseResponse(respEv)
	if err != nil {
		return "", err
	}
	if resp.RequestID != reqID {
		return "", ErrBadResponse.New("request id mismatch", nil)
	}

	channelID := ""
	if resp.ChannelID != "" && s.deps.Channels != nil {
		if _, err := rpcclient.AwaitOpen(ctx, s.deps.Channels, resp.ChannelID,
			s.cfg.PollInterval, s.cfg.ChannelOpenTimeout); err != nil {
			return "", err
		}
		channelID = resp.ChannelID
		atomic.AddInt64(&s.channelCount, 1)
		metrics.ChannelsOpened.Inc()
		s.emit(Event{
			Type:      EventChannelOpened,
			Phase:     s.Phase(),
			Peer:      peer,
			ChannelID: channelID,
		})
		log.Infof("Channel %s open with peer %s on %s",
			channelID, peer.Pubkey, resp.NegotiatedChain)
	}

	if err := s.registerPeer(peer); err != nil {
		return "", err
	}
	atomic.AddInt64(&s.peerCount, 1)
	s.emit(Event{Type: EventPeerRegistered, Phase: s.Phase(), Peer: peer})
	return channelID, nil
}

// registerPeer makes the peer routable.  Duplicate registration is
// success; the admin is idempotent on identical payloads.
func (s *Service) registerPeer(peer *wire.KnownPeer) er.R {
	err := s.deps.Admin.AddPeer(&rpcclient.AddPeerRequest{
		ID:        peer.Pubkey,
		URL:       peer.BTPEndpoint,
		AuthToken: s.btpAuthToken(peer.Pubkey),
		Routes:    []rpcclient.Route{{Prefix: peer.ILPAddress}},
	})
	if err != nil && !rpcclient.ErrAlreadyExists.Is(err) {
		return err
	}
	return nil
}

// DeregisterPeer removes a peer from the packet router.  The counters
// are left alone; they only ever grow during a run.
func (s *Service) DeregisterPeer(pubkey string) er.R {
	if err := s.deps.Admin.RemovePeer(pubkey); err != nil {
		return err
	}
	s.emit(Event{
		Type:  EventPeerDeregister,
		Phase: s.Phase(),
		Peer:  &wire.KnownPeer{Pubkey: pubkey},
	})
	return nil
}

// btpAuthToken derives a stable transport auth token for a peer from
// the configured secret.  Without a secret the token is empty and the
// transport side is expected to run open.
func (s *Service) btpAuthToken(pubkey string) string {
	if s.cfg.BTPSecret == "" {
		return ""
	}
	mac := blake2b.NewMAC(16, []byte(s.cfg.BTPSecret))
	mac.Write([]byte(pubkey))
	return zbase32.EncodeToString(mac.Sum(nil))
}
