// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package monitor watches the local relay for peer advertisements and
// follow-list updates and feeds newly seen peers into the bootstrap
// handshake pipeline.
package monitor

import (
	"context"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"golang.org/x/time/rate"

	"github.com/coral-colony/corald/bootstrap"
	"github.com/coral-colony/corald/codec"
	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/keychain"
	"github.com/coral-colony/corald/relayclient"
	"github.com/coral-colony/corald/wire"
)

// Err is the error type for monitor failures.
var Err er.ErrorType = er.NewErrorType("monitor.Err")

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = Err.CodeWithDetail("ErrAlreadyStarted",
		"monitor already started")
)

// Config tunes the monitor.
type Config struct {
	// Ignore lists pubkeys the monitor must never handshake with,
	// typically the peers the initial bootstrap run already handled.
	Ignore []string

	// MaxCandidatesPerEvent caps how many new pubkeys one follow-list
	// event may feed into discovery.
	MaxCandidatesPerEvent int

	// HandshakesPerSecond rate-limits handshakes triggered by relay
	// traffic.  Zero means the default.
	HandshakesPerSecond float64

	// LookupWindow bounds how long a candidate lookup waits for stored
	// advertisements.  Zero means the default.
	LookupWindow time.Duration
}

const (
	defaultMaxCandidates       = 10
	defaultHandshakesPerSecond = 1.0
	rateBurst                  = 3
	defaultLookupWindow        = 30 * time.Second
)

// Monitor subscribes to the relay and expands the peer set.
type Monitor struct {
	cfg     Config
	svc     *bootstrap.Service
	relay   *relayclient.Client
	limiter *rate.Limiter

	mtx     sync.Mutex
	started bool
	ignore  map[string]struct{}
	wg      sync.WaitGroup

	// pending holds followed pubkeys whose advertisements were requested
	// but not yet seen.
	pending map[string]struct{}
}

// Handle stops a running monitor.
type Handle struct {
	cancel context.CancelFunc
	subID  string
	m      *Monitor
}

// Unsubscribe stops the relay subscription and cancels in-flight
// handshakes at their next safe point.
func (h *Handle) Unsubscribe() {
	h.cancel()
	if err := h.m.relay.Unsubscribe(h.subID); err != nil {
		log.Debugf("Unsubscribe failed: %s", err.Message())
	}
	h.m.wg.Wait()
}

// New creates a monitor feeding svc's handshake pipeline from relay.
func New(cfg Config, svc *bootstrap.Service, relay *relayclient.Client) *Monitor {
	if cfg.MaxCandidatesPerEvent == 0 {
		cfg.MaxCandidatesPerEvent = defaultMaxCandidates
	}
	hps := cfg.HandshakesPerSecond
	if hps == 0 {
		hps = defaultHandshakesPerSecond
	}
	if cfg.LookupWindow == 0 {
		cfg.LookupWindow = defaultLookupWindow
	}
	ignore := make(map[string]struct{}, len(cfg.Ignore))
	for _, pk := range cfg.Ignore {
		ignore[pk] = struct{}{}
	}
	return &Monitor{
		cfg:     cfg,
		svc:     svc,
		relay:   relay,
		limiter: rate.NewLimiter(rate.Limit(hps), rateBurst),
		ignore:  ignore,
		pending: make(map[string]struct{}),
	}
}

// Start subscribes to advertisement and follow-list kinds and runs
// until the returned handle is unsubscribed.
func (m *Monitor) Start(ctx context.Context) (*Handle, er.R) {
	m.mtx.Lock()
	if m.started {
		m.mtx.Unlock()
		return nil, ErrAlreadyStarted.Default()
	}
	m.started = true
	m.mtx.Unlock()

	subID, errr := uuid.GenerateUUID()
	if errr != nil {
		return nil, er.E(errr)
	}
	ch, err := m.relay.Subscribe(subID, relayclient.Filter{
		Kinds: []int{wire.KindPeerInfo, wire.KindFollows},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx, ch)
	}()
	log.Infof("Relay monitor watching %s", m.relay.URL())
	return &Handle{cancel: cancel, subID: subID, m: m}, nil
}

func (m *Monitor) loop(ctx context.Context, ch <-chan *wire.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev *wire.Event) {
	switch ev.Kind {
	case wire.KindPeerInfo:
		m.handlePeerInfo(ctx, ev)
	case wire.KindFollows:
		m.handleFollows(ctx, ev)
	}
}

func (m *Monitor) skip(pubkey string) bool {
	if pubkey == m.svc.Pubkey() {
		return true
	}
	if _, ok := m.ignore[pubkey]; ok {
		return true
	}
	return m.svc.Handled(pubkey)
}

func (m *Monitor) handlePeerInfo(ctx context.Context, ev *wire.Event) {
	if m.skip(ev.Pubkey) {
		return
	}
	info, err := codec.ParsePeerInfo(ev)
	if err != nil {
		log.Debugf("Ignoring malformed advertisement from %s: %s",
			ev.Pubkey, err.Message())
		return
	}
	m.mtx.Lock()
	delete(m.pending, ev.Pubkey)
	m.mtx.Unlock()

	if errr := m.limiter.Wait(ctx); errr != nil {
		return
	}
	// Re-check after the wait, another task may have raced us here.
	if m.svc.Handled(ev.Pubkey) {
		return
	}
	log.Infof("Discovered peer %s via relay", ev.Pubkey)
	m.svc.HandshakePeer(ctx, wire.KnownPeer{
		Pubkey:      ev.Pubkey,
		ILPAddress:  info.ILPAddress,
		BTPEndpoint: info.BTPEndpoint,
	})
}

// handleFollows expands the candidate set by the followed pubkeys and
// asks the relay for their advertisements.  The handshake itself only
// happens once an advertisement arrives through handlePeerInfo.
func (m *Monitor) handleFollows(ctx context.Context, ev *wire.Event) {
	var candidates []string
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		pk := tag[1]
		if !keychain.ValidPubkeyHex(pk) || m.skip(pk) {
			continue
		}
		m.mtx.Lock()
		_, alreadyPending := m.pending[pk]
		if !alreadyPending {
			m.pending[pk] = struct{}{}
		}
		m.mtx.Unlock()
		if alreadyPending {
			continue
		}
		candidates = append(candidates, pk)
		if len(candidates) >= m.cfg.MaxCandidatesPerEvent {
			break
		}
	}
	if len(candidates) == 0 {
		return
	}
	log.Debugf("Follow list from %s added %d candidates", ev.Pubkey, len(candidates))

	subID, errr := uuid.GenerateUUID()
	if errr != nil {
		return
	}
	lookupCh, err := m.relay.Subscribe(subID, relayclient.Filter{
		Kinds:   []int{wire.KindPeerInfo},
		Authors: candidates,
		Limit:   len(candidates),
	})
	if err != nil {
		log.Debugf("Candidate lookup failed: %s", err.Message())
		return
	}
	m.wg.Add(1)
	go m.lookupLoop(ctx, subID, lookupCh, candidates)
}

// lookupLoop drains one candidate-lookup subscription: every stored
// advertisement it yields goes through the normal peer-info path.
// Candidates whose advertisement never arrived leave the pending set on
// exit so a later follow list can request them again.
func (m *Monitor) lookupLoop(ctx context.Context, subID string,
	ch <-chan *wire.Event, candidates []string) {

	defer m.wg.Done()
	defer func() {
		m.mtx.Lock()
		for _, pk := range candidates {
			delete(m.pending, pk)
		}
		m.mtx.Unlock()
	}()
	defer func() {
		if err := m.relay.Unsubscribe(subID); err != nil {
			log.Debugf("Unsubscribe %s failed: %s", subID, err.Message())
		}
	}()

	want := len(candidates)
	timer := time.NewTimer(m.cfg.LookupWindow)
	defer timer.Stop()
	for seen := 0; seen < want; {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			seen++
			if ev.Kind == wire.KindPeerInfo {
				m.handlePeerInfo(ctx, ev)
			}
		}
	}
}
