// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package settle negotiates a settlement rail with a requesting peer
// and drives the channel open state machine against the local channel
// service.
package settle

import (
	"context"
	"time"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/rpcclient"
	"github.com/coral-colony/corald/wire"
)

// Err is the error type for negotiation failures.  A failed negotiation
// is distinct from "no match", which is not an error.
var Err er.ErrorType = er.NewErrorType("settle.Err")

var (
	// ErrOpenFailed is returned when the channel service rejected or
	// failed the open request.
	ErrOpenFailed = Err.CodeWithDetail("ErrOpenFailed",
		"channel open failed")

	// ErrNotOpen is returned when the channel did not reach the open
	// state: timeout, terminal state or cancellation.
	ErrNotOpen = Err.CodeWithDetail("ErrNotOpen",
		"channel did not open")
)

// Config is the local settlement configuration.
type Config struct {
	// OwnSupportedChains is the ordered list of rails this node can
	// settle on.
	OwnSupportedChains     []string
	OwnSettlementAddresses map[string]string
	OwnPreferredTokens     map[string]string
	OwnTokenNetworks       map[string]string

	// InitialDeposit is an unsigned decimal amount, "0" when empty.
	InitialDeposit string

	// SettlementTimeout is the channel settlement window in seconds.
	SettlementTimeout int64

	// ChannelOpenTimeout bounds the whole open-and-wait sequence.
	ChannelOpenTimeout time.Duration

	// PollInterval is the minimum sleep between channel state polls.
	PollInterval time.Duration
}

// DefaultSettlementTimeout is one day in seconds.
const DefaultSettlementTimeout int64 = 86400

const (
	defaultChannelOpenTimeout = 30 * time.Second
	defaultPollInterval       = 500 * time.Millisecond
)

// Result describes an opened channel.
type Result struct {
	NegotiatedChain     string
	SettlementAddress   string
	TokenAddress        string
	TokenNetworkAddress string
	ChannelID           string
	SettlementTimeout   int64
}

// intersectChains returns the chains present in both lists, preserving
// the request's preference order and considering duplicates only once.
func intersectChains(requested, own []string) []string {
	ownSet := make(map[string]struct{}, len(own))
	for _, c := range own {
		ownSet[c] = struct{}{}
	}
	seen := make(map[string]struct{}, len(requested))
	var out []string
	for _, c := range requested {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := ownSet[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// selection is the rail and addresses chosen before opening a channel.
type selection struct {
	chain        string
	localAddress string
	peerAddress  string
	token        string
	tokenNetwork string
}

// selectChain walks the intersection in the requester's preference order
// and picks the first chain for which both sides have a settlement
// address.  Returns nil when nothing matches.
func selectChain(req *wire.SettlementRequest, cfg *Config) *selection {
	for _, c := range intersectChains(req.SupportedChains, cfg.OwnSupportedChains) {
		localAddr := cfg.OwnSettlementAddresses[c]
		if localAddr == "" {
			log.Debugf("Chain %s has no local settlement address, skipping", c)
			continue
		}
		peerAddr := req.SettlementAddresses[c]
		if peerAddr == "" {
			log.Debugf("Chain %s has no peer settlement address, skipping", c)
			continue
		}
		sel := &selection{
			chain:        c,
			localAddress: localAddr,
			peerAddress:  peerAddr,
		}
		// The requester's preferred token is honoured only when it
		// agrees with ours, otherwise our own preference stands.
		if t := req.PreferredTokens[c]; t != "" && t == cfg.OwnPreferredTokens[c] {
			sel.token = t
		} else {
			sel.token = cfg.OwnPreferredTokens[c]
		}
		sel.tokenNetwork = cfg.OwnTokenNetworks[c]
		return sel
	}
	return nil
}

// Negotiate picks a rail, opens a channel and waits for it to become
// open.  A nil Result with nil error means no mutually supported chain
// was found; no RPC is issued in that case.
func Negotiate(ctx context.Context, req *wire.SettlementRequest, cfg *Config,
	svc rpcclient.ChannelService, senderPubkey string) (*Result, er.R) {

	if len(cfg.OwnSupportedChains) == 0 {
		return nil, nil
	}
	sel := selectChain(req, cfg)
	if sel == nil {
		return nil, nil
	}

	deposit := cfg.InitialDeposit
	if deposit == "" {
		deposit = "0"
	}
	settlementTimeout := cfg.SettlementTimeout
	if settlementTimeout == 0 {
		settlementTimeout = DefaultSettlementTimeout
	}

	log.Infof("Opening %s channel with peer %s", sel.chain, senderPubkey)
	ch, err := svc.OpenChannel(&rpcclient.OpenChannelRequest{
		PeerID:            senderPubkey,
		Chain:             sel.chain,
		Token:             sel.token,
		TokenNetwork:      sel.tokenNetwork,
		PeerAddress:       sel.peerAddress,
		InitialDeposit:    deposit,
		SettlementTimeout: settlementTimeout,
	})
	if err != nil {
		return nil, ErrOpenFailed.New(sel.chain, err)
	}

	openTimeout := cfg.ChannelOpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultChannelOpenTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = defaultPollInterval
	}
	if ch.Status != rpcclient.ChannelOpen {
		if _, err := rpcclient.AwaitOpen(ctx, svc, ch.ChannelID,
			pollInterval, openTimeout); err != nil {
			return nil, ErrNotOpen.New("channel "+ch.ChannelID, err)
		}
	}
	log.Infof("Channel %s open on %s", ch.ChannelID, sel.chain)

	return &Result{
		NegotiatedChain:     sel.chain,
		SettlementAddress:   sel.localAddress,
		TokenAddress:        sel.token,
		TokenNetworkAddress: sel.tokenNetwork,
		ChannelID:           ch.ChannelID,
		SettlementTimeout:   settlementTimeout,
	}, nil
}
