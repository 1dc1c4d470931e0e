// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bls is the business logic server: it prices inbound payment
// packets, validates the events they carry, routes settlement requests
// to the negotiator and returns accept/reject verdicts.
package bls

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/coral-colony/corald/codec"
	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/metrics"
	"github.com/coral-colony/corald/pricing"
	"github.com/coral-colony/corald/rpcclient"
	"github.com/coral-colony/corald/settle"
	"github.com/coral-colony/corald/wire"
	"github.com/coral-colony/corald/wire/rejecterr"
)

// EventSink is the event store surface the handler writes to.
type EventSink interface {
	Put(ev *wire.Event) er.R
}

// Config configures the packet handler.
type Config struct {
	// ILPAddress is the node's own routing address.
	ILPAddress string

	// OwnerPubkey, when set, exempts events signed by the node owner
	// from the payment check.
	OwnerPubkey string

	// PacketDeadline bounds the handling of one packet.
	PacketDeadline time.Duration

	// Settle enables chain negotiation when non-nil and a channel
	// service is wired.
	Settle *settle.Config
}

const defaultPacketDeadline = 30 * time.Second

// Handler handles inbound packets.
type Handler struct {
	cfg      Config
	oracle   *pricing.Oracle
	cdc      *codec.Codec
	store    EventSink
	channels rpcclient.ChannelService
	admin    rpcclient.ConnectorAdmin
}

// New creates a packet handler.  channels and admin may be nil, in
// which case settlement requests degrade to the base response and peer
// registration is skipped.
func New(cfg Config, oracle *pricing.Oracle, cdc *codec.Codec,
	store EventSink, channels rpcclient.ChannelService,
	admin rpcclient.ConnectorAdmin) *Handler {

	if cfg.PacketDeadline == 0 {
		cfg.PacketDeadline = defaultPacketDeadline
	}
	return &Handler{
		cfg:      cfg,
		oracle:   oracle,
		cdc:      cdc,
		store:    store,
		channels: channels,
		admin:    admin,
	}
}

// HandlePacket runs the packet pipeline and always produces a verdict.
// It never blocks longer than the configured packet deadline.
func (h *Handler) HandlePacket(ctx context.Context, pkt *wire.Packet) wire.Reply {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.PacketDeadline)
	defer cancel()

	reply := h.handle(ctx, pkt)
	if reply.Accept != nil {
		metrics.PacketsAccepted.Inc()
		log.Debugf("Accepted packet for %s", pkt.Destination)
	} else {
		metrics.PacketsRejected.WithLabelValues(reply.Reject.Code).Inc()
		log.Debugf("Rejected packet for %s: %s %s",
			pkt.Destination, reply.Reject.Code, reply.Reject.Message)
	}
	return reply
}

func (h *Handler) handle(ctx context.Context, pkt *wire.Packet) wire.Reply {
	if err := pkt.CheckBasic(); err != nil {
		return wire.RejectReply(rejecterr.ErrToReject(
			rejecterr.ErrBadRequest.New(err.Message(), nil)))
	}
	amount, _ := pkt.ParseAmount()

	ev, err := wire.DecodeEventData(pkt.Data)
	if err != nil {
		return wire.RejectReply(rejecterr.ErrToReject(
			rejecterr.ErrBadRequest.New(err.Message(), nil)))
	}

	price := h.oracle.Price(len(pkt.Data), ev.Kind)
	bypass := h.cfg.OwnerPubkey != "" && ev.Pubkey == h.cfg.OwnerPubkey
	if bypass {
		log.Tracef("Owner self-write, skipping payment check for event %s", ev.ID)
	}

	if !bypass && amount.Cmp(price) < 0 {
		rej := rejecterr.ErrToReject(rejecterr.ErrInsufficientAmount.New(
			"required "+price.String()+", received "+amount.String(), nil))
		rej.Required = price.String()
		rej.Received = amount.String()
		return wire.RejectReply(rej)
	}

	if ev.Kind == wire.KindSettlementRequest {
		return h.handleRequest(ctx, ev)
	}
	return h.handleStore(ev)
}

// handleStore appends any non-request event and accepts.  No
// fulfillment is set for non-payment event kinds.
func (h *Handler) handleStore(ev *wire.Event) wire.Reply {
	if err := h.store.Put(ev); err != nil {
		log.Errorf("Failed to store event %s: %s", ev.ID, err.String())
		return wire.RejectReply(rejecterr.ErrToReject(
			rejecterr.ErrInternal.New("storing event", nil)))
	}
	metrics.EventsStored.Inc()
	return wire.AcceptReply(&wire.Accept{
		EventID:  ev.ID,
		StoredAt: time.Now().Unix(),
	})
}

// newDestinationAccount grafts a fresh 16-hex payment suffix onto the
// node's routing address.
func (h *Handler) newDestinationAccount() (string, er.R) {
	id, errr := uuid.GenerateUUID()
	if errr != nil {
		return "", er.E(errr)
	}
	suffix := strings.ReplaceAll(id, "-", "")[:16]
	return h.cfg.ILPAddress + ".spsp." + suffix, nil
}

func newSharedSecret() (string, er.R) {
	secret := make([]byte, 32)
	if _, errr := rand.Read(secret); errr != nil {
		return "", er.E(errr)
	}
	return base64.StdEncoding.EncodeToString(secret), nil
}

func (h *Handler) handleRequest(ctx context.Context, ev *wire.Event) wire.Reply {
	req, err := h.cdc.ParseRequest(ev)
	if err != nil {
		return wire.RejectReply(rejecterr.ErrToReject(
			rejecterr.ErrBadRequest.New(err.Message(), nil)))
	}
	log.Tracef("Settlement request from %s: %v",
		ev.Pubkey, newLogClosure(func() string { return spew.Sdump(req) }))

	destination, err := h.newDestinationAccount()
	if err != nil {
		return wire.RejectReply(rejecterr.ErrToReject(
			rejecterr.ErrInternal.New(err.Message(), nil)))
	}
	sharedSecret, err := newSharedSecret()
	if err != nil {
		return wire.RejectReply(rejecterr.ErrToReject(
			rejecterr.ErrInternal.New(err.Message(), nil)))
	}
	resp := &wire.SettlementResponse{
		RequestID:          req.RequestID,
		DestinationAccount: destination,
		SharedSecret:       sharedSecret,
	}

	if h.channels != nil && h.cfg.Settle != nil && len(req.SupportedChains) > 0 {
		result, err := settle.Negotiate(ctx, req, h.cfg.Settle, h.channels, ev.Pubkey)
		if err != nil {
			return wire.RejectReply(rejecterr.ErrToReject(
				rejecterr.ErrInternal.New(err.Message(), nil)))
		}
		if result != nil {
			resp.NegotiatedChain = result.NegotiatedChain
			resp.SettlementAddress = result.SettlementAddress
			resp.TokenAddress = result.TokenAddress
			resp.TokenNetworkAddress = result.TokenNetworkAddress
			resp.ChannelID = result.ChannelID
			resp.SettlementTimeout = result.SettlementTimeout
			metrics.ChannelsOpened.Inc()
			h.registerPeer(ev.Pubkey, req)
		}
		// A nil result means no mutually supported chain, degrade
		// gracefully to the base response.
	}

	respEv, err := h.cdc.BuildResponse(resp, ev.Pubkey, ev.ID)
	if err != nil {
		return wire.RejectReply(rejecterr.ErrToReject(
			rejecterr.ErrInternal.New(err.Message(), nil)))
	}
	data, err := wire.EncodeEventData(respEv)
	if err != nil {
		return wire.RejectReply(rejecterr.ErrToReject(
			rejecterr.ErrInternal.New(err.Message(), nil)))
	}
	return wire.AcceptReply(&wire.Accept{Data: data})
}

// registerPeer makes the sender routable after a successful channel
// open.  Failures are logged only, they never fail the packet.
func (h *Handler) registerPeer(senderPubkey string, req *wire.SettlementRequest) {
	if h.admin == nil {
		return
	}
	add := &rpcclient.AddPeerRequest{
		ID:  senderPubkey,
		URL: req.ILPAddress,
	}
	if req.ILPAddress != "" {
		add.Routes = []rpcclient.Route{{Prefix: req.ILPAddress}}
	}
	// When the request carried no routing address the registration is
	// made with an empty auth token; the admin side treats that as a
	// placeholder until the peer announces properly.
	if err := h.admin.AddPeer(add); err != nil && !rpcclient.ErrAlreadyExists.Is(err) {
		log.Warnf("Best-effort peer registration for %s failed: %s",
			senderPubkey, err.Message())
	}
}
