package bootstrap

import "github.com/coral-colony/corald/wire"

// EventType tags one observability record.
type EventType string

const (
	EventPhaseChange     EventType = "bootstrap:phase-change"
	EventPeerDiscovered  EventType = "bootstrap:peer-discovered"
	EventPeerRegistered  EventType = "bootstrap:peer-registered"
	EventChannelOpened   EventType = "bootstrap:channel-opened"
	EventHandshakeFailed EventType = "bootstrap:handshake-failed"
	EventAnnounced       EventType = "bootstrap:announced"
	EventAnnounceFailed  EventType = "bootstrap:announce-failed"
	EventPeerDeregister  EventType = "bootstrap:peer-deregistered"
	EventReady           EventType = "bootstrap:ready"
)

// Event is one observability record.  It is fan-out only, the service
// never reads these back.
type Event struct {
	Type  EventType
	Phase Phase

	// Peer is set on per-peer records.
	Peer *wire.KnownPeer

	// ChannelID is set on channel-opened records.
	ChannelID string

	// Reason is set on failure records.
	Reason string

	// PeerCount and ChannelCount are set on ready records.
	PeerCount    int64
	ChannelCount int64
}

// Listener receives bootstrap events.  Listeners are invoked
// synchronously in subscription order and must not block.
type Listener func(Event)
