// Package metrics exposes the node's prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PacketsAccepted counts accepted inbound packets.
	PacketsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "corald",
		Name:      "packets_accepted_total",
		Help:      "Inbound packets accepted by the business logic server.",
	})

	// PacketsRejected counts rejected inbound packets by reject code.
	PacketsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corald",
		Name:      "packets_rejected_total",
		Help:      "Inbound packets rejected, labeled by reject code.",
	}, []string{"code"})

	// EventsStored counts events appended to the event store.
	EventsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "corald",
		Name:      "events_stored_total",
		Help:      "Events appended to the event store.",
	})

	// ChannelsOpened counts successfully opened payment channels.
	ChannelsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "corald",
		Name:      "channels_opened_total",
		Help:      "Payment channels opened through settlement negotiation.",
	})

	// Handshakes counts bootstrap handshake outcomes.
	Handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corald",
		Name:      "handshakes_total",
		Help:      "Bootstrap handshake attempts, labeled by outcome.",
	}, []string{"outcome"})

	// BootstrapPhase reports the current lifecycle phase as its ordinal.
	BootstrapPhase = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corald",
		Name:      "bootstrap_phase",
		Help:      "Current bootstrap phase ordinal.",
	})
)

func init() {
	prometheus.MustRegister(
		PacketsAccepted,
		PacketsRejected,
		EventsStored,
		ChannelsOpened,
		Handshakes,
		BootstrapPhase,
	)
}

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
