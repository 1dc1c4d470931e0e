// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/arl/statsviz"

	"github.com/coral-colony/corald/bls"
	"github.com/coral-colony/corald/bootstrap"
	"github.com/coral-colony/corald/codec"
	"github.com/coral-colony/corald/coralconfig"
	"github.com/coral-colony/corald/coralconfig/version"
	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/directory"
	"github.com/coral-colony/corald/eventstore"
	"github.com/coral-colony/corald/keychain"
	"github.com/coral-colony/corald/monitor"
	"github.com/coral-colony/corald/pricing"
	"github.com/coral-colony/corald/relayclient"
	"github.com/coral-colony/corald/rpcclient"
	"github.com/coral-colony/corald/settle"
)

var cfg *coralconfig.Config

func main() {
	version.SetUserAgentName("corald")

	// Work around defer not working after os.Exit.
	if err := coraldMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.String())
		os.Exit(1)
	}
}

// coraldMain is a work-around main function that is required since
// deferred functions (such as log flushing) are not called with calls
// to os.Exit.
func coraldMain() er.R {
	tcfg, err := coralconfig.Load(os.Args[1:])
	if err != nil {
		return err
	}
	cfg = tcfg
	if cfg.ShowVersion {
		fmt.Printf("%s version %s\n", version.UserAgentName(), version.Version())
		return nil
	}

	if cfg.LogDir != "" {
		initLogRotator(filepath.Join(cfg.LogDir, "corald.log"))
		defer logRotator.Close()
	}
	if errr := parseAndSetDebugLevels(cfg.DebugLevel); errr != nil {
		return er.E(errr)
	}

	log := crldLog
	log.Infof("Version %s", version.Version())
	for _, w := range cfg.Warnings() {
		log.Warnf("Configuration: %s", w)
	}

	kr, err := keychain.NewKeyRing(cfg.SecretKey)
	if err != nil {
		return err
	}
	cdc := codec.New(kr)
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = kr.Pubkey()
	}
	log.Infof("Node %s, pubkey %s, routing address %s",
		nodeID, kr.Pubkey(), cfg.ILPAddress)

	policy, err := cfg.PricingPolicy()
	if err != nil {
		return err
	}
	oracle := pricing.New(policy)

	store, err := eventstore.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	localInfo, err := cfg.LocalPeerInfo()
	if err != nil {
		return err
	}
	seeds, err := cfg.SeedPeers()
	if err != nil {
		return err
	}

	// External collaborators.  Each is optional; features degrade when
	// the corresponding endpoint is not configured.
	var admin rpcclient.ConnectorAdmin
	if cfg.ConnectorAdminURL != "" {
		admin = rpcclient.NewConnectorClient(cfg.ConnectorAdminURL, cfg.ConnectorAdminToken)
	}
	var channels rpcclient.ChannelService
	if cfg.ChannelServiceURL != "" {
		channels = rpcclient.NewChannelClient(cfg.ChannelServiceURL, cfg.ChannelServiceToken)
	}
	var runtime rpcclient.Runtime
	if cfg.RuntimeURL != "" {
		runtime = rpcclient.NewRuntimeClient(cfg.RuntimeURL, cfg.RuntimeToken)
	}

	var settleCfg *settle.Config
	if len(cfg.SupportedChains) > 0 {
		settleCfg = &settle.Config{
			OwnSupportedChains:     localInfo.SupportedChains,
			OwnSettlementAddresses: localInfo.SettlementAddresses,
			OwnPreferredTokens:     localInfo.PreferredTokens,
			OwnTokenNetworks:       localInfo.TokenNetworks,
			InitialDeposit:         cfg.InitialDeposit,
			SettlementTimeout:      cfg.SettlementTimeout,
			ChannelOpenTimeout:     cfg.ChannelOpenTimeout,
		}
	}

	var resolver directory.Resolver
	if cfg.DirectoryEnabled {
		switch {
		case cfg.DirectoryURL != "":
			resolver = directory.NewHTTPResolver(cfg.DirectoryURL)
		case cfg.DNSSeed != "":
			server := cfg.DNSServer
			if server == "" {
				server = "8.8.8.8:53"
			}
			resolver = directory.NewDNSResolver(cfg.DNSSeed, server)
		default:
			log.Warnf("Directory is enabled but neither a directory " +
				"url nor a dns seed is configured")
		}
	}

	svc := bootstrap.New(bootstrap.Config{
		Seeds:              seeds,
		LocalInfo:          localInfo,
		DirectoryEnabled:   cfg.DirectoryEnabled,
		Resolver:           resolver,
		BTPSecret:          cfg.BTPSecret,
		AnnounceToPeers:    cfg.AnnounceToPeers,
		WorkerCount:        cfg.HandshakeWorkers,
		ChannelOpenTimeout: cfg.ChannelOpenTimeout,
	}, bootstrap.Deps{
		Runtime:  runtime,
		Admin:    admin,
		Channels: channels,
		Store:    store,
	}, cdc, oracle)
	svc.Subscribe(func(ev bootstrap.Event) {
		switch ev.Type {
		case bootstrap.EventHandshakeFailed:
			log.Warnf("%s peer=%s reason=%s", ev.Type, ev.Peer.Pubkey, ev.Reason)
		case bootstrap.EventReady:
			log.Infof("%s peers=%d channels=%d", ev.Type, ev.PeerCount, ev.ChannelCount)
		default:
			log.Debugf("%s phase=%s", ev.Type, ev.Phase)
		}
	})

	handler := bls.New(bls.Config{
		ILPAddress:     cfg.ILPAddress,
		OwnerPubkey:    cfg.OwnerPubkey,
		PacketDeadline: cfg.PacketDeadline,
		Settle:         settleCfg,
	}, oracle, cdc, store, channels, admin)
	server := bls.NewServer(handler, nodeID, kr.Pubkey(), func() bls.NodeStatus {
		peers, chans := svc.Counts()
		phase := svc.Phase()
		return bls.NodeStatus{
			Phase:        phase.String(),
			Ready:        phase == bootstrap.PhaseReady,
			PeerCount:    peers,
			ChannelCount: chans,
		}
	})

	// Enable StatsViz server if requested.
	if cfg.StatsViz != "" {
		statsvizAddr := net.JoinHostPort("", cfg.StatsViz)
		log.Infof("StatsViz server listening on %s", statsvizAddr)
		svmux := http.NewServeMux()
		statsvizRedirect := http.RedirectHandler("/debug/statsviz", http.StatusSeeOther)
		svmux.Handle("/", statsvizRedirect)
		if err := statsviz.Register(svmux, statsviz.Root("/debug/statsviz")); err != nil {
			log.Errorf("%v", err)
		}
		go func() {
			log.Errorf("%v", http.ListenAndServe(statsvizAddr, svmux))
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan er.R, 1)
	go func() {
		serverErr <- server.ListenAndServe(net.JoinHostPort("",
			strconv.Itoa(cfg.HTTPPort)))
	}()

	var monMtx sync.Mutex
	var monitorHandle *monitor.Handle
	var relay *relayclient.Client
	go func() {
		if _, err := svc.Bootstrap(ctx, cfg.AdditionalPeers); err != nil {
			log.Errorf("Bootstrap failed: %s", err.String())
			return
		}
		if !cfg.MonitorEnabled || cfg.RelayURL == "" {
			return
		}
		rc, err := relayclient.Dial(ctx, cfg.RelayURL)
		if err != nil {
			log.Errorf("Cannot reach relay for monitoring: %s", err.String())
			return
		}
		mon := monitor.New(monitor.Config{}, svc, rc)
		handle, err := mon.Start(ctx)
		if err != nil {
			rc.Close()
			log.Errorf("Cannot start relay monitor: %s", err.String())
			return
		}
		monMtx.Lock()
		relay = rc
		monitorHandle = handle
		monMtx.Unlock()
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-interrupt:
		log.Infof("Received signal %s, shutting down", sig)
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	cancel()
	monMtx.Lock()
	if monitorHandle != nil {
		monitorHandle.Unsubscribe()
	}
	if relay != nil {
		relay.Close()
	}
	monMtx.Unlock()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP shutdown: %s", err.String())
	}
	log.Infof("Shutdown complete")
	return nil
}
