// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coralconfig loads the node configuration from command line
// flags and environment variables.  Parse failures are fatal; an
// inconsistent but parseable configuration only warns.
package coralconfig

import (
	"math/big"
	"regexp"
	"time"

	flags "github.com/jessevdk/go-flags"
	jsoniter "github.com/json-iterator/go"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/keychain"
	"github.com/coral-colony/corald/pricing"
	"github.com/coral-colony/corald/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Err is the error type for configuration failures.
var Err er.ErrorType = er.NewErrorType("coralconfig.Err")

var (
	// ErrParse is returned for unparseable flags or environment values.
	ErrParse = Err.CodeWithDetail("ErrParse",
		"cannot parse configuration")

	// ErrInvalid is returned for values which parse but violate a
	// documented constraint.
	ErrInvalid = Err.CodeWithDetail("ErrInvalid",
		"invalid configuration value")
)

// ilpAddressRE matches the packet network routing addresses this node
// accepts for itself: "g." followed by alphanumerics, dots and hyphens.
var ilpAddressRE = regexp.MustCompile(`^g\.[a-zA-Z0-9.\-]+$`)

const (
	DefaultHTTPPort         = 3100
	DefaultRelayPort        = 3101
	DefaultBasePricePerByte = "10"
	DefaultDataDir          = "/data"
)

// Config is the full node configuration.
type Config struct {
	NodeID    string `long:"nodeid" env:"NODE_ID" description:"Stable node identifier"`
	SecretKey string `long:"secretkey" env:"SECRET_KEY" description:"Node secret key, 64 hex characters"`

	ILPAddress   string `long:"ilpaddress" env:"ILP_ADDRESS" description:"Routing address in the packet network, g. prefixed"`
	BTPEndpoint  string `long:"btpendpoint" env:"BTP_ENDPOINT" description:"Websocket endpoint for the packet transport"`
	HTTPEndpoint string `long:"httpendpoint" env:"HTTP_ENDPOINT" description:"Public HTTP endpoint for direct packet delivery"`
	BTPSecret    string `long:"btpsecret" env:"BTP_SECRET" description:"Secret for deriving per-peer transport auth tokens"`

	HTTPPort  int `long:"httpport" env:"HTTP_PORT" description:"Business logic server listen port"`
	RelayPort int `long:"relayport" env:"RELAY_PORT" description:"Relay websocket port"`

	DataDir string `long:"datadir" env:"DATA_DIR" description:"Directory for the event store"`

	AssetCode  string `long:"assetcode" env:"ASSET_CODE" description:"Asset code advertised to peers"`
	AssetScale uint32 `long:"assetscale" env:"ASSET_SCALE" description:"Asset scale advertised to peers"`

	BasePricePerByte string `long:"basepriceperbyte" env:"BASE_PRICE_PER_BYTE" description:"Price per stored byte as an unsigned decimal"`
	SPSPMinPrice     string `long:"spspminprice" env:"SPSP_MIN_PRICE" description:"Explicit floor for settlement request events"`
	PriceOverrides   string `long:"priceoverrides" env:"PRICE_OVERRIDES" description:"JSON object mapping event kind to price"`

	OwnerPubkey string `long:"ownerpubkey" env:"OWNER_PUBKEY" description:"Pubkey exempt from the payment check, 64 hex characters"`

	SupportedChains     []string `long:"supportedchain" env:"SUPPORTED_CHAINS" env-delim:"," description:"Chain identifiers this node settles on, in preference order"`
	SettlementAddresses string   `long:"settlementaddresses" env:"SETTLEMENT_ADDRESSES" description:"JSON object mapping chain to settlement address"`
	PreferredTokens     string   `long:"preferredtokens" env:"PREFERRED_TOKENS" description:"JSON object mapping chain to preferred token"`
	TokenNetworks       string   `long:"tokennetworks" env:"TOKEN_NETWORKS" description:"JSON object mapping chain to token network contract"`
	InitialDeposit      string   `long:"initialdeposit" env:"INITIAL_DEPOSIT" description:"Initial channel deposit as an unsigned decimal"`
	SettlementTimeout   int64    `long:"settlementtimeout" env:"SETTLEMENT_TIMEOUT" description:"Channel settlement window in seconds"`

	KnownPeers      string `long:"knownpeers" env:"KNOWN_PEERS" description:"JSON list of seed peers"`
	AdditionalPeers string `long:"additionalpeers" env:"ADDITIONAL_PEERS" description:"JSON list of extra peers merged at bootstrap"`

	DirectoryEnabled bool   `long:"directory" env:"DIRECTORY_ENABLED" description:"Resolve peers through the directory service"`
	DirectoryURL     string `long:"directoryurl" env:"DIRECTORY_URL" description:"Directory service URL"`
	DNSSeed          string `long:"dnsseed" env:"DNS_SEED" description:"DNS seed host for TXT record discovery"`
	DNSServer        string `long:"dnsserver" env:"DNS_SERVER" description:"Nameserver (host:port) for the DNS seed lookup"`

	ConnectorAdminURL   string `long:"connectoradminurl" env:"CONNECTOR_ADMIN_URL" description:"Connector admin endpoint"`
	ConnectorAdminToken string `long:"connectoradmintoken" env:"CONNECTOR_ADMIN_TOKEN" description:"Connector admin bearer token"`
	ChannelServiceURL   string `long:"channelserviceurl" env:"CHANNEL_SERVICE_URL" description:"Channel service endpoint"`
	ChannelServiceToken string `long:"channelservicetoken" env:"CHANNEL_SERVICE_TOKEN" description:"Channel service bearer token"`
	RuntimeURL          string `long:"runtimeurl" env:"RUNTIME_URL" description:"Outbound packet runtime endpoint"`
	RuntimeToken        string `long:"runtimetoken" env:"RUNTIME_TOKEN" description:"Outbound packet runtime bearer token"`

	RelayURL       string `long:"relayurl" env:"RELAY_URL" description:"Local relay websocket URL for the monitor"`
	MonitorEnabled bool   `long:"monitor" env:"MONITOR_ENABLED" description:"Watch the relay for new peers after bootstrap"`

	AnnounceToPeers bool `long:"announcetopeers" env:"ANNOUNCE_TO_PEERS" description:"Publish the local advertisement to discovered peers' relays"`

	HandshakeWorkers   int           `long:"handshakeworkers" env:"HANDSHAKE_WORKERS" description:"Parallel handshakes during bootstrap"`
	PacketDeadline     time.Duration `long:"packetdeadline" env:"PACKET_DEADLINE" description:"Per packet handling deadline"`
	ChannelOpenTimeout time.Duration `long:"channelopentimeout" env:"CHANNEL_OPEN_TIMEOUT" description:"Wall clock bound for one channel open"`

	DebugLevel string `short:"d" long:"debuglevel" env:"DEBUG_LEVEL" description:"Logging level {trace, debug, info, warn, error, critical} or <subsystem>=<level>,... pairs"`
	LogDir     string `long:"logdir" env:"LOG_DIR" description:"Directory to log output"`
	StatsViz   string `long:"statsviz" env:"STATSVIZ" description:"Enable statsviz runtime visualization on given port"`

	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`
}

func defaults() *Config {
	return &Config{
		HTTPPort:         DefaultHTTPPort,
		RelayPort:        DefaultRelayPort,
		DataDir:          DefaultDataDir,
		BasePricePerByte: DefaultBasePricePerByte,
		AssetCode:        "USD",
		AssetScale:       9,
		DebugLevel:       "info",
	}
}

// Load parses args (without the program name) and the environment into
// a validated configuration.
func Load(args []string) (*Config, er.R) {
	cfg := defaults()
	parser := flags.NewParser(cfg, flags.Default)
	if _, errr := parser.ParseArgs(args); errr != nil {
		return nil, ErrParse.New("", er.E(errr))
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() er.R {
	if cfg.SecretKey == "" {
		return ErrInvalid.New("secretkey is required", nil)
	}
	if _, err := keychain.NewKeyRing(cfg.SecretKey); err != nil {
		return ErrInvalid.New("secretkey", err)
	}
	if cfg.ILPAddress == "" {
		return ErrInvalid.New("ilpaddress is required", nil)
	}
	if !ilpAddressRE.MatchString(cfg.ILPAddress) {
		return ErrInvalid.New("ilpaddress must be g. followed by "+
			"alphanumerics, dots and hyphens", nil)
	}
	if cfg.OwnerPubkey != "" && !keychain.ValidPubkeyHex(cfg.OwnerPubkey) {
		return ErrInvalid.New("ownerpubkey must be 64 lowercase hex characters", nil)
	}
	if _, err := pricing.ParsePrice(cfg.BasePricePerByte); err != nil {
		return ErrInvalid.New("basepriceperbyte", err)
	}
	if cfg.SPSPMinPrice != "" {
		if _, err := pricing.ParsePrice(cfg.SPSPMinPrice); err != nil {
			return ErrInvalid.New("spspminprice", err)
		}
	}
	for _, c := range cfg.SupportedChains {
		if !wire.ValidChainID(c) {
			return ErrInvalid.New("supported chain "+c, nil)
		}
	}
	if _, err := cfg.PricingPolicy(); err != nil {
		return err
	}
	if _, err := cfg.SeedPeers(); err != nil {
		return err
	}
	if _, err := cfg.settlementAddressMap(); err != nil {
		return err
	}
	if _, err := parseStringMap(cfg.PreferredTokens, "preferredtokens"); err != nil {
		return err
	}
	if _, err := parseStringMap(cfg.TokenNetworks, "tokennetworks"); err != nil {
		return err
	}
	return nil
}

// Warnings returns the inconsistencies which are logged at startup but
// do not stop the node.
func (cfg *Config) Warnings() []string {
	var out []string
	addrs, err := cfg.settlementAddressMap()
	if err != nil {
		return out
	}
	for _, c := range cfg.SupportedChains {
		if addrs[c] == "" {
			out = append(out, "chain "+c+" is listed without a settlement address")
		}
	}
	if cfg.MonitorEnabled && cfg.RelayURL == "" {
		out = append(out, "monitor is enabled but no relay url is configured")
	}
	return out
}

func parseStringMap(raw, field string) (map[string]string, er.R) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if errr := json.Unmarshal([]byte(raw), &m); errr != nil {
		return nil, ErrInvalid.New(field+" is not a JSON string map", er.E(errr))
	}
	return m, nil
}

func (cfg *Config) settlementAddressMap() (map[string]string, er.R) {
	return parseStringMap(cfg.SettlementAddresses, "settlementaddresses")
}

// PricingPolicy materialises the oracle policy from the raw strings.
func (cfg *Config) PricingPolicy() (pricing.Policy, er.R) {
	var p pricing.Policy
	base, err := pricing.ParsePrice(cfg.BasePricePerByte)
	if err != nil {
		return p, ErrInvalid.New("basepriceperbyte", err)
	}
	p.BasePricePerByte = base
	if cfg.SPSPMinPrice != "" {
		floor, err := pricing.ParsePrice(cfg.SPSPMinPrice)
		if err != nil {
			return p, ErrInvalid.New("spspminprice", err)
		}
		p.RequestFloor = floor
	}
	if cfg.PriceOverrides != "" {
		var raw map[int]string
		if errr := json.Unmarshal([]byte(cfg.PriceOverrides), &raw); errr != nil {
			return p, ErrInvalid.New("priceoverrides is not a JSON kind map", er.E(errr))
		}
		p.KindOverrides = make(map[int]*big.Int, len(raw))
		for kind, s := range raw {
			price, err := pricing.ParsePrice(s)
			if err != nil {
				return p, ErrInvalid.New("priceoverrides", err)
			}
			p.KindOverrides[kind] = price
		}
	}
	return p, nil
}

// LocalPeerInfo assembles this node's own advertisement.
func (cfg *Config) LocalPeerInfo() (*wire.PeerInfo, er.R) {
	addrs, err := cfg.settlementAddressMap()
	if err != nil {
		return nil, err
	}
	tokens, err := parseStringMap(cfg.PreferredTokens, "preferredtokens")
	if err != nil {
		return nil, err
	}
	nets, err := parseStringMap(cfg.TokenNetworks, "tokennetworks")
	if err != nil {
		return nil, err
	}
	info := &wire.PeerInfo{
		ILPAddress:          cfg.ILPAddress,
		BTPEndpoint:         cfg.BTPEndpoint,
		HTTPEndpoint:        cfg.HTTPEndpoint,
		AssetCode:           cfg.AssetCode,
		AssetScale:          cfg.AssetScale,
		SupportedChains:     cfg.SupportedChains,
		SettlementAddresses: make(map[string]string),
		PreferredTokens:     tokens,
		TokenNetworks:       nets,
	}
	if info.SupportedChains == nil {
		info.SupportedChains = []string{}
	}
	// Addresses for unlisted chains are dropped rather than advertised.
	for _, c := range cfg.SupportedChains {
		if a := addrs[c]; a != "" {
			info.SettlementAddresses[c] = a
		}
	}
	return info, nil
}

// SeedPeers decodes the static seed list.
func (cfg *Config) SeedPeers() ([]wire.KnownPeer, er.R) {
	if cfg.KnownPeers == "" {
		return nil, nil
	}
	var peers []wire.KnownPeer
	if errr := json.Unmarshal([]byte(cfg.KnownPeers), &peers); errr != nil {
		return nil, ErrInvalid.New("knownpeers is not a JSON peer list", er.E(errr))
	}
	return peers, nil
}
