package coralconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-colony/corald/coralutil/util"
)

func baseArgs() []string {
	return []string{
		"--secretkey=" + strings.Repeat("11", 32),
		"--ilpaddress=g.node",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(baseArgs())
	util.RequireNoErr(t, err)
	require.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	require.Equal(t, DefaultRelayPort, cfg.RelayPort)
	require.Equal(t, DefaultDataDir, cfg.DataDir)
	require.Equal(t, DefaultBasePricePerByte, cfg.BasePricePerByte)
	require.Equal(t, "USD", cfg.AssetCode)
	require.EqualValues(t, 9, cfg.AssetScale)
	require.Equal(t, "info", cfg.DebugLevel)
}

func TestLoadRequiresIdentity(t *testing.T) {
	_, err := Load([]string{"--ilpaddress=g.node"})
	util.CheckError(t, "no secret key", err, ErrInvalid)

	_, err = Load([]string{"--secretkey=" + strings.Repeat("11", 32)})
	util.CheckError(t, "no ilp address", err, ErrInvalid)

	_, err = Load([]string{"--secretkey=tooshort", "--ilpaddress=g.node"})
	util.CheckError(t, "bad secret key", err, ErrInvalid)
}

func TestLoadValidatesILPAddress(t *testing.T) {
	for _, bad := range []string{"node", "g.", "g.no de", "test.node", "g.node!"} {
		_, err := Load([]string{
			"--secretkey=" + strings.Repeat("11", 32),
			"--ilpaddress=" + bad,
		})
		util.CheckError(t, bad, err, ErrInvalid)
	}

	for _, good := range []string{"g.node", "g.coral.node-1", "g.a.b.c"} {
		_, err := Load([]string{
			"--secretkey=" + strings.Repeat("11", 32),
			"--ilpaddress=" + good,
		})
		util.RequireNoErr(t, err)
	}
}

func TestLoadValidatesChainsAndMaps(t *testing.T) {
	_, err := Load(append(baseArgs(), "--supportedchain=evm"))
	util.CheckError(t, "bad chain", err, ErrInvalid)

	_, err = Load(append(baseArgs(), "--settlementaddresses={not json"))
	util.CheckError(t, "bad address map", err, ErrInvalid)

	_, err = Load(append(baseArgs(), "--priceoverrides={\"3\":\"-1\"}"))
	util.CheckError(t, "negative override", err, ErrInvalid)

	_, err = Load(append(baseArgs(), "--knownpeers=[{broken"))
	util.CheckError(t, "bad seed list", err, ErrInvalid)

	_, err = Load(append(baseArgs(), "--ownerpubkey=XYZ"))
	util.CheckError(t, "bad owner pubkey", err, ErrInvalid)
}

func TestPricingPolicy(t *testing.T) {
	cfg, err := Load(append(baseArgs(),
		"--basepriceperbyte=5",
		"--spspminprice=0",
		"--priceoverrides={\"3\":\"7\"}",
	))
	util.RequireNoErr(t, err)

	p, err := cfg.PricingPolicy()
	util.RequireNoErr(t, err)
	require.EqualValues(t, 5, p.BasePricePerByte.Int64())
	require.EqualValues(t, 0, p.RequestFloor.Int64())
	require.EqualValues(t, 7, p.KindOverrides[3].Int64())
}

func TestLocalPeerInfoDropsUnlistedAddresses(t *testing.T) {
	cfg, err := Load(append(baseArgs(),
		"--btpendpoint=btp+ws://node:7443",
		"--supportedchain=evm:base:8453",
		"--settlementaddresses={\"evm:base:8453\":\"0xOWN\",\"btc:mainnet\":\"bc1q\"}",
	))
	util.RequireNoErr(t, err)

	info, err := cfg.LocalPeerInfo()
	util.RequireNoErr(t, err)
	require.Equal(t, "g.node", info.ILPAddress)
	require.Equal(t, []string{"evm:base:8453"}, info.SupportedChains)
	require.Equal(t, map[string]string{"evm:base:8453": "0xOWN"},
		info.SettlementAddresses)
}

func TestLocalPeerInfoNeverNilChains(t *testing.T) {
	cfg, err := Load(baseArgs())
	util.RequireNoErr(t, err)
	info, err := cfg.LocalPeerInfo()
	util.RequireNoErr(t, err)
	require.NotNil(t, info.SupportedChains)
	require.Empty(t, info.SupportedChains)
}

func TestSeedPeers(t *testing.T) {
	cfg, err := Load(append(baseArgs(),
		`--knownpeers=[{"pubkey":"`+strings.Repeat("ab", 32)+`","relayUrl":"ws://peer:3101"}]`,
	))
	util.RequireNoErr(t, err)
	peers, err := cfg.SeedPeers()
	util.RequireNoErr(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "ws://peer:3101", peers[0].RelayURL)
}

func TestWarnings(t *testing.T) {
	cfg, err := Load(append(baseArgs(),
		"--supportedchain=evm:base:8453",
		"--monitor",
	))
	util.RequireNoErr(t, err)
	warnings := cfg.Warnings()
	require.Len(t, warnings, 2)
}
