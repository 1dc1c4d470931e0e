// Package directory resolves peers from the decentralised directory.
// Two resolvers exist: an HTTP resolver for a hosted directory service
// and a DNS seed resolver which reads TXT records, in the tradition of
// DNS seeded peer discovery.
package directory

import (
	"io/ioutil"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/miekg/dns"
	"github.com/sethgrid/pester"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/keychain"
	"github.com/coral-colony/corald/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Err is the error type for directory lookups.
var Err er.ErrorType = er.NewErrorType("directory.Err")

var (
	// ErrLookupFailed is returned when the directory could not be
	// reached or returned garbage.
	ErrLookupFailed = Err.CodeWithDetail("ErrLookupFailed",
		"directory lookup failed")
)

// Resolver produces seed peers for bootstrap discovery.
type Resolver interface {
	Resolve() ([]wire.KnownPeer, er.R)
}

// HTTPResolver reads a JSON peer list from a hosted directory.
type HTTPResolver struct {
	url    string
	client *pester.Client
}

var _ Resolver = (*HTTPResolver)(nil)

func NewHTTPResolver(url string) *HTTPResolver {
	client := pester.New()
	client.MaxRetries = 3
	client.Backoff = pester.ExponentialBackoff
	client.KeepLog = false
	return &HTTPResolver{url: url, client: client}
}

func (r *HTTPResolver) Resolve() ([]wire.KnownPeer, er.R) {
	resp, errr := r.client.Get(r.url)
	if errr != nil {
		return nil, ErrLookupFailed.New(errr.Error(), nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, ErrLookupFailed.New(resp.Status, nil)
	}
	raw, errr := ioutil.ReadAll(resp.Body)
	if errr != nil {
		return nil, ErrLookupFailed.New(errr.Error(), nil)
	}
	var peers []wire.KnownPeer
	if errr := json.Unmarshal(raw, &peers); errr != nil {
		return nil, ErrLookupFailed.New(errr.Error(), nil)
	}
	out := peers[:0]
	for _, p := range peers {
		if !keychain.ValidPubkeyHex(p.Pubkey) {
			log.Warnf("Directory returned invalid pubkey %q, skipping", p.Pubkey)
			continue
		}
		out = append(out, p)
	}
	log.Infof("%d peers found from directory %s", len(out), r.url)
	return out, nil
}

// DNSResolver reads TXT records from a seed host.  Each record is
// "<pubkey>@<relay-url>" with an optional "@<ilp-address>" suffix.
type DNSResolver struct {
	seedHost string
	server   string
}

var _ Resolver = (*DNSResolver)(nil)

// NewDNSResolver creates a resolver querying the given nameserver
// (host:port) for TXT records of seedHost.
func NewDNSResolver(seedHost, server string) *DNSResolver {
	return &DNSResolver{seedHost: seedHost, server: server}
}

func parseSeedRecord(rec string) (wire.KnownPeer, bool) {
	parts := strings.Split(rec, "@")
	if len(parts) < 2 || !keychain.ValidPubkeyHex(parts[0]) {
		return wire.KnownPeer{}, false
	}
	kp := wire.KnownPeer{Pubkey: parts[0], RelayURL: parts[1]}
	if len(parts) > 2 {
		kp.ILPAddress = parts[2]
	}
	return kp, true
}

func (r *DNSResolver) Resolve() ([]wire.KnownPeer, er.R) {
	c := new(dns.Client)
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(r.seedHost), dns.TypeTXT)
	in, _, errr := c.Exchange(m, r.server)
	if errr != nil {
		return nil, ErrLookupFailed.New(errr.Error(), nil)
	}
	var out []wire.KnownPeer
	for _, ans := range in.Answer {
		txt, ok := ans.(*dns.TXT)
		if !ok {
			continue
		}
		for _, rec := range txt.Txt {
			if kp, ok := parseSeedRecord(rec); ok {
				out = append(out, kp)
			} else {
				log.Debugf("Skipping malformed seed record %q", rec)
			}
		}
	}
	log.Infof("%d addresses found from DNS seed %s", len(out), r.seedHost)
	return out, nil
}
