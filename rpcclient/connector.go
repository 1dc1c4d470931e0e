package rpcclient

import (
	"net/url"
	"time"

	"github.com/coral-colony/corald/coralutil/er"
)

// Route is one routing table entry supplied with a peer registration.
type Route struct {
	Prefix   string `json:"prefix"`
	Priority int    `json:"priority,omitempty"`
}

// AddPeerRequest registers a peer with the local packet router.
// Identical duplicate registrations succeed.
type AddPeerRequest struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	AuthToken  string            `json:"authToken"`
	Routes     []Route           `json:"routes,omitempty"`
	Settlement map[string]string `json:"settlement,omitempty"`
}

// ConnectorAdmin is the consumed surface of the connector admin facade.
type ConnectorAdmin interface {
	AddPeer(req *AddPeerRequest) er.R
	RemovePeer(peerID string) er.R
}

// ConnectorClient talks to the connector admin endpoint over HTTP.
type ConnectorClient struct {
	base      string
	authToken string
	client    httpDoer
	attempts  int
}

var _ ConnectorAdmin = (*ConnectorClient)(nil)

func NewConnectorClient(baseURL, authToken string) *ConnectorClient {
	return &ConnectorClient{
		base:      baseURL,
		authToken: authToken,
		client:    newHTTPClient(defaultRPCWindow),
		attempts:  defaultAttempts,
	}
}

// AddPeer registers the peer, retrying network failures.  A duplicate
// registration surfaces as ErrAlreadyExists which callers are expected
// to treat as success when the payload is identical.
func (c *ConnectorClient) AddPeer(req *AddPeerRequest) er.R {
	if req.ID == "" {
		return ErrValidation.New("peer id is required", nil)
	}
	return withRetry(c.attempts, func() er.R {
		_, err := doJSON(c.client, "POST", c.base+"/peers", c.authToken, req, nil)
		return err
	})
}

// RemovePeer deregisters the peer.
func (c *ConnectorClient) RemovePeer(peerID string) er.R {
	if peerID == "" {
		return ErrValidation.New("peer id is required", nil)
	}
	return withRetry(c.attempts, func() er.R {
		_, err := doJSON(c.client, "DELETE",
			c.base+"/peers/"+url.PathEscape(peerID), c.authToken, nil, nil)
		return err
	})
}

// SetTimeout adjusts the per-call HTTP timeout, mainly for tests.
func (c *ConnectorClient) SetTimeout(d time.Duration) {
	c.client = newHTTPClient(d)
}
