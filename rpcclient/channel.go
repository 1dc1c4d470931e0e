package rpcclient

import (
	"context"
	"net/url"
	"time"

	"github.com/coral-colony/corald/coralutil/er"
)

// Channel status values reported by the channel service.
const (
	ChannelOpening = "opening"
	ChannelOpen    = "open"
	ChannelClosed  = "closed"
	ChannelFailed  = "failed"
)

var (
	// ErrChannelTimeout is returned when a channel did not reach the
	// open state before the configured timeout.
	ErrChannelTimeout = Err.CodeWithDetail("ErrChannelTimeout",
		"channel open timeout")

	// ErrChannelTerminal is returned when a channel reached a terminal
	// non-open state while waiting for it to open.
	ErrChannelTerminal = Err.CodeWithDetail("ErrChannelTerminal",
		"channel reached terminal state before opening")

	// ErrCancelled is returned when the caller's context was cancelled
	// while waiting.
	ErrCancelled = Err.CodeWithDetail("ErrCancelled",
		"cancelled while waiting for channel")
)

// Channel is the opaque channel reference held by the channel service.
type Channel struct {
	ChannelID string `json:"channelId"`
	Status    string `json:"status"`
	Chain     string `json:"chain,omitempty"`
}

// OpenChannelRequest instructs the channel service to open an on-chain
// payment channel with a peer.
type OpenChannelRequest struct {
	PeerID            string `json:"peerId"`
	Chain             string `json:"chain"`
	Token             string `json:"token,omitempty"`
	TokenNetwork      string `json:"tokenNetwork,omitempty"`
	PeerAddress       string `json:"peerAddress"`
	InitialDeposit    string `json:"initialDeposit,omitempty"`
	SettlementTimeout int64  `json:"settlementTimeout,omitempty"`
}

// ChannelService is the consumed surface of the channel service facade.
type ChannelService interface {
	OpenChannel(req *OpenChannelRequest) (*Channel, er.R)
	GetChannelState(channelID string) (*Channel, er.R)
}

// ChannelClient talks to the channel service over HTTP.
type ChannelClient struct {
	base      string
	authToken string
	client    httpDoer
	attempts  int
}

var _ ChannelService = (*ChannelClient)(nil)

func NewChannelClient(baseURL, authToken string) *ChannelClient {
	return &ChannelClient{
		base:      baseURL,
		authToken: authToken,
		client:    newHTTPClient(defaultRPCWindow),
		attempts:  defaultAttempts,
	}
}

func (c *ChannelClient) OpenChannel(req *OpenChannelRequest) (*Channel, er.R) {
	if req.InitialDeposit == "" {
		req.InitialDeposit = "0"
	}
	var ch Channel
	err := withRetry(c.attempts, func() er.R {
		_, e := doJSON(c.client, "POST", c.base+"/channels", c.authToken, req, &ch)
		return e
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *ChannelClient) GetChannelState(channelID string) (*Channel, er.R) {
	var ch Channel
	err := withRetry(c.attempts, func() er.R {
		_, e := doJSON(c.client, "GET",
			c.base+"/channels/"+url.PathEscape(channelID), c.authToken, nil, &ch)
		return e
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// AwaitOpen polls the channel state at pollInterval until it is open,
// returning a failure on terminal states, on timeout and on context
// cancellation.  No further polls are issued once ctx is cancelled.
func AwaitOpen(ctx context.Context, svc ChannelService, channelID string,
	pollInterval, timeout time.Duration) (*Channel, er.R) {

	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return nil, ErrCancelled.New(channelID, nil)
		}
		ch, err := svc.GetChannelState(channelID)
		if err != nil {
			return nil, err
		}
		switch ch.Status {
		case ChannelOpen:
			return ch, nil
		case ChannelClosed, ChannelFailed:
			return nil, ErrChannelTerminal.New(
				"channel "+channelID+" is "+ch.Status, nil)
		}
		if time.Now().After(deadline) {
			return nil, ErrChannelTimeout.New("channel "+channelID, nil)
		}
		select {
		case <-ctx.Done():
			return nil, ErrCancelled.New(channelID, nil)
		case <-time.After(pollInterval):
		}
	}
}
