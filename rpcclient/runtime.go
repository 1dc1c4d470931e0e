package rpcclient

import (
	"encoding/base64"
	"time"

	"github.com/coral-colony/corald/coralutil/er"
)

// SendPacketRequest carries one outbound payment packet through the
// local runtime.  Data transports a compact-encoded event.
type SendPacketRequest struct {
	Destination string
	Amount      string
	Data        []byte

	// Timeout bounds the whole send; zero means the client default.
	Timeout time.Duration
}

// SendPacketResult is the runtime's verdict for an outbound packet.
type SendPacketResult struct {
	Accepted    bool
	Fulfillment []byte
	Data        []byte
	Code        string
	Message     string
}

// Runtime is the consumed surface of the outbound packet runtime.
type Runtime interface {
	SendIlpPacket(req *SendPacketRequest) (*SendPacketResult, er.R)
}

type sendPacketBody struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Data        string `json:"data"`
	Timeout     int64  `json:"timeout,omitempty"`
}

type sendPacketReply struct {
	Accepted    bool   `json:"accepted"`
	Fulfillment string `json:"fulfillment,omitempty"`
	Data        string `json:"data,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// RuntimeClient talks to the agent runtime's packet endpoint over HTTP.
type RuntimeClient struct {
	base      string
	authToken string
	attempts  int
}

var _ Runtime = (*RuntimeClient)(nil)

func NewRuntimeClient(baseURL, authToken string) *RuntimeClient {
	return &RuntimeClient{
		base:      baseURL,
		authToken: authToken,
		attempts:  defaultAttempts,
	}
}

// SendIlpPacket submits the packet and decodes the runtime's verdict.
// The per-call timeout applies to the whole HTTP exchange; expiry is a
// network class failure the caller treats as a failed attempt.
func (c *RuntimeClient) SendIlpPacket(req *SendPacketRequest) (*SendPacketResult, er.R) {
	body := sendPacketBody{
		Destination: req.Destination,
		Amount:      req.Amount,
		Data:        base64.StdEncoding.EncodeToString(req.Data),
	}
	if req.Timeout > 0 {
		body.Timeout = int64(req.Timeout / time.Millisecond)
	}
	client := newHTTPClient(req.Timeout)

	var reply sendPacketReply
	err := withRetry(c.attempts, func() er.R {
		_, e := doJSON(client, "POST", c.base+"/packets", c.authToken, &body, &reply)
		return e
	})
	if err != nil {
		return nil, err
	}
	out := &SendPacketResult{
		Accepted: reply.Accepted,
		Code:     reply.Code,
		Message:  reply.Message,
	}
	if reply.Fulfillment != "" {
		raw, errr := base64.StdEncoding.DecodeString(reply.Fulfillment)
		if errr != nil {
			return nil, er.Errorf("error reading json reply: bad fulfillment: %v", errr)
		}
		out.Fulfillment = raw
	}
	if reply.Data != "" {
		raw, errr := base64.StdEncoding.DecodeString(reply.Data)
		if errr != nil {
			return nil, er.Errorf("error reading json reply: bad data: %v", errr)
		}
		out.Data = raw
	}
	return out, nil
}
