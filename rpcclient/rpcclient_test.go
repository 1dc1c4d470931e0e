package rpcclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/coralutil/util"
)

func TestClassifyStatus(t *testing.T) {
	util.CheckError(t, "409", classifyStatus(409, nil), ErrAlreadyExists)
	util.CheckError(t, "404", classifyStatus(404, nil), ErrNotFound)
	util.CheckError(t, "401", classifyStatus(401, nil), ErrUnauthorized)
	util.CheckError(t, "403", classifyStatus(403, nil), ErrUnauthorized)
	util.CheckError(t, "400", classifyStatus(400, nil), ErrValidation)
	util.CheckError(t, "500", classifyStatus(500, nil), ErrServer)
	util.CheckError(t, "503", classifyStatus(503, nil), ErrServer)
}

func TestAddPeerRetriesNetworkErrors(t *testing.T) {
	// A listener that is closed immediately gives connection refused.
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewConnectorClient(base, "")
	c.SetTimeout(time.Second)
	start := time.Now()
	err := c.AddPeer(&AddPeerRequest{ID: "peer"})
	util.CheckError(t, "refused", err, ErrNetwork)
	// Two backoff sleeps of 250ms and 500ms prove retries happened.
	require.GreaterOrEqual(t, time.Since(start), 700*time.Millisecond)
}

func TestAddPeerDoesNotRetryConflict(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewConnectorClient(srv.URL, "tok")
	err := c.AddPeer(&AddPeerRequest{ID: "peer"})
	util.CheckError(t, "conflict", err, ErrAlreadyExists)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRemovePeerRequiresID(t *testing.T) {
	c := NewConnectorClient("http://localhost:0", "")
	util.CheckError(t, "empty id", c.RemovePeer(""), ErrValidation)
}

// pollingChannelService reports opening for the first n polls and open
// afterwards.
type pollingChannelService struct {
	polls     int32
	openAfter int32
	terminal  string
}

func (p *pollingChannelService) OpenChannel(req *OpenChannelRequest) (*Channel, er.R) {
	return &Channel{ChannelID: "0xCH", Status: ChannelOpening}, nil
}

func (p *pollingChannelService) GetChannelState(id string) (*Channel, er.R) {
	n := atomic.AddInt32(&p.polls, 1)
	if p.terminal != "" {
		return &Channel{ChannelID: id, Status: p.terminal}, nil
	}
	if n > p.openAfter {
		return &Channel{ChannelID: id, Status: ChannelOpen}, nil
	}
	return &Channel{ChannelID: id, Status: ChannelOpening}, nil
}

func TestAwaitOpenPollsUntilOpen(t *testing.T) {
	svc := &pollingChannelService{openAfter: 2}
	ch, err := AwaitOpen(context.Background(), svc, "0xCH",
		time.Millisecond, time.Second)
	util.RequireNoErr(t, err)
	require.Equal(t, ChannelOpen, ch.Status)
	require.Equal(t, int32(3), atomic.LoadInt32(&svc.polls))
}

func TestAwaitOpenTimeout(t *testing.T) {
	svc := &pollingChannelService{openAfter: 1 << 30}
	_, err := AwaitOpen(context.Background(), svc, "0xCH",
		time.Millisecond, 20*time.Millisecond)
	util.CheckError(t, "timeout", err, ErrChannelTimeout)
}

func TestAwaitOpenTerminalState(t *testing.T) {
	svc := &pollingChannelService{terminal: ChannelFailed}
	_, err := AwaitOpen(context.Background(), svc, "0xCH",
		time.Millisecond, time.Second)
	util.CheckError(t, "terminal", err, ErrChannelTerminal)
}

func TestAwaitOpenCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &pollingChannelService{openAfter: 1 << 30}
	_, err := AwaitOpen(ctx, svc, "0xCH", time.Millisecond, time.Second)
	util.CheckError(t, "cancelled", err, ErrCancelled)
	require.Equal(t, int32(0), atomic.LoadInt32(&svc.polls))
}

func TestRuntimeClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/packets", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted": true, "data": "aGVsbG8="}`))
	}))
	defer srv.Close()

	c := NewRuntimeClient(srv.URL, "")
	res, err := c.SendIlpPacket(&SendPacketRequest{
		Destination: "g.peer",
		Amount:      "10",
		Data:        []byte("x"),
	})
	util.RequireNoErr(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, []byte("hello"), res.Data)
}
