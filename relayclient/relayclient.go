// Package relayclient is a websocket client for relay nodes.  It speaks
// the array-framed relay protocol: ["EVENT", ...] to publish,
// ["REQ", id, filters...] to subscribe and ["CLOSE", id] to tear a
// subscription down.
package relayclient

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Err is the error type for relay connection failures.
var Err er.ErrorType = er.NewErrorType("relayclient.Err")

var (
	// ErrDialFailed is returned when the relay cannot be reached.
	ErrDialFailed = Err.CodeWithDetail("ErrDialFailed",
		"relay dial failed")

	// ErrClosed is returned when operating on a closed client.
	ErrClosed = Err.CodeWithDetail("ErrClosed",
		"relay connection is closed")

	// ErrDuplicateSub is returned when a subscription id is reused.
	ErrDuplicateSub = Err.CodeWithDetail("ErrDuplicateSub",
		"subscription id already in use")
)

// Filter narrows a subscription, mirroring the relay's filter object.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// subChanSize bounds per-subscription buffering; events beyond it are
// dropped rather than stalling the read loop.
const subChanSize = 64

const writeWait = 10 * time.Second

// Client is one relay connection.  It is safe for concurrent use.
type Client struct {
	url  string
	conn *websocket.Conn

	writeMtx sync.Mutex

	mtx    sync.Mutex
	subs   map[string]chan *wire.Event
	closed bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// Dial connects to a relay and starts the read loop.
func Dial(ctx context.Context, url string) (*Client, er.R) {
	conn, _, errr := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if errr != nil {
		return nil, ErrDialFailed.New(url, er.E(errr))
	}
	c := &Client{
		url:  url,
		conn: conn,
		subs: make(map[string]chan *wire.Event),
		quit: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	log.Debugf("Connected to relay %s", url)
	return c, nil
}

// URL returns the relay endpoint this client is connected to.
func (c *Client) URL() string {
	return c.url
}

func (c *Client) writeFrame(frame []interface{}) er.R {
	raw, errr := json.Marshal(frame)
	if errr != nil {
		return er.E(errr)
	}
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if errr := c.conn.WriteMessage(websocket.TextMessage, raw); errr != nil {
		return er.E(errr)
	}
	return nil
}

// Publish sends one event to the relay.
func (c *Client) Publish(ev *wire.Event) er.R {
	c.mtx.Lock()
	closed := c.closed
	c.mtx.Unlock()
	if closed {
		return ErrClosed.Default()
	}
	return c.writeFrame([]interface{}{"EVENT", ev})
}

// Subscribe opens a subscription and returns the channel events arrive
// on.  The channel is closed when the subscription ends or the client
// closes.
func (c *Client) Subscribe(id string, filters ...Filter) (<-chan *wire.Event, er.R) {
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return nil, ErrClosed.Default()
	}
	if _, ok := c.subs[id]; ok {
		c.mtx.Unlock()
		return nil, ErrDuplicateSub.New(id, nil)
	}
	ch := make(chan *wire.Event, subChanSize)
	c.subs[id] = ch
	c.mtx.Unlock()

	frame := []interface{}{"REQ", id}
	for _, f := range filters {
		frame = append(frame, f)
	}
	if err := c.writeFrame(frame); err != nil {
		c.dropSub(id)
		return nil, err
	}
	return ch, nil
}

// Unsubscribe tears a subscription down and closes its channel.
func (c *Client) Unsubscribe(id string) er.R {
	c.dropSub(id)
	c.mtx.Lock()
	closed := c.closed
	c.mtx.Unlock()
	if closed {
		return nil
	}
	return c.writeFrame([]interface{}{"CLOSE", id})
}

func (c *Client) dropSub(id string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
}

// Close shuts the connection down and closes all subscription channels.
func (c *Client) Close() er.R {
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return nil
	}
	c.closed = true
	c.mtx.Unlock()

	close(c.quit)
	errr := c.conn.Close()
	c.wg.Wait()

	c.mtx.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mtx.Unlock()
	if errr != nil {
		return er.E(errr)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		_, raw, errr := c.conn.ReadMessage()
		if errr != nil {
			select {
			case <-c.quit:
			default:
				log.Warnf("Relay %s read failed: %v", c.url, errr)
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var frame []jsoniter.RawMessage
	if errr := json.Unmarshal(raw, &frame); errr != nil || len(frame) < 1 {
		log.Debugf("Relay %s sent an unparseable frame", c.url)
		return
	}
	var typ string
	if errr := json.Unmarshal(frame[0], &typ); errr != nil {
		return
	}
	switch typ {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if errr := json.Unmarshal(frame[1], &subID); errr != nil {
			return
		}
		ev, err := wire.UnmarshalEvent(frame[2])
		if err != nil {
			log.Debugf("Relay %s sent a malformed event: %s", c.url, err.Message())
			return
		}
		c.deliver(subID, ev)
	case "EOSE":
		// End of stored events, live events follow.
	case "NOTICE":
		if len(frame) >= 2 {
			var msg string
			json.Unmarshal(frame[1], &msg)
			log.Infof("Relay %s notice: %s", c.url, msg)
		}
	default:
		log.Tracef("Relay %s sent unhandled frame type %s", c.url, typ)
	}
}

// deliver hands an event to its subscription.  The send happens under
// the same lock that Unsubscribe and Close close channels under, so a
// teardown can never race a send on a closed channel.
func (c *Client) deliver(subID string, ev *wire.Event) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	ch, ok := c.subs[subID]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		log.Warnf("Subscription %s is full, dropping event %s", subID, ev.ID)
	}
}
