// Package channel keeps one persistent push connection to the feed hub and
// hands each frame to the handlers subscribed to its action.
//
// Frames are delivered on a single read goroutine, in receipt order, exactly
// once per connection. When the connection drops the channel redials with a
// capped exponential backoff. Frames emitted by the server while no
// connection was open are lost; nothing replays them.
package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"feedsync/pkg/envelope"
)

type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Settings struct {
	HandshakeTimeout time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	JitterPercent    uint64
}

func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		PingTimeout:      20 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		MinBackoff:       500 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
		JitterPercent:    10,
	}
}

type handlerEntry struct {
	id uint64
	fn func(envelope.Envelope)
}

// conn closes its websocket at most once, whoever gets there first.
type conn struct {
	ws   *websocket.Conn
	once sync.Once
	err  error
}

func (cn *conn) close() error {
	cn.once.Do(func() {
		cn.err = cn.ws.Close()
	})
	return cn.err
}

type Channel struct {
	url      string
	token    string
	settings *Settings

	mu       sync.Mutex
	handlers map[string][]handlerEntry
	nextID   uint64
	current  *conn
	onState  []func(State)
	started  bool
	closing  bool

	state atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// New creates an idle channel for the hub at wsURL. token, when set, is sent
// as a bearer credential on every dial.
func New(wsURL, token string, settings *Settings) *Channel {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Channel{
		url:      wsURL,
		token:    token,
		settings: settings,
		handlers: make(map[string][]handlerEntry),
		done:     make(chan struct{}),
	}
}

// Subscribe registers fn for frames whose action is action. The returned func
// removes it; calling it more than once is harmless.
func (c *Channel) Subscribe(action string, fn func(envelope.Envelope)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers[action] = append(c.handlers[action], handlerEntry{id: id, fn: fn})

	return func() {
		c.unsubscribe(action, id)
	}
}

func (c *Channel) unsubscribe(action string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.handlers[action]
	for i, e := range entries {
		if e.id == id {
			c.handlers[action] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.handlers[action]) == 0 {
		delete(c.handlers, action)
	}
}

// HandlerCount returns the number of live subscriptions.
func (c *Channel) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entries := range c.handlers {
		n += len(entries)
	}
	return n
}

func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = append(c.onState, fn)
	c.mu.Unlock()
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.mu.Lock()
	fns := append([]func(State){}, c.onState...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Start begins connecting in the background. It returns immediately. A
// channel can be started once; later calls are ignored.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closing {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run()
}

func (c *Channel) newBackoff() retry.Backoff {
	b := retry.NewExponential(c.settings.MinBackoff)
	b = retry.WithCappedDuration(c.settings.MaxBackoff, b)
	if c.settings.JitterPercent > 0 {
		b = retry.WithJitterPercent(c.settings.JitterPercent, b)
	}
	return b
}

func (c *Channel) run() {
	defer close(c.done)
	defer c.setState(Closed)

	backoff := c.newBackoff()
	for {
		if c.ctx.Err() != nil {
			return
		}

		c.setState(Connecting)
		cn, err := c.dial()
		if err != nil {
			wait, _ := backoff.Next()
			glog.Infof("[CHANNEL] dial %s: %v (retry in %s)", c.url, err, wait)
			if !c.sleep(wait) {
				return
			}
			continue
		}

		backoff = c.newBackoff()
		c.setState(Connected)
		glog.Infof("[CHANNEL] connected to %s", c.url)

		c.serve(cn)

		if c.ctx.Err() != nil {
			return
		}
		wait, _ := backoff.Next()
		glog.Warningf("[CHANNEL] connection lost, reconnecting in %s; events sent meanwhile are not replayed", wait)
		if !c.sleep(wait) {
			return
		}
	}
}

func (c *Channel) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Channel) dial() (*conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.settings.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(c.ctx, u.String(), header)
	if err != nil {
		return nil, err
	}

	cn := &conn{ws: ws}
	c.mu.Lock()
	if c.State() == Closed || c.ctx.Err() != nil {
		c.mu.Unlock()
		cn.close()
		return nil, context.Canceled
	}
	c.current = cn
	c.mu.Unlock()
	return cn, nil
}

// serve reads frames until the connection fails or the channel is closed.
func (c *Channel) serve(cn *conn) {
	defer func() {
		c.mu.Lock()
		if c.current == cn {
			c.current = nil
		}
		c.mu.Unlock()
		cn.close()
	}()

	ws := cn.ws
	ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(c.settings.PingTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				deadline := time.Now().Add(c.settings.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					glog.V(1).Infof("[CHANNEL] ping: %v", err)
					return
				}
			}
		}
	}()

	for {
		messageType, raw, err := ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				glog.Infof("[CHANNEL] read: %v", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		env, err := envelope.Unmarshal(raw)
		if err != nil {
			glog.Warningf("[CHANNEL] bad frame: %v", err)
			continue
		}
		c.deliver(env)
	}
}

func (c *Channel) deliver(env envelope.Envelope) {
	c.mu.Lock()
	entries := append([]handlerEntry{}, c.handlers[env.Action]...)
	c.mu.Unlock()

	if len(entries) == 0 {
		glog.V(2).Infof("[CHANNEL] no handler for %s", env.Action)
		return
	}
	for _, e := range entries {
		e.fn(env)
	}
}

// Close removes every handler and closes the connection. Only the first
// call has an effect; it waits for the read goroutine to exit.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		started := c.started
		cn := c.current
		c.current = nil
		c.handlers = make(map[string][]handlerEntry)
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if cn != nil {
			deadline := time.Now().Add(c.settings.WriteTimeout)
			cn.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				deadline,
			)
			err = cn.close()
		}
		if started {
			<-c.done
		} else {
			c.setState(Closed)
		}
		glog.V(1).Infof("[CHANNEL] closed %s", c.url)
	})
	return err
}
