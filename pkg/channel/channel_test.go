package channel

import (
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"feedsync/pkg/envelope"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func testSettings() *Settings {
	s := DefaultSettings()
	s.MinBackoff = 10 * time.Millisecond
	s.MaxBackoff = 50 * time.Millisecond
	s.JitterPercent = 0
	return s
}

// hub is a test websocket server. Each accepted connection receives the
// next batch of frames; a batch ending the connection simulates a drop.
type hub struct {
	server   *httptest.Server
	mu       sync.Mutex
	batches  [][]envelope.Envelope
	conns    int
	auth     []string
	holdOpen bool
}

func newHub(t *testing.T, holdOpen bool, batches ...[]envelope.Envelope) *hub {
	h := &hub{batches: batches, holdOpen: holdOpen}
	upgrader := websocket.Upgrader{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		h.mu.Lock()
		h.auth = append(h.auth, r.Header.Get("Authorization"))
		var batch []envelope.Envelope
		if h.conns < len(h.batches) {
			batch = h.batches[h.conns]
		}
		h.conns++
		last := h.conns >= len(h.batches)
		h.mu.Unlock()

		for _, env := range batch {
			raw, _ := env.Marshal()
			if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
		if last && h.holdOpen {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *hub) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func frame(t *testing.T, action string, id int) envelope.Envelope {
	env, err := envelope.NewEvent(action, "social", id)
	assert.Equal(t, err, nil)
	return env
}

type recorder struct {
	mu     sync.Mutex
	frames []string
	got    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 64)}
}

func (r *recorder) handle(env envelope.Envelope) {
	id, _ := envelope.ParseData[int](env)
	r.mu.Lock()
	r.frames = append(r.frames, env.Action+":"+string(rune('0'+id)))
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []string {
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %v", r.frames)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.frames...)
}

func TestDeliversInOrder(t *testing.T) {
	h := newHub(t, true, []envelope.Envelope{
		frame(t, envelope.PostLiked, 5),
		frame(t, envelope.PostLiked, 5),
		frame(t, envelope.PostUnliked, 5),
		frame(t, "userCount", 1),
		frame(t, envelope.PostDeleted, 5),
	})

	rec := newRecorder()
	c := New(h.url(), "secret", testSettings())
	for _, action := range envelope.FeedActions {
		c.Subscribe(action, rec.handle)
	}
	c.Start(context.Background())

	got := rec.wait(t, 4)
	assert.Equal(t, got, []string{"PostLiked:5", "PostLiked:5", "PostUnliked:5", "PostDeleted:5"})
	assert.Equal(t, c.State(), Connected)

	assert.Equal(t, c.Close(), nil)
	assert.Equal(t, c.State(), Closed)
	assert.Equal(t, c.HandlerCount(), 0)

	h.mu.Lock()
	assert.Equal(t, h.auth[0], "Bearer secret")
	h.mu.Unlock()
}

func TestReconnectsAfterDrop(t *testing.T) {
	h := newHub(t, true,
		[]envelope.Envelope{frame(t, envelope.PostLiked, 1)},
		[]envelope.Envelope{frame(t, envelope.PostLiked, 2)},
	)

	states := make(chan State, 16)
	rec := newRecorder()
	c := New(h.url(), "", testSettings())
	c.OnStateChange(func(s State) { states <- s })
	c.Subscribe(envelope.PostLiked, rec.handle)
	c.Start(context.Background())
	defer c.Close()

	got := rec.wait(t, 2)
	assert.Equal(t, got, []string{"PostLiked:1", "PostLiked:2"})

	h.mu.Lock()
	assert.Equal(t, h.conns, 2)
	assert.Equal(t, h.auth[0], "")
	h.mu.Unlock()

	assert.Equal(t, <-states, Connecting)
	assert.Equal(t, <-states, Connected)
	assert.Equal(t, <-states, Connecting)
	assert.Equal(t, <-states, Connected)
}

func TestUnsubscribe(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", "", testSettings())
	calls := 0
	off := c.Subscribe(envelope.PostCreated, func(envelope.Envelope) { calls++ })
	c.Subscribe(envelope.PostCreated, func(envelope.Envelope) { calls += 10 })
	assert.Equal(t, c.HandlerCount(), 2)

	off()
	off()
	assert.Equal(t, c.HandlerCount(), 1)

	c.deliver(envelope.New(envelope.PostCreated, "social"))
	assert.Equal(t, calls, 10)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", "", testSettings())
	c.Subscribe(envelope.PostCreated, func(envelope.Envelope) {})
	c.Start(context.Background())

	assert.Equal(t, c.Close(), nil)
	assert.Equal(t, c.Close(), nil)
	assert.Equal(t, c.State(), Closed)
	assert.Equal(t, c.HandlerCount(), 0)

	// a closed channel cannot be restarted
	c.Start(context.Background())
	assert.Equal(t, c.State(), Closed)
}

func TestCloseBeforeStart(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", "", testSettings())
	assert.Equal(t, c.Close(), nil)
	assert.Equal(t, c.State(), Closed)
}

func TestStartRacingClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := New("ws://127.0.0.1:1/ws", "", testSettings())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			c.Close()
		}()
		wg.Wait()

		// whichever won, no dial loop outlives Close
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started {
			select {
			case <-c.done:
			case <-time.After(2 * time.Second):
				t.Fatalf("run loop still going after Close (iteration %d)", i)
			}
		}
		assert.Equal(t, c.State(), Closed)
	}
}
