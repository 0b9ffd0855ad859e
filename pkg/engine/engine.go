// Package engine wires the feed store, channel, reconciler, dispatcher and
// session into one client.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"feedsync/pkg/apperr"
	"feedsync/pkg/channel"
	"feedsync/pkg/dispatcher"
	"feedsync/pkg/feed"
	"feedsync/pkg/models"
	"feedsync/pkg/projector"
	"feedsync/pkg/session"
)

// Backend is everything the engine asks of the REST API.
type Backend interface {
	dispatcher.Backend
	session.Backend
	ListPosts(ctx context.Context) ([]models.Post, error)
}

// Channel is the push side as the engine uses it.
type Channel interface {
	feed.Source
	Start(ctx context.Context)
	State() channel.State
	Close() error
}

type Config struct {
	WSURL     string
	Channel   *channel.Settings
	QueueSize int
	// FetchTimeout bounds each bulk fetch. Zero means no extra bound.
	FetchTimeout time.Duration
}

type Deps struct {
	Backend     Backend
	Credentials session.CredentialStore
	// NewChannel overrides how a channel is built for a credential.
	NewChannel func(token string) Channel
}

type Engine struct {
	cfg        Config
	backend    Backend
	newChannel func(token string) Channel

	store      *feed.Store
	reconciler *feed.Reconciler
	session    *session.Manager
	dispatcher *dispatcher.Dispatcher

	mu      sync.Mutex
	ch      Channel
	ctx     context.Context
	cancel  context.CancelFunc
	runDone chan struct{}
	closed  bool

	closeOnce sync.Once
}

func New(cfg Config, deps Deps) *Engine {
	store := feed.NewStore()
	sess := session.NewManager(deps.Backend, deps.Credentials)

	e := &Engine{
		cfg:        cfg,
		backend:    deps.Backend,
		newChannel: deps.NewChannel,
		store:      store,
		reconciler: feed.NewReconciler(store, cfg.QueueSize),
		session:    sess,
		dispatcher: dispatcher.New(deps.Backend, sess),
	}
	if e.newChannel == nil {
		e.newChannel = func(token string) Channel {
			return channel.New(cfg.WSURL, token, cfg.Channel)
		}
	}
	return e
}

// Start restores the session, opens the channel and loads the feed. A failed
// fetch is returned but the engine keeps running on push events alone.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.ctx != nil || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.runDone = make(chan struct{})
	runCtx, done := e.ctx, e.runDone
	e.mu.Unlock()

	e.Restore(runCtx)

	go func() {
		defer close(done)
		e.reconciler.Run(runCtx)
	}()

	e.connect()
	return e.Refresh(runCtx)
}

// Restore brings back the persisted session, if any. Failures leave the
// engine logged out and are only reported.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	ok, err := e.session.Rehydrate(ctx)
	if err != nil {
		glog.Warningf("[ENGINE] continuing logged out: %v", err)
	}
	return ok, err
}

// connect swaps in a channel carrying the current credential.
func (e *Engine) connect() {
	ch := e.newChannel(e.session.Token())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		ch.Close()
		return
	}
	old := e.ch
	e.ch = ch
	ctx := e.ctx
	e.mu.Unlock()

	e.reconciler.Attach(ctx, ch)
	if old != nil {
		old.Close()
	}
	ch.Start(ctx)
}

// Refresh fetches every post and queues them behind any pending events.
func (e *Engine) Refresh(ctx context.Context) error {
	fetchCtx := ctx
	if e.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
	}
	posts, err := e.backend.ListPosts(fetchCtx)
	if err != nil {
		glog.Warningf("[ENGINE] fetch posts: %v", err)
		return err
	}
	return e.reconciler.SubmitLoad(ctx, posts)
}

// Sync waits until every event and fetch queued so far is in the store.
func (e *Engine) Sync(ctx context.Context) error {
	return e.reconciler.Sync(ctx)
}

// ──────────────────────────────────────────────
// Session
// ──────────────────────────────────────────────

func (e *Engine) Login(ctx context.Context, username, password string) (session.Session, error) {
	s, err := e.session.Login(ctx, username, password)
	if err != nil {
		return s, err
	}
	e.resync(ctx)
	return s, nil
}

func (e *Engine) Register(ctx context.Context, username, password string) (session.Session, error) {
	s, err := e.session.Register(ctx, username, password)
	if err != nil {
		return s, err
	}
	e.resync(ctx)
	return s, nil
}

// Logout drops the credential, reconnects anonymously and reloads the feed
// from scratch.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.session.Logout(ctx); err != nil {
		glog.Warningf("[ENGINE] clear credential: %v", err)
	}
	if !e.started() {
		return nil
	}
	e.reconnect()
	if err := e.reconciler.SubmitReset(ctx); err != nil {
		return err
	}
	return e.Refresh(ctx)
}

func (e *Engine) Session() (session.Session, bool) {
	return e.session.Current()
}

// resync moves to a channel with the new credential and fetches again, since
// frames published while the old channel closed are gone. A failed fetch is
// logged; the session stays established.
func (e *Engine) resync(ctx context.Context) {
	if !e.started() {
		return
	}
	e.connect()
	if err := e.Refresh(ctx); err != nil {
		glog.Warningf("[ENGINE] refetch after login: %v", err)
	}
}

func (e *Engine) reconnect() {
	if e.started() {
		e.connect()
	}
}

func (e *Engine) started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx != nil && !e.closed
}

// ──────────────────────────────────────────────
// Views
// ──────────────────────────────────────────────

func (e *Engine) Feed() []models.Post {
	return projector.TopLevel(e.store.Snapshot())
}

func (e *Engine) Thread(parentID int) []models.Post {
	return projector.Thread(e.store.Snapshot(), parentID)
}

func (e *Engine) Tree(rootID, maxDepth int) []projector.Node {
	return projector.Tree(e.store.Snapshot(), rootID, maxDepth)
}

func (e *Engine) ReplyCount(id int) int {
	return projector.ReplyCount(e.store.Snapshot(), id)
}

// Orphans lists replies whose parent is not in the store.
func (e *Engine) Orphans() []models.Post {
	return projector.Orphans(e.store.Snapshot())
}

func (e *Engine) Post(id int) (models.Post, bool) {
	return e.store.Get(id)
}

// Search applies p to the top-level feed.
func (e *Engine) Search(p *projector.Pager) projector.Page {
	return p.Apply(e.Feed())
}

// OnChange runs fn after each store change, on the reconciler goroutine.
func (e *Engine) OnChange(fn func()) {
	e.reconciler.OnChange(fn)
}

func (e *Engine) Stats() feed.Stats {
	return e.reconciler.Stats()
}

func (e *Engine) ChannelState() channel.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return channel.Closed
	}
	if e.ch == nil {
		return channel.Idle
	}
	return e.ch.State()
}

// ──────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────

// CreatePost posts body as the logged-in user. A nil parentID makes a
// top-level post.
func (e *Engine) CreatePost(ctx context.Context, body string, parentID *int) error {
	s, ok := e.session.Current()
	if !ok {
		return apperr.Auth("login required")
	}
	return e.dispatcher.CreatePost(ctx, body, s.User.ID, parentID)
}

func (e *Engine) Like(ctx context.Context, id int) error {
	return e.dispatcher.Like(ctx, id)
}

func (e *Engine) Unlike(ctx context.Context, id int) error {
	return e.dispatcher.Unlike(ctx, id)
}

func (e *Engine) UpdateBody(ctx context.Context, id int, body string) error {
	return e.dispatcher.UpdateBody(ctx, id, body)
}

func (e *Engine) DeletePost(ctx context.Context, id int) error {
	return e.dispatcher.DeletePost(ctx, id)
}

// Close detaches every handler, closes the channel and stops the reconciler.
// Events that arrive afterwards are dropped. Only the first call has an
// effect.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.reconciler.Detach()

		e.mu.Lock()
		e.closed = true
		ch := e.ch
		e.ch = nil
		cancel := e.cancel
		done := e.runDone
		e.mu.Unlock()

		if ch != nil {
			err = ch.Close()
		}
		if cancel != nil {
			cancel()
			<-done
		}
		glog.V(1).Infof("[ENGINE] closed")
	})
	return err
}
