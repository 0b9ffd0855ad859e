package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"feedsync/pkg/envelope"
	"feedsync/pkg/models"
)

const DefaultQueueSize = 256

// Source delivers push frames by action name. The returned func removes the
// handler.
type Source interface {
	Subscribe(action string, fn func(envelope.Envelope)) func()
}

type Stats struct {
	Applied   int64
	Stale     int64
	Malformed int64
}

type taskKind int

const (
	taskEvent taskKind = iota
	taskLoad
	taskReset
	taskBarrier
)

type task struct {
	kind  taskKind
	event Event
	posts []models.Post
	done  chan struct{}
}

// Reconciler turns push events and bulk fetches into Store mutations.
// Run is the only goroutine that writes to the store; Submit* calls queue
// work for it in order.
type Reconciler struct {
	store *Store
	queue chan task

	stopOnce sync.Once
	stopped  chan struct{}

	mu       sync.Mutex
	detach   []func()
	onChange []func()

	applied   atomic.Int64
	stale     atomic.Int64
	malformed atomic.Int64
}

func NewReconciler(store *Store, queueSize int) *Reconciler {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Reconciler{
		store:   store,
		queue:   make(chan task, queueSize),
		stopped: make(chan struct{}),
	}
}

func (r *Reconciler) Store() *Store {
	return r.store
}

// Apply translates one event into exactly one store operation. Events that
// address a missing post are counted and dropped.
func (r *Reconciler) Apply(ev Event) bool {
	var ok bool
	switch ev.Kind {
	case PostCreated, PostUpdated:
		r.store.Upsert(ev.Post)
		ok = true
	case PostLiked:
		ok = r.store.ApplyLikeDelta(ev.ID, +1)
	case PostUnliked:
		ok = r.store.ApplyLikeDelta(ev.ID, -1)
	case PostDeleted:
		ok = r.store.Remove(ev.ID)
	default:
		r.malformed.Add(1)
		glog.Warningf("[FEED] unknown event kind %q", ev.Kind)
		return false
	}

	if !ok {
		r.stale.Add(1)
		glog.V(1).Infof("[FEED] stale reference %s", ev)
		return false
	}
	r.applied.Add(1)
	glog.V(2).Infof("[FEED] applied %s", ev)
	return true
}

// Load merges a bulk fetch, given most recent first, behind what the store
// already holds. Posts already known came from newer events and are kept.
func (r *Reconciler) Load(posts []models.Post) int {
	n := 0
	for _, p := range posts {
		if r.store.Append(p) {
			n++
		}
	}
	glog.V(1).Infof("[FEED] loaded %d/%d posts", n, len(posts))
	return n
}

// Run applies queued work until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.stopOnce.Do(func() { close(r.stopped) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-r.queue:
			r.run(t)
		}
	}
}

func (r *Reconciler) run(t task) {
	changed := false
	switch t.kind {
	case taskEvent:
		changed = r.Apply(t.event)
	case taskLoad:
		changed = r.Load(t.posts) > 0
	case taskReset:
		r.store.Reset()
		changed = true
	case taskBarrier:
		close(t.done)
	}
	if changed {
		r.notify()
	}
}

func (r *Reconciler) Submit(ctx context.Context, ev Event) error {
	return r.enqueue(ctx, task{kind: taskEvent, event: ev})
}

func (r *Reconciler) SubmitLoad(ctx context.Context, posts []models.Post) error {
	return r.enqueue(ctx, task{kind: taskLoad, posts: posts})
}

func (r *Reconciler) SubmitReset(ctx context.Context) error {
	return r.enqueue(ctx, task{kind: taskReset})
}

// Sync waits until everything queued before the call has been applied.
func (r *Reconciler) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.enqueue(ctx, task{kind: taskBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return context.Canceled
	}
}

func (r *Reconciler) enqueue(ctx context.Context, t task) error {
	select {
	case <-r.stopped:
		return context.Canceled
	default:
	}
	select {
	case r.queue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return context.Canceled
	}
}

// Attach subscribes to every feed action on src. Any earlier attachment is
// removed first, so handlers never pile up across reconnects.
func (r *Reconciler) Attach(ctx context.Context, src Source) {
	r.Detach()

	handler := func(env envelope.Envelope) {
		ev, err := EventFromEnvelope(env)
		if err != nil {
			r.malformed.Add(1)
			glog.Warningf("[FEED] dropping frame %s: %v", env.ID, err)
			return
		}
		if err := r.Submit(ctx, ev); err != nil {
			glog.V(1).Infof("[FEED] %s not queued: %v", ev, err)
		}
	}

	detach := make([]func(), 0, len(envelope.FeedActions))
	for _, action := range envelope.FeedActions {
		detach = append(detach, src.Subscribe(action, handler))
	}

	r.mu.Lock()
	r.detach = detach
	r.mu.Unlock()
}

func (r *Reconciler) Detach() {
	r.mu.Lock()
	detach := r.detach
	r.detach = nil
	r.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

// OnChange registers fn to run on the writer goroutine after each task that
// changed the store.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

func (r *Reconciler) notify() {
	r.mu.Lock()
	fns := append([]func(){}, r.onChange...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (r *Reconciler) Stats() Stats {
	return Stats{
		Applied:   r.applied.Load(),
		Stale:     r.stale.Load(),
		Malformed: r.malformed.Load(),
	}
}
