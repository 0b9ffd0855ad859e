package services

import (
	"context"
	"database/sql"
	"flag"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"feedsync/pkg/cache"
	"feedsync/pkg/models"
	"feedsync/pkg/repository"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

type memPosts struct {
	mu    sync.Mutex
	posts map[int]models.Post
	likes map[[2]int]bool
	next  int
	lists int
	// likeErr fails like toggles as a broken transaction would
	likeErr error
}

func newMemPosts() *memPosts {
	return &memPosts{posts: map[int]models.Post{}, likes: map[[2]int]bool{}}
}

func (m *memPosts) List(ctx context.Context) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	out := []models.Post{}
	for id := m.next; id > 0; id-- {
		if p, ok := m.posts[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPosts) Get(ctx context.Context, id int) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return models.Post{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memPosts) Create(ctx context.Context, body, author string, userID int, parentID *int) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	p := models.Post{ID: m.next, Body: body, Author: author, UserID: userID, ParentID: parentID, CreatedAt: time.Now()}
	m.posts[p.ID] = p
	return p, nil
}

func (m *memPosts) UpdateBody(ctx context.Context, id, userID int, body string) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.UserID != userID {
		return models.Post{}, sql.ErrNoRows
	}
	p.Body = body
	m.posts[id] = p
	return p, nil
}

func (m *memPosts) Delete(ctx context.Context, id, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.posts, id)
	return nil
}

func (m *memPosts) Like(ctx context.Context, userID, postID int) (bool, error) {
	return m.toggle(userID, postID, true)
}

func (m *memPosts) Unlike(ctx context.Context, userID, postID int) (bool, error) {
	return m.toggle(userID, postID, false)
}

func (m *memPosts) toggle(userID, postID int, like bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.likeErr != nil {
		return false, m.likeErr
	}
	p, ok := m.posts[postID]
	if !ok {
		return false, sql.ErrNoRows
	}
	k := [2]int{userID, postID}
	if m.likes[k] == like {
		return false, nil
	}
	if like {
		m.likes[k] = true
		p.Likes++
	} else {
		delete(m.likes, k)
		p.Likes = max(p.Likes-1, 0)
	}
	m.posts[postID] = p
	return true, nil
}

type memUsers struct {
	mu     sync.Mutex
	byName map[string]models.User
	hashes map[string]string
}

func newMemUsers() *memUsers {
	return &memUsers{byName: map[string]models.User{}, hashes: map[string]string{}}
}

func (m *memUsers) Create(ctx context.Context, username, hashedPassword string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[username]; ok {
		return models.User{}, repository.ErrDuplicate
	}
	u := models.User{ID: len(m.byName) + 1, Username: username, CreatedAt: time.Now()}
	m.byName[username] = u
	m.hashes[username] = hashedPassword
	return u, nil
}

func (m *memUsers) ByUsername(ctx context.Context, username string) (models.User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byName[username]
	if !ok {
		return models.User{}, "", sql.ErrNoRows
	}
	return u, m.hashes[username], nil
}

func (m *memUsers) ByID(ctx context.Context, id int) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byName {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, sql.ErrNoRows
}

type published struct {
	action string
	data   interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Broadcast(ctx context.Context, action, service string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{action: action, data: data})
	return nil
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, e := range r.events {
		out = append(out, e.action)
	}
	return out
}

func newTestCache(t *testing.T) *cache.Redis {
	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c
}
