package server

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gofiber/fiber/v2"

	"feedsync/pkg/api"
	"feedsync/pkg/apperr"
	"feedsync/pkg/channel"
	"feedsync/pkg/envelope"
	"feedsync/pkg/handlers"
	"feedsync/pkg/hub"
	"feedsync/pkg/models"
	"feedsync/pkg/services"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

type fakePosts struct {
	mu    sync.Mutex
	posts map[int]models.Post
	next  int
}

func (f *fakePosts) List(ctx context.Context) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Post{}
	for id := f.next; id > 0; id-- {
		if p, ok := f.posts[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePosts) Create(ctx context.Context, author models.Claims, req models.CreatePostRequest) (models.Post, error) {
	if strings.TrimSpace(req.Body) == "" {
		return models.Post{}, apperr.Validation("body must not be empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	p := models.Post{ID: f.next, Body: req.Body, UserID: author.UserID, Author: author.Username, ParentID: req.ParentID}
	f.posts[p.ID] = p
	return p, nil
}

func (f *fakePosts) Like(ctx context.Context, userID, postID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.posts[postID]; !ok {
		return apperr.StaleReference("post %d not found", postID)
	}
	return nil
}

func (f *fakePosts) Unlike(ctx context.Context, userID, postID int) error {
	return f.Like(ctx, userID, postID)
}

func (f *fakePosts) owned(userID, postID int) (models.Post, error) {
	p, ok := f.posts[postID]
	if !ok {
		return models.Post{}, apperr.StaleReference("post %d not found", postID)
	}
	if p.UserID != userID {
		return models.Post{}, services.ErrNotOwner
	}
	return p, nil
}

func (f *fakePosts) UpdateBody(ctx context.Context, userID, postID int, body string) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.owned(userID, postID)
	if err != nil {
		return models.Post{}, err
	}
	p.Body = body
	f.posts[postID] = p
	return p, nil
}

func (f *fakePosts) Delete(ctx context.Context, userID, postID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.owned(userID, postID); err != nil {
		return err
	}
	delete(f.posts, postID)
	return nil
}

type fakeAuth struct{}

var users = map[string]models.User{
	"alice": {ID: 1, Username: "alice"},
	"bob":   {ID: 2, Username: "bob"},
}

func (fakeAuth) Register(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	if _, ok := users[creds.Username]; ok {
		return models.AuthResponse{}, apperr.Validation("username already taken")
	}
	return models.AuthResponse{Credential: "tok-" + creds.Username, User: models.User{ID: 3, Username: creds.Username}}, nil
}

func (fakeAuth) Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	u, ok := users[creds.Username]
	if !ok || creds.Password != "secret1" {
		return models.AuthResponse{}, apperr.Auth("wrong username or password")
	}
	return models.AuthResponse{Credential: "tok-" + u.Username, User: u}, nil
}

func (a fakeAuth) Session(ctx context.Context, token string) (models.User, error) {
	c, err := a.Parse(token)
	if err != nil {
		return models.User{}, err
	}
	return users[c.Username], nil
}

func (fakeAuth) Parse(token string) (models.Claims, error) {
	u, ok := users[strings.TrimPrefix(token, "tok-")]
	if !ok || !strings.HasPrefix(token, "tok-") {
		return models.Claims{}, apperr.Auth("invalid credential")
	}
	return models.Claims{UserID: u.ID, Username: u.Username}, nil
}

type testServer struct {
	hub    *hub.Hub
	client *api.Client
	wsURL  string
}

func startServer(t *testing.T) *testServer {
	h := hub.New()
	app := NewApp("feed-test", "*")
	Mount(app, Routes{
		Posts:  handlers.NewPosts(&fakePosts{posts: map[int]models.Post{}}),
		Auth:   handlers.NewAuth(fakeAuth{}),
		Hub:    h,
		Tokens: fakeAuth{},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	addr := ln.Addr().String()
	return &testServer{
		hub:    h,
		client: api.New("http://"+addr, 2*time.Second),
		wsURL:  "ws://" + addr + "/ws",
	}
}

func TestRESTContract(t *testing.T) {
	ctx := context.Background()
	s := startServer(t)

	_, err := s.client.Login(ctx, models.Credentials{Username: "alice", Password: "nope"})
	assert.Equal(t, errors.Is(err, apperr.ErrAuth), true)

	alice, err := s.client.Login(ctx, models.Credentials{Username: "alice", Password: "secret1"})
	assert.Equal(t, err, nil)
	bob, _ := s.client.Login(ctx, models.Credentials{Username: "bob", Password: "secret1"})

	_, err = s.client.Register(ctx, models.Credentials{Username: "alice", Password: "secret1"})
	assert.Equal(t, errors.Is(err, apperr.ErrValidation), true)

	me, err := s.client.Session(ctx, alice.Credential)
	assert.Equal(t, err, nil)
	assert.Equal(t, me.Username, "alice")
	_, err = s.client.Session(ctx, "forged")
	assert.Equal(t, errors.Is(err, apperr.ErrAuth), true)

	_, err = s.client.CreatePost(ctx, "", models.CreatePostRequest{Body: "anon"})
	assert.Equal(t, errors.Is(err, apperr.ErrAuth), true)

	p, err := s.client.CreatePost(ctx, alice.Credential, models.CreatePostRequest{Body: "hello", UserID: 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, p.Author, "alice")

	_, err = s.client.CreatePost(ctx, alice.Credential, models.CreatePostRequest{Body: " "})
	assert.Equal(t, errors.Is(err, apperr.ErrValidation), true)

	assert.Equal(t, s.client.Like(ctx, bob.Credential, p.ID), nil)
	assert.Equal(t, errors.Is(s.client.Like(ctx, bob.Credential, 99), apperr.ErrStaleReference), true)

	err = s.client.UpdateBody(ctx, bob.Credential, p.ID, "hijack")
	assert.Equal(t, errors.Is(err, apperr.ErrAuth), true)
	assert.Equal(t, s.client.UpdateBody(ctx, alice.Credential, p.ID, "edited"), nil)

	posts, err := s.client.ListPosts(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(posts), 1)
	assert.Equal(t, posts[0].Body, "edited")

	assert.Equal(t, s.client.DeletePost(ctx, alice.Credential, p.ID), nil)
	assert.Equal(t, errors.Is(s.client.DeletePost(ctx, alice.Credential, p.ID), apperr.ErrStaleReference), true)
}

func TestPushReachesChannel(t *testing.T) {
	s := startServer(t)

	settings := channel.DefaultSettings()
	settings.MinBackoff = 10 * time.Millisecond
	ch := channel.New(s.wsURL, "tok-alice", settings)
	defer ch.Close()

	got := make(chan envelope.Envelope, 4)
	ch.Subscribe(envelope.PostCreated, func(env envelope.Envelope) { got <- env })
	ch.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for s.hub.AuthenticatedCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env, _ := envelope.NewEvent(envelope.PostCreated, "social", models.Post{ID: 5, Body: "live"})
	s.hub.Broadcast(env)

	select {
	case env := <-got:
		p, err := envelope.ParseData[models.Post](env)
		assert.Equal(t, err, nil)
		assert.Equal(t, p.Body, "live")
	case <-time.After(3 * time.Second):
		t.Fatal("push not delivered")
	}
}

func TestHealth(t *testing.T) {
	app := NewApp("feed-test", "*")
	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, resp.StatusCode, fiber.StatusOK)
}
