// Package api is the REST client for the feed backend.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang/glog"

	"feedsync/pkg/apperr"
	"feedsync/pkg/models"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	timeout time.Duration
	http    *fiber.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &fiber.Client{UserAgent: "feedsync"},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ──────────────────────────────────────────────
// Posts
// ──────────────────────────────────────────────

func (c *Client) ListPosts(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	if err := c.do(ctx, c.http.Get(c.url("/api/posts")), "", &posts); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return posts, nil
}

func (c *Client) CreatePost(ctx context.Context, token string, req models.CreatePostRequest) (models.Post, error) {
	var p models.Post
	a := c.http.Post(c.url("/api/posts")).JSON(req)
	if err := c.do(ctx, a, token, &p); err != nil {
		return models.Post{}, fmt.Errorf("create post: %w", err)
	}
	return p, nil
}

func (c *Client) Like(ctx context.Context, token string, id int) error {
	if err := c.do(ctx, c.http.Post(c.url(fmt.Sprintf("/api/posts/%d/like", id))), token, nil); err != nil {
		return fmt.Errorf("like %d: %w", id, err)
	}
	return nil
}

func (c *Client) Unlike(ctx context.Context, token string, id int) error {
	if err := c.do(ctx, c.http.Post(c.url(fmt.Sprintf("/api/posts/%d/unlike", id))), token, nil); err != nil {
		return fmt.Errorf("unlike %d: %w", id, err)
	}
	return nil
}

func (c *Client) UpdateBody(ctx context.Context, token string, id int, body string) error {
	a := c.http.Put(c.url(fmt.Sprintf("/api/posts/%d", id))).JSON(models.UpdatePostRequest{Body: body})
	if err := c.do(ctx, a, token, nil); err != nil {
		return fmt.Errorf("update %d: %w", id, err)
	}
	return nil
}

func (c *Client) DeletePost(ctx context.Context, token string, id int) error {
	if err := c.do(ctx, c.http.Delete(c.url(fmt.Sprintf("/api/posts/%d", id))), token, nil); err != nil {
		return fmt.Errorf("delete %d: %w", id, err)
	}
	return nil
}

// ──────────────────────────────────────────────
// Auth
// ──────────────────────────────────────────────

func (c *Client) Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, c.http.Post(c.url("/auth/login")).JSON(creds), "", &resp); err != nil {
		return models.AuthResponse{}, fmt.Errorf("login: %w", err)
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, c.http.Post(c.url("/auth/register")).JSON(creds), "", &resp); err != nil {
		return models.AuthResponse{}, fmt.Errorf("register: %w", err)
	}
	return resp, nil
}

// Session validates token and returns the user it belongs to.
func (c *Client) Session(ctx context.Context, token string) (models.User, error) {
	var u models.User
	if err := c.do(ctx, c.http.Get(c.url("/auth/session")), token, &u); err != nil {
		return models.User{}, fmt.Errorf("session: %w", err)
	}
	return u, nil
}

// ──────────────────────────────────────────────
// Transport
// ──────────────────────────────────────────────

func (c *Client) url(path string) string {
	return c.baseURL + path
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, a *fiber.Agent, token string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return apperr.Network("%v", err)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)

	code, body, errs := a.Timeout(timeout).Bytes()
	if len(errs) > 0 {
		glog.V(1).Infof("[API] transport: %v", errs)
		return apperr.Network("%v", errs[0])
	}

	if code >= 200 && code < 300 {
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return apperr.Network("decode response: %v", err)
		}
		return nil
	}
	return statusError(code, body)
}

func statusError(code int, body []byte) error {
	var eb errorBody
	msg := ""
	if json.Unmarshal(body, &eb) == nil {
		msg = eb.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("status %d", code)
	}

	switch code {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return apperr.Validation("%s", msg)
	case fiber.StatusUnauthorized, fiber.StatusForbidden:
		return apperr.Auth("%s", msg)
	case fiber.StatusNotFound:
		return apperr.StaleReference("%s", msg)
	default:
		return apperr.Network("%s", msg)
	}
}
