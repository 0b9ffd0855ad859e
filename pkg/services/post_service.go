package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang/glog"

	"feedsync/pkg/apperr"
	"feedsync/pkg/envelope"
	"feedsync/pkg/models"
	"feedsync/pkg/repository"
)

const (
	MaxBodyLength = 5000
	feedCacheKey  = "feed:posts"
	feedCacheTTL  = 15 * time.Second
	serviceName   = "social"
)

// ErrNotOwner is an auth failure for writes to someone else's post.
var ErrNotOwner = fmt.Errorf("%w: not the author of this post", apperr.ErrAuth)

type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Del(ctx context.Context, keys ...string)
}

// Publisher announces committed writes to every connected client.
type Publisher interface {
	Broadcast(ctx context.Context, action, service string, data interface{}) error
}

type PostService interface {
	List(ctx context.Context) ([]models.Post, error)
	Create(ctx context.Context, author models.Claims, req models.CreatePostRequest) (models.Post, error)
	Like(ctx context.Context, userID, postID int) error
	Unlike(ctx context.Context, userID, postID int) error
	UpdateBody(ctx context.Context, userID, postID int, body string) (models.Post, error)
	Delete(ctx context.Context, userID, postID int) error
}

type postService struct {
	repo   repository.PostRepository
	cache  Cache
	events Publisher
}

func NewPostService(repo repository.PostRepository, cache Cache, events Publisher) PostService {
	return &postService{repo: repo, cache: cache, events: events}
}

func (s *postService) List(ctx context.Context) ([]models.Post, error) {
	var cached []models.Post
	if s.cache.Get(ctx, feedCacheKey, &cached) {
		return cached, nil
	}

	posts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	s.cache.Set(ctx, feedCacheKey, posts, feedCacheTTL)
	return posts, nil
}

func validBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", apperr.Validation("body must not be empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", apperr.Validation("body exceeds %d characters", MaxBodyLength)
	}
	return body, nil
}

func (s *postService) Create(ctx context.Context, author models.Claims, req models.CreatePostRequest) (models.Post, error) {
	body, err := validBody(req.Body)
	if err != nil {
		return models.Post{}, err
	}
	if req.UserID != 0 && req.UserID != author.UserID {
		return models.Post{}, apperr.Auth("cannot post as another user")
	}
	if req.ParentID != nil {
		if _, err := s.existing(ctx, *req.ParentID); err != nil {
			return models.Post{}, err
		}
	}

	p, err := s.repo.Create(ctx, body, author.Username, author.UserID, req.ParentID)
	if err != nil {
		return models.Post{}, fmt.Errorf("create post: %w", err)
	}

	s.changed(ctx, envelope.PostCreated, p)
	return p, nil
}

func (s *postService) Like(ctx context.Context, userID, postID int) error {
	return s.toggleLike(ctx, userID, postID, true)
}

func (s *postService) Unlike(ctx context.Context, userID, postID int) error {
	return s.toggleLike(ctx, userID, postID, false)
}

// toggleLike only announces a change when the like set actually changed.
// The repository moves the like set and the counter together.
func (s *postService) toggleLike(ctx context.Context, userID, postID int, isLike bool) error {
	if _, err := s.existing(ctx, postID); err != nil {
		return err
	}

	action := envelope.PostLiked
	var changed bool
	var err error
	if isLike {
		changed, err = s.repo.Like(ctx, userID, postID)
	} else {
		action = envelope.PostUnliked
		changed, err = s.repo.Unlike(ctx, userID, postID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.StaleReference("post %d not found", postID)
	}
	if err != nil {
		return fmt.Errorf("toggle like: %w", err)
	}
	if !changed {
		return nil
	}

	s.changed(ctx, action, models.PostRef{ID: postID})
	return nil
}

func (s *postService) UpdateBody(ctx context.Context, userID, postID int, body string) (models.Post, error) {
	body, err := validBody(body)
	if err != nil {
		return models.Post{}, err
	}

	p, err := s.repo.UpdateBody(ctx, postID, userID, body)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Post{}, s.missingOrNotOwner(ctx, postID)
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("update post: %w", err)
	}

	s.changed(ctx, envelope.PostUpdated, p)
	return p, nil
}

func (s *postService) Delete(ctx context.Context, userID, postID int) error {
	err := s.repo.Delete(ctx, postID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.missingOrNotOwner(ctx, postID)
	}
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	s.changed(ctx, envelope.PostDeleted, models.PostRef{ID: postID})
	return nil
}

func (s *postService) existing(ctx context.Context, id int) (models.Post, error) {
	p, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Post{}, apperr.StaleReference("post %d not found", id)
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("load post %d: %w", id, err)
	}
	return p, nil
}

func (s *postService) missingOrNotOwner(ctx context.Context, id int) error {
	if _, err := s.existing(ctx, id); err != nil {
		return err
	}
	return ErrNotOwner
}

// changed drops the cached feed and announces the write. A failed announce
// is logged; the write itself already committed.
func (s *postService) changed(ctx context.Context, action string, data interface{}) {
	s.cache.Del(ctx, feedCacheKey)
	if err := s.events.Broadcast(ctx, action, serviceName, data); err != nil {
		glog.Warningf("[SOCIAL] publish %s: %v", action, err)
	}
}
