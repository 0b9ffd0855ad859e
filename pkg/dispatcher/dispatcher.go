// Package dispatcher sends write commands to the backend.
//
// A command's own response never touches the feed. Its effect shows up only
// when the matching push event arrives over the channel, so there is nothing
// to roll back when a command fails.
package dispatcher

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/golang/glog"

	"feedsync/pkg/apperr"
	"feedsync/pkg/models"
)

const MaxBodyLength = 5000

// Backend is the subset of the REST client the dispatcher needs.
type Backend interface {
	CreatePost(ctx context.Context, token string, req models.CreatePostRequest) (models.Post, error)
	Like(ctx context.Context, token string, id int) error
	Unlike(ctx context.Context, token string, id int) error
	UpdateBody(ctx context.Context, token string, id int, body string) error
	DeletePost(ctx context.Context, token string, id int) error
}

// TokenSource yields the bearer credential of the current session, or "".
type TokenSource interface {
	Token() string
}

type Dispatcher struct {
	backend Backend
	tokens  TokenSource
}

func New(backend Backend, tokens TokenSource) *Dispatcher {
	return &Dispatcher{backend: backend, tokens: tokens}
}

func (d *Dispatcher) token() string {
	if d.tokens == nil {
		return ""
	}
	return d.tokens.Token()
}

func validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", apperr.Validation("body is empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", apperr.Validation("body longer than %d characters", MaxBodyLength)
	}
	return body, nil
}

func validateID(id int) error {
	if id <= 0 {
		return apperr.Validation("invalid post id %d", id)
	}
	return nil
}

// CreatePost posts body as authorID, as a reply when parentID is set.
func (d *Dispatcher) CreatePost(ctx context.Context, body string, authorID int, parentID *int) error {
	body, err := validateBody(body)
	if err != nil {
		return err
	}
	if authorID <= 0 {
		return apperr.Validation("missing author")
	}
	if parentID != nil {
		if err := validateID(*parentID); err != nil {
			return err
		}
	}

	req := models.CreatePostRequest{Body: body, UserID: authorID, ParentID: parentID}
	if _, err := d.backend.CreatePost(ctx, d.token(), req); err != nil {
		glog.V(1).Infof("[DISPATCH] create: %v", err)
		return err
	}
	return nil
}

func (d *Dispatcher) Like(ctx context.Context, id int) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := d.backend.Like(ctx, d.token(), id); err != nil {
		glog.V(1).Infof("[DISPATCH] like %d: %v", id, err)
		return err
	}
	return nil
}

func (d *Dispatcher) Unlike(ctx context.Context, id int) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := d.backend.Unlike(ctx, d.token(), id); err != nil {
		glog.V(1).Infof("[DISPATCH] unlike %d: %v", id, err)
		return err
	}
	return nil
}

func (d *Dispatcher) UpdateBody(ctx context.Context, id int, newBody string) error {
	if err := validateID(id); err != nil {
		return err
	}
	body, err := validateBody(newBody)
	if err != nil {
		return err
	}
	if err := d.backend.UpdateBody(ctx, d.token(), id, body); err != nil {
		glog.V(1).Infof("[DISPATCH] update %d: %v", id, err)
		return err
	}
	return nil
}

func (d *Dispatcher) DeletePost(ctx context.Context, id int) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := d.backend.DeletePost(ctx, d.token(), id); err != nil {
		glog.V(1).Infof("[DISPATCH] delete %d: %v", id, err)
		return err
	}
	return nil
}

// Go runs cmd without blocking the caller. The result arrives on the
// returned channel, which is closed afterwards.
func Go(ctx context.Context, cmd func(context.Context) error) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		out <- cmd(ctx)
	}()
	return out
}
