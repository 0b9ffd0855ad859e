package feed

import (
	"bytes"
	"encoding/json"
	"fmt"

	"feedsync/pkg/envelope"
	"feedsync/pkg/models"
)

type EventKind string

const (
	PostCreated EventKind = envelope.PostCreated
	PostUpdated EventKind = envelope.PostUpdated
	PostLiked   EventKind = envelope.PostLiked
	PostUnliked EventKind = envelope.PostUnliked
	PostDeleted EventKind = envelope.PostDeleted
)

// Event is one push notification. Created and updated events carry Post,
// the others carry only ID.
type Event struct {
	Kind EventKind
	Post models.Post
	ID   int
}

func Created(p models.Post) Event { return Event{Kind: PostCreated, Post: p, ID: p.ID} }
func Updated(p models.Post) Event { return Event{Kind: PostUpdated, Post: p, ID: p.ID} }
func Liked(id int) Event          { return Event{Kind: PostLiked, ID: id} }
func Unliked(id int) Event        { return Event{Kind: PostUnliked, ID: id} }
func Deleted(id int) Event        { return Event{Kind: PostDeleted, ID: id} }

func (e Event) String() string {
	return fmt.Sprintf("%s(%d)", e.Kind, e.ID)
}

// EventFromEnvelope decodes a push frame. Id payloads may be a bare number
// or an object with an "id" field.
func EventFromEnvelope(env envelope.Envelope) (Event, error) {
	kind := EventKind(env.Action)
	switch kind {
	case PostCreated, PostUpdated:
		p, err := envelope.ParseData[models.Post](env)
		if err != nil {
			return Event{}, fmt.Errorf("%s payload: %w", kind, err)
		}
		if p.ID <= 0 {
			return Event{}, fmt.Errorf("%s payload: missing id", kind)
		}
		return Event{Kind: kind, Post: p, ID: p.ID}, nil
	case PostLiked, PostUnliked, PostDeleted:
		id, err := parseID(env.Data)
		if err != nil {
			return Event{}, fmt.Errorf("%s payload: %w", kind, err)
		}
		return Event{Kind: kind, ID: id}, nil
	default:
		return Event{}, fmt.Errorf("unknown action %q", env.Action)
	}
}

func parseID(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, fmt.Errorf("empty data")
	}
	var id int
	if raw[0] == '{' {
		var ref models.PostRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return 0, err
		}
		id = ref.ID
	} else if err := json.Unmarshal(raw, &id); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid id %d", id)
	}
	return id, nil
}
