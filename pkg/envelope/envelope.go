package envelope

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Push actions carried on the feed socket.
const (
	PostCreated = "PostCreated"
	PostUpdated = "PostUpdated"
	PostLiked   = "PostLiked"
	PostUnliked = "PostUnliked"
	PostDeleted = "PostDeleted"
)

// FeedActions lists every action a feed client subscribes to.
var FeedActions = []string{PostCreated, PostUpdated, PostLiked, PostUnliked, PostDeleted}

type Envelope struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Service   string          `json:"service,omitempty"`
	UserID    int             `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
	Timestamp int64           `json:"ts"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func New(action, service string) Envelope {
	return Envelope{
		ID:        ulid.Make().String(),
		Action:    action,
		Service:   service,
		Timestamp: time.Now().UnixMilli(),
	}
}

func NewEvent(action, service string, data interface{}) (Envelope, error) {
	e := New(action, service)
	raw, err := json.Marshal(data)
	if err != nil {
		return e, err
	}
	e.Data = raw
	return e, nil
}

func NewError(action, service string, code int, message string) Envelope {
	e := New(action+".error", service)
	e.Error = &ErrorPayload{Code: code, Message: message}
	return e
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

func ParseData[T any](e Envelope) (T, error) {
	var v T
	err := json.Unmarshal(e.Data, &v)
	return v, err
}
