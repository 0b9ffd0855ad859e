package models

import "time"

type Post struct {
	ID        int       `json:"id"`
	Body      string    `json:"body"`
	UserID    int       `json:"user_id"`
	Author    string    `json:"author"`
	ParentID  *int      `json:"parent_id,omitempty"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
}

// IsReply reports whether the post hangs under another post.
func (p Post) IsReply() bool {
	return p.ParentID != nil
}

// Clone returns a copy that shares no memory with p.
func (p Post) Clone() Post {
	if p.ParentID != nil {
		pid := *p.ParentID
		p.ParentID = &pid
	}
	return p
}

type CreatePostRequest struct {
	Body     string `json:"body"`
	UserID   int    `json:"user_id"`
	ParentID *int   `json:"parent_id,omitempty"`
}

type UpdatePostRequest struct {
	Body string `json:"body"`
}

// PostRef is the payload of the id-only push events.
type PostRef struct {
	ID int `json:"id"`
}
