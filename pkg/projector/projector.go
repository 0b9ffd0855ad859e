// Package projector derives read-only views from a feed snapshot.
//
// Every function takes the snapshot in store order (most recent first) and
// returns new slices; inputs are never modified.
package projector

import (
	"strings"

	"feedsync/pkg/models"
)

const DefaultPageSize = 10

// TopLevel returns the posts without a parent.
func TopLevel(posts []models.Post) []models.Post {
	out := []models.Post{}
	for _, p := range posts {
		if p.ParentID == nil {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Thread returns the direct replies of parentID. Orphans are only reachable
// through their missing parent's id.
func Thread(posts []models.Post, parentID int) []models.Post {
	out := []models.Post{}
	for _, p := range posts {
		if p.ParentID != nil && *p.ParentID == parentID {
			out = append(out, p.Clone())
		}
	}
	return out
}

func ReplyCount(posts []models.Post, id int) int {
	n := 0
	for _, p := range posts {
		if p.ParentID != nil && *p.ParentID == id {
			n++
		}
	}
	return n
}

type Node struct {
	Post    models.Post `json:"post"`
	Replies []Node      `json:"replies"`
}

// Tree expands the replies under rootID down to maxDepth levels by calling
// Thread on each child. maxDepth <= 0 means unlimited.
func Tree(posts []models.Post, rootID int, maxDepth int) []Node {
	children := make(map[int][]models.Post)
	for _, p := range posts {
		if p.ParentID != nil {
			children[*p.ParentID] = append(children[*p.ParentID], p)
		}
	}
	return expand(children, rootID, 1, maxDepth, map[int]bool{rootID: true})
}

func expand(children map[int][]models.Post, id, depth, maxDepth int, seen map[int]bool) []Node {
	nodes := []Node{}
	if maxDepth > 0 && depth > maxDepth {
		return nodes
	}
	for _, c := range children[id] {
		// a malformed parent cycle must not recurse forever
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		nodes = append(nodes, Node{
			Post:    c.Clone(),
			Replies: expand(children, c.ID, depth+1, maxDepth, seen),
		})
	}
	return nodes
}

// Orphans returns replies whose parent is not in posts.
func Orphans(posts []models.Post) []models.Post {
	present := make(map[int]bool, len(posts))
	for _, p := range posts {
		present[p.ID] = true
	}
	out := []models.Post{}
	for _, p := range posts {
		if p.ParentID != nil && !present[*p.ParentID] {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Matches reports whether term occurs in the body or author, ignoring case.
// The empty term matches everything.
func Matches(p models.Post, term string) bool {
	if term == "" {
		return true
	}
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(p.Body), term) ||
		strings.Contains(strings.ToLower(p.Author), term)
}

// Search filters the top-level posts by term.
func Search(posts []models.Post, term string) []models.Post {
	out := []models.Post{}
	for _, p := range TopLevel(posts) {
		if Matches(p, term) {
			out = append(out, p)
		}
	}
	return out
}
