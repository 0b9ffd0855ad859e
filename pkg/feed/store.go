package feed

import (
	"sort"
	"sync"

	"feedsync/pkg/models"
)

type entry struct {
	post models.Post
	// higher rank = more recent position
	rank int64
}

// Store is the canonical, id-indexed collection of posts.
//
// Exactly one writer (the Reconciler) mutates it. Any number of readers may
// call Get, Len and Snapshot concurrently; they always receive copies.
type Store struct {
	mu    sync.RWMutex
	byID  map[int]*entry
	front int64
	back  int64
}

func NewStore() *Store {
	return &Store{byID: make(map[int]*entry)}
}

// Upsert inserts p as the most recent post, or overwrites an existing post
// with the same id without moving it.
func (s *Store) Upsert(p models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byID[p.ID]; ok {
		e.post = p.Clone()
		return
	}
	s.front++
	s.byID[p.ID] = &entry{post: p.Clone(), rank: s.front}
}

// Append inserts p behind every post already present. An existing post is
// left untouched and Append returns false.
func (s *Store) Append(p models.Post) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.ID]; ok {
		return false
	}
	s.back--
	s.byID[p.ID] = &entry{post: p.Clone(), rank: s.back}
	return true
}

// ApplyLikeDelta adjusts the like count of id. Unknown ids are ignored.
func (s *Store) ApplyLikeDelta(id, delta int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return false
	}
	next := e.post.Clone()
	next.Likes += delta
	e.post = next
	return true
}

// Remove deletes id. Replies of id are kept.
func (s *Store) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[int]*entry)
	s.front = 0
	s.back = 0
}

func (s *Store) Get(id int) (models.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return models.Post{}, false
	}
	return e.post.Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot returns every post, most recent first.
func (s *Store) Snapshot() []models.Post {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	posts := make([]models.Post, len(entries))
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].rank > entries[j].rank
	})
	for i, e := range entries {
		posts[i] = e.post.Clone()
	}
	s.mu.RUnlock()
	return posts
}
