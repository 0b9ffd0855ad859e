package repository

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"os"
	"testing"

	"github.com/go-playground/assert/v2"

	"feedsync/pkg/database"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// testDB connects to FEED_TEST_DATABASE_URL, migrates it and empties the
// feed tables. Tests that need postgres skip when it is unset.
func testDB(t *testing.T) *sql.DB {
	url := os.Getenv("FEED_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FEED_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.Connect(ctx, url)
	assert.Equal(t, err, nil)
	t.Cleanup(func() { db.Close() })

	assert.Equal(t, database.Migrate(ctx, db), nil)
	_, err = db.ExecContext(ctx, `TRUNCATE post_likes, posts, users RESTART IDENTITY CASCADE`)
	assert.Equal(t, err, nil)
	return db
}

func likeRows(t *testing.T, db *sql.DB, postID int) int {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM post_likes WHERE post_id = $1`, postID).Scan(&n)
	assert.Equal(t, err, nil)
	return n
}

func TestPostRepositoryLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	users := NewUserRepository(db)
	posts := NewPostRepository(db)

	alice, err := users.Create(ctx, "alice", "hash")
	assert.Equal(t, err, nil)
	bob, err := users.Create(ctx, "Bob", "hash")
	assert.Equal(t, err, nil)
	assert.Equal(t, bob.Username, "bob")

	_, err = users.Create(ctx, "ALICE", "hash")
	assert.Equal(t, errors.Is(err, ErrDuplicate), true)

	root, err := posts.Create(ctx, "root", alice.Username, alice.ID, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, root.ParentID == nil, true)
	reply, err := posts.Create(ctx, "reply", bob.Username, bob.ID, &root.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, *reply.ParentID, root.ID)

	list, err := posts.List(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(list), 2)
	assert.Equal(t, list[0].ID, reply.ID)

	// only the owner can edit
	_, err = posts.UpdateBody(ctx, root.ID, bob.ID, "hijacked")
	assert.Equal(t, errors.Is(err, sql.ErrNoRows), true)
	edited, err := posts.UpdateBody(ctx, root.ID, alice.ID, "edited")
	assert.Equal(t, err, nil)
	assert.Equal(t, edited.Body, "edited")

	// deleting the root takes the reply with it
	assert.Equal(t, errors.Is(posts.Delete(ctx, root.ID, bob.ID), sql.ErrNoRows), true)
	assert.Equal(t, posts.Delete(ctx, root.ID, alice.ID), nil)
	_, err = posts.Get(ctx, reply.ID)
	assert.Equal(t, errors.Is(err, sql.ErrNoRows), true)
}

func TestPostRepositoryLikesStayInStep(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	users := NewUserRepository(db)
	posts := NewPostRepository(db)

	alice, _ := users.Create(ctx, "alice", "hash")
	bob, _ := users.Create(ctx, "bob", "hash")
	p, err := posts.Create(ctx, "likeable", alice.Username, alice.ID, nil)
	assert.Equal(t, err, nil)

	changed, err := posts.Like(ctx, bob.ID, p.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, changed, true)
	changed, err = posts.Like(ctx, bob.ID, p.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, changed, false)
	posts.Like(ctx, alice.ID, p.ID)

	got, _ := posts.Get(ctx, p.ID)
	assert.Equal(t, got.Likes, 2)
	assert.Equal(t, likeRows(t, db, p.ID), 2)

	changed, err = posts.Unlike(ctx, bob.ID, p.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, changed, true)
	changed, _ = posts.Unlike(ctx, bob.ID, p.ID)
	assert.Equal(t, changed, false)

	got, _ = posts.Get(ctx, p.ID)
	assert.Equal(t, got.Likes, 1)
	assert.Equal(t, likeRows(t, db, p.ID), 1)

	// a like on a missing post is rejected and leaves nothing behind
	_, err = posts.Like(ctx, bob.ID, p.ID+1000)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, likeRows(t, db, p.ID+1000), 0)
}
