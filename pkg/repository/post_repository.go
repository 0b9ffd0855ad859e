package repository

import (
	"context"
	"database/sql"
	"errors"

	"feedsync/pkg/models"
)

type PostRepository interface {
	List(ctx context.Context) ([]models.Post, error)
	Get(ctx context.Context, id int) (models.Post, error)
	Create(ctx context.Context, body, author string, userID int, parentID *int) (models.Post, error)
	UpdateBody(ctx context.Context, id, userID int, body string) (models.Post, error)
	Delete(ctx context.Context, id, userID int) error
	Like(ctx context.Context, userID, postID int) (bool, error)
	Unlike(ctx context.Context, userID, postID int) (bool, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `p.id, p.body, p.author, COALESCE(p.user_id, 0), p.parent_id, p.likes, p.created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row scanner) (models.Post, error) {
	var p models.Post
	var parent sql.NullInt64
	err := row.Scan(&p.ID, &p.Body, &p.Author, &p.UserID, &parent, &p.Likes, &p.CreatedAt)
	if parent.Valid {
		pid := int(parent.Int64)
		p.ParentID = &pid
	}
	return p, err
}

// List returns every post, newest first.
func (r *postRepository) List(ctx context.Context) ([]models.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		ORDER BY p.created_at DESC, p.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (r *postRepository) Get(ctx context.Context, id int) (models.Post, error) {
	return scanPost(r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.id = $1`, id))
}

func (r *postRepository) Create(ctx context.Context, body, author string, userID int, parentID *int) (models.Post, error) {
	var parent interface{}
	if parentID != nil {
		parent = *parentID
	}
	return scanPost(r.db.QueryRowContext(ctx, `
		INSERT INTO posts (body, author, user_id, parent_id, likes)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING id, body, author, COALESCE(user_id, 0), parent_id, likes, created_at
	`, body, author, userID, parent))
}

// UpdateBody changes the body of a post owned by userID. It returns
// sql.ErrNoRows when no such post exists for that owner.
func (r *postRepository) UpdateBody(ctx context.Context, id, userID int, body string) (models.Post, error) {
	return scanPost(r.db.QueryRowContext(ctx, `
		UPDATE posts SET body = $1 WHERE id = $2 AND user_id = $3
		RETURNING id, body, author, COALESCE(user_id, 0), parent_id, likes, created_at
	`, body, id, userID))
}

// Delete removes a post owned by userID; replies go with it.
func (r *postRepository) Delete(ctx context.Context, id, userID int) error {
	var deletedID int
	return r.db.QueryRowContext(ctx, `
		DELETE FROM posts WHERE id = $1 AND user_id = $2
		RETURNING id
	`, id, userID).Scan(&deletedID)
}

// Like records that userID likes postID and bumps the counter in the same
// transaction. It reports false when the like already existed.
func (r *postRepository) Like(ctx context.Context, userID, postID int) (bool, error) {
	return r.toggleLike(ctx, userID, postID, `
		INSERT INTO post_likes (user_id, post_id) VALUES ($1, $2)
		ON CONFLICT (user_id, post_id) DO NOTHING
		RETURNING 1
	`, `
		UPDATE posts SET likes = likes + 1 WHERE id = $1
		RETURNING likes
	`)
}

// Unlike is the inverse of Like; the counter never drops below zero.
func (r *postRepository) Unlike(ctx context.Context, userID, postID int) (bool, error) {
	return r.toggleLike(ctx, userID, postID, `
		DELETE FROM post_likes WHERE user_id = $1 AND post_id = $2
		RETURNING 1
	`, `
		UPDATE posts SET likes = GREATEST(likes - 1, 0) WHERE id = $1
		RETURNING likes
	`)
}

// toggleLike changes the like set and the counter together or not at all.
func (r *postRepository) toggleLike(ctx context.Context, userID, postID int, setQuery, counterQuery string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var dummy int
	err = tx.QueryRowContext(ctx, setQuery, userID, postID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var likes int
	if err := tx.QueryRowContext(ctx, counterQuery, postID).Scan(&likes); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
