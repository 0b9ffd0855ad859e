package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"feedsync/pkg/models"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate")

type UserRepository interface {
	Create(ctx context.Context, username, hashedPassword string) (models.User, error)
	ByUsername(ctx context.Context, username string) (models.User, string, error)
	ByID(ctx context.Context, id int) (models.User, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, username, hashedPassword string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password) VALUES ($1, $2)
		 RETURNING id, username, created_at`,
		strings.ToLower(username), hashedPassword,
	).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if isUniqueViolation(err) {
		return models.User{}, ErrDuplicate
	}
	return user, err
}

func (r *userRepository) ByUsername(ctx context.Context, username string) (models.User, string, error) {
	var user models.User
	var hashedPw string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password, created_at FROM users WHERE username = $1`,
		strings.ToLower(username),
	).Scan(&user.ID, &user.Username, &hashedPw, &user.CreatedAt)
	return user, hashedPw, err
}

func (r *userRepository) ByID(ctx context.Context, id int) (models.User, error) {
	var user models.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Username, &user.CreatedAt)
	return user, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
