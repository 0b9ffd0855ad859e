package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"golang.org/x/crypto/bcrypt"

	"feedsync/pkg/apperr"
	"feedsync/pkg/models"
	"feedsync/pkg/repository"
)

type AuthService interface {
	Register(ctx context.Context, creds models.Credentials) (models.AuthResponse, error)
	Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error)
	Session(ctx context.Context, token string) (models.User, error)
	Parse(token string) (models.Claims, error)
}

type authService struct {
	repo      repository.UserRepository
	jwtSecret []byte
	ttl       time.Duration
	cost      int
}

func NewAuthService(repo repository.UserRepository, secret string, ttl time.Duration) AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &authService{repo: repo, jwtSecret: []byte(secret), ttl: ttl, cost: bcrypt.DefaultCost}
}

func (s *authService) Register(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	if err := validateUsername(creds.Username); err != nil {
		return models.AuthResponse{}, err
	}
	if err := validatePassword(creds.Password); err != nil {
		return models.AuthResponse{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return models.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, creds.Username, string(hashed))
	if errors.Is(err, repository.ErrDuplicate) {
		return models.AuthResponse{}, apperr.Validation("username already taken")
	}
	if err != nil {
		return models.AuthResponse{}, fmt.Errorf("create user: %w", err)
	}

	glog.Infof("[AUTH] registered %s (id=%d)", user.Username, user.ID)
	return s.respond(user)
}

func (s *authService) Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	if creds.Username == "" || creds.Password == "" {
		return models.AuthResponse{}, apperr.Validation("username and password are required")
	}

	user, hashedPw, err := s.repo.ByUsername(ctx, creds.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AuthResponse{}, apperr.Auth("wrong username or password")
	}
	if err != nil {
		return models.AuthResponse{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPw), []byte(creds.Password)); err != nil {
		return models.AuthResponse{}, apperr.Auth("wrong username or password")
	}

	return s.respond(user)
}

// Session resolves a credential back to its user.
func (s *authService) Session(ctx context.Context, token string) (models.User, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return models.User{}, err
	}
	user, err := s.repo.ByID(ctx, claims.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.Auth("user no longer exists")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// Parse verifies an HS256 credential and returns its claims.
func (s *authService) Parse(tokenStr string) (models.Claims, error) {
	if tokenStr == "" {
		return models.Claims{}, apperr.Auth("missing credential")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return models.Claims{}, apperr.Auth("invalid credential")
	}

	id, ok := claims["user_id"].(float64)
	if !ok || id <= 0 {
		return models.Claims{}, apperr.Auth("invalid credential")
	}
	username, _ := claims["username"].(string)
	return models.Claims{UserID: int(id), Username: username}, nil
}

func (s *authService) respond(user models.User) (models.AuthResponse, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(s.ttl).Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return models.AuthResponse{}, fmt.Errorf("sign credential: %w", err)
	}
	return models.AuthResponse{Credential: signed, User: user}, nil
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 32 {
		return apperr.Validation("username must have 3 to 32 characters")
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return apperr.Validation("username may only contain letters, digits, '_' and '.'")
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 {
		return apperr.Validation("password must have at least 6 characters")
	}
	if strings.TrimSpace(password) == "" {
		return apperr.Validation("password must not be blank")
	}
	return nil
}
