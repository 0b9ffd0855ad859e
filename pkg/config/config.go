// Package config reads settings from the environment. Every value has a
// development default so a bare checkout runs against local services.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort      = "8082"
	DefaultRedisURL  = "redis://localhost:6379"
	DefaultJWTSecret = "dev-secret-key-change-in-production"
	DefaultAPIURL    = "http://localhost:" + DefaultPort
	DefaultOrigins   = "http://localhost:3000"
)

type Server struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	JWTSecret    string
	TokenTTL     time.Duration
	AllowOrigins string
	// EventChannel is the redis pub/sub channel feed events travel on.
	EventChannel string
}

type Client struct {
	APIURL        string
	WSURL         string
	CredentialsDB string
	Profile       string
	Timeout       time.Duration
}

func LoadServer() Server {
	return Server{
		Port:         Get("PORT", DefaultPort),
		DatabaseURL:  Get("DATABASE_URL", "postgres://localhost:5432/feed?sslmode=disable"),
		RedisURL:     Get("REDIS_URL", DefaultRedisURL),
		JWTSecret:    Get("JWT_SECRET", DefaultJWTSecret),
		TokenTTL:     Duration("TOKEN_TTL", 24*time.Hour),
		AllowOrigins: Get("CORS_ORIGINS", DefaultOrigins),
		EventChannel: Get("FEED_EVENT_CHANNEL", "feed:events"),
	}
}

func LoadClient() Client {
	api := Get("FEED_API_URL", DefaultAPIURL)
	return Client{
		APIURL:        api,
		WSURL:         Get("FEED_WS_URL", WSURL(api)),
		CredentialsDB: Get("FEED_CREDENTIALS_DB", defaultCredentialsDB()),
		Profile:       Get("FEED_PROFILE", "default"),
		Timeout:       Duration("FEED_TIMEOUT", 10*time.Second),
	}
}

// Get returns the value of key, or def when it is unset or blank.
func Get(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Duration parses key as a Go duration or a whole number of seconds.
func Duration(key string, def time.Duration) time.Duration {
	v := Get(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

// WSURL derives the push endpoint from the REST base URL.
func WSURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return "ws://localhost:" + DefaultPort + "/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

func defaultCredentialsDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "feedctl.db"
	}
	return filepath.Join(dir, "feedctl", "credentials.db")
}
