package models

import "time"

type User struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Credential string `json:"credential"`
	User       User   `json:"user"`
}

// Claims is what the backend reads out of a verified credential.
type Claims struct {
	UserID   int
	Username string
}
