package models

import "time"

// User is a registered account. Verifier is Argon2id(password, Salt).
type User struct {
	ID        string
	UserName  string
	Salt      []byte
	Verifier  []byte
	CreatedAt time.Time
}
