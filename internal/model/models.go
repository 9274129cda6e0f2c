// Package model defines data structure.
package model

import (
	"time"
)

// User is a registered identity. HashedPassword is an argon2id encoded hash,
// never the plaintext.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}
