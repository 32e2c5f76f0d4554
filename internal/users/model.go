package users

import (
	"strings"
	"time"
)

// User is the persisted account record. The password is stored only as a
// salted derived key, never as plaintext.
type User struct {
	ID           string     `gorm:"column:id;primaryKey;size:36;not null"`
	Username     string     `gorm:"column:username;size:190;not null;uniqueIndex"`
	Email        string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string     `gorm:"column:password_hash;size:128;not null"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
