// Package userstate persists the bot's view of every peer it has
// talked to, plus the owner's runtime settings.
package userstate

import (
	"time"

	"github.com/Vico-7/Telegram-chat-bot/captcha"
)

// Status tracks how far a user has come through verification.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusChallenged Status = "challenged"
	StatusVerified   Status = "verified"
)

// User is one peer of the bot. Blocked is orthogonal to Status: an
// unblock restores whatever Status the user had before the block.
type User struct {
	ID           int64              `json:"id"`
	Nickname     string             `json:"nickname,omitempty"`
	Username     string             `json:"username,omitempty"`
	RegisteredAt time.Time          `json:"registered_at"`
	Status       Status             `json:"status"`
	Blocked      bool               `json:"blocked"`
	BlockReason  string             `json:"block_reason,omitempty"`
	BlockedAt    *time.Time         `json:"blocked_at,omitempty"`
	Challenge    *captcha.Challenge `json:"challenge,omitempty"`
	Attempts     int                `json:"attempts"`
}

// DisplayName returns the best human-readable label for the user.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return ""
}

// Settings is the owner-controlled runtime state. CurrentTarget is the
// user id the owner's plain messages are relayed to; zero means none.
type Settings struct {
	VerificationEnabled bool  `json:"verification_enabled" yaml:"verification_enabled"`
	Difficulty          int   `json:"difficulty" yaml:"difficulty"`
	CurrentTarget       int64 `json:"current_target" yaml:"current_target"`
}

// DefaultSettings returns the state a fresh install starts from.
func DefaultSettings() Settings {
	return Settings{
		VerificationEnabled: true,
		Difficulty:          captcha.DifficultyMedium,
	}
}
