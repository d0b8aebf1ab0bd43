// Package domain holds the NOUS data model shared by stores, services and
// the HTTP layer.
package domain

import "time"

// User is an account holder.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Avatar       string    `json:"avatar,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Timestamp records creation and last update times.
type Timestamp struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Language is a supported UI/assistant language.
type Language string

const (
	LanguagePtBR Language = "pt-BR"
	LanguageEnUS Language = "en-US"
)

// Tone is the assistant's voice.
type Tone string

const (
	ToneDirect   Tone = "direct"
	ToneFriendly Tone = "friendly"
	ToneFormal   Tone = "formal"
)

// EmojiUsage controls how freely the assistant uses emoji.
type EmojiUsage string

const (
	EmojiMinimal  EmojiUsage = "minimal"
	EmojiModerate EmojiUsage = "moderate"
	EmojiLiberal  EmojiUsage = "liberal"
)
