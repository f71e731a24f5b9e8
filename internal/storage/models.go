package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Recognition actions.
const (
	ActionPlay     = "play"
	ActionStop     = "stop"
	ActionNotFound = "not_found"
)

// Recognition records one resolved (or unresolved) command request.
type Recognition struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	Matched   string    `json:"matched,omitempty"`
	Score     float64   `json:"score"`
	Action    string    `json:"action"`
	Source    string    `json:"source"` // "text" or "audio"
	CreatedAt time.Time `json:"created_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
