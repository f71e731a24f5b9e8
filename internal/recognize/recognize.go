// Package recognize turns a spoken or typed phrase into an action: stop the
// session, play a clip, or report that nothing matched.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/idolboard/internal/match"
	"github.com/kalambet/idolboard/internal/storage"
)

// DefaultStopPhrase ends a listening session.
const DefaultStopPhrase = "結束"

// ErrEmptyQuery is returned when the phrase is blank after trimming.
var ErrEmptyQuery = errors.New("command is required")

// Sources of a phrase.
const (
	SourceText  = "text"
	SourceAudio = "audio"
)

// CommandLister lists the clip names available to a user.
type CommandLister interface {
	ListCommands(userID string) ([]string, error)
}

// History persists recognition outcomes.
type History interface {
	SaveRecognition(r storage.Recognition) error
}

// Observer receives one call per recognition.
type Observer interface {
	RecordRecognition(action, source string, score float64)
}

// Outcome is the result of one recognition.
type Outcome struct {
	ID       string  `json:"id,omitempty"`
	Query    string  `json:"command"`
	Action   string  `json:"action"`
	FileName string  `json:"file_name,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Exact    bool    `json:"exact,omitempty"`
}

// Service resolves phrases against a user's library.
type Service struct {
	commands   CommandLister
	matcher    *match.Matcher
	stopPhrase string

	history  History
	observer Observer
}

// New creates a Service. An empty stop phrase falls back to DefaultStopPhrase.
func New(commands CommandLister, matcher *match.Matcher, stopPhrase string) *Service {
	if strings.TrimSpace(stopPhrase) == "" {
		stopPhrase = DefaultStopPhrase
	}
	if matcher == nil {
		matcher = match.New(match.DefaultThreshold)
	}
	return &Service{
		commands:   commands,
		matcher:    matcher,
		stopPhrase: strings.ToLower(strings.TrimSpace(stopPhrase)),
	}
}

// SetHistory records every outcome to h.
func (s *Service) SetHistory(h History) {
	s.history = h
}

// SetObserver reports every outcome to o.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// StopPhrase returns the normalized stop phrase.
func (s *Service) StopPhrase() string {
	return s.stopPhrase
}

// IsStop reports whether query contains the stop phrase.
func (s *Service) IsStop(query string) bool {
	return strings.Contains(strings.ToLower(query), s.stopPhrase)
}

// Recognize resolves query for userID. A phrase containing the stop phrase
// yields ActionStop without consulting the library. History write failures
// are logged and do not fail the call.
func (s *Service) Recognize(ctx context.Context, userID, query, source string) (Outcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Outcome{}, ErrEmptyQuery
	}
	if source == "" {
		source = SourceText
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Query: query}
	if s.IsStop(query) {
		out.Action = storage.ActionStop
	} else {
		names, err := s.commands.ListCommands(userID)
		if err != nil {
			return Outcome{}, fmt.Errorf("listing commands: %w", err)
		}
		if res, ok := s.matcher.Match(query, names); ok {
			out.Action = storage.ActionPlay
			out.FileName = res.Name
			out.Score = res.Score
			out.Exact = res.Exact
		} else {
			out.Action = storage.ActionNotFound
		}
	}

	if s.observer != nil {
		s.observer.RecordRecognition(out.Action, source, out.Score)
	}
	if s.history != nil {
		rec := storage.Recognition{
			ID:        uuid.New().String(),
			UserID:    userID,
			Query:     query,
			Matched:   out.FileName,
			Score:     out.Score,
			Action:    out.Action,
			Source:    source,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.history.SaveRecognition(rec); err != nil {
			slog.Warn("recording recognition", "user_id", userID, "error", err)
		} else {
			out.ID = rec.ID
		}
	}

	slog.Debug("recognized", "user_id", userID, "query", query, "action", out.Action, "file_name", out.FileName, "score", out.Score)
	return out, nil
}
