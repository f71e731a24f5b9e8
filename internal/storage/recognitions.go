package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const recognitionColumns = `id, user_id, query, matched, score, action, source, created_at`

// SaveRecognition appends one entry to the recognition history.
func (s *Store) SaveRecognition(r Recognition) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Source == "" {
		r.Source = "text"
	}
	_, err := s.db.Exec(`
		INSERT INTO recognitions (`+recognitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Query, r.Matched, r.Score, r.Action, r.Source, formatTime(r.CreatedAt),
	)
	return err
}

// GetRecognition returns a single history entry by id.
func (s *Store) GetRecognition(id string) (Recognition, error) {
	row := s.db.QueryRow(`SELECT `+recognitionColumns+` FROM recognitions WHERE id = ?`, id)
	r, err := scanRecognition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recognition{}, ErrNotFound
	}
	return r, err
}

// ListRecognitions returns a user's history, newest first.
func (s *Store) ListRecognitions(userID string, limit, offset int) ([]Recognition, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(`
		SELECT `+recognitionColumns+`
		FROM recognitions WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return collectRecognitions(rows)
}

// GetRecentRecognitions returns the newest entries across all users.
func (s *Store) GetRecentRecognitions(limit int) ([]Recognition, error) {
	rows, err := s.db.Query(`
		SELECT `+recognitionColumns+`
		FROM recognitions ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectRecognitions(rows)
}

// DeleteRecognition removes a history entry owned by userID.
func (s *Store) DeleteRecognition(userID, id string) error {
	res, err := s.db.Exec(`DELETE FROM recognitions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearRecognitions drops a user's whole history and reports how many rows went.
func (s *Store) ClearRecognitions(userID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM recognitions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecognition(row rowScanner) (Recognition, error) {
	var r Recognition
	var createdAt string
	if err := row.Scan(&r.ID, &r.UserID, &r.Query, &r.Matched, &r.Score, &r.Action, &r.Source, &createdAt); err != nil {
		return Recognition{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Recognition{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

func collectRecognitions(rows *sql.Rows) ([]Recognition, error) {
	defer rows.Close()

	results := []Recognition{}
	for rows.Next() {
		r, err := scanRecognition(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
