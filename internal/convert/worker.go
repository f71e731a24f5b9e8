// Package convert drains audio_convert jobs from the SQLite queue and
// transcodes raw uploads into the library's canonical format.
package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/idolboard/internal/storage"
)

// JobType is the queue type for pending conversions.
const JobType = "audio_convert"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Converter turns a raw upload into the stored clip. Implemented by
// library.Library.
type Converter interface {
	ConvertPending(ctx context.Context, userID, command, rawPath string) error
}

// Observer receives the outcome and duration of each conversion.
type Observer interface {
	RecordConversion(err error, d time.Duration)
}

// Payload is the JSON body of an audio_convert job.
type Payload struct {
	UserID  string `json:"user_id"`
	Command string `json:"command"`
	RawPath string `json:"raw_path"`
}

// Worker processes audio_convert jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	converter Converter
	observer  Observer
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, converter Converter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		converter: converter,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// SetObserver attaches a metrics sink. Nil disables reporting.
func (w *Worker) SetObserver(o Observer) {
	w.observer = o
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("convert worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single audio_convert job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	err = w.processJob(ctx, job)
	if w.observer != nil {
		w.observer.RecordConversion(err, time.Since(start))
	}
	if err != nil {
		w.logger.Warn("conversion failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.UserID == "" || p.Command == "" || p.RawPath == "" {
		return fmt.Errorf("incomplete payload %q", job.PayloadJSON)
	}

	if err := w.converter.ConvertPending(ctx, p.UserID, p.Command, p.RawPath); err != nil {
		return fmt.Errorf("converting %q for %s: %w", p.Command, p.UserID, err)
	}
	w.logger.Debug("clip converted", "user_id", p.UserID, "command", p.Command)
	return nil
}
