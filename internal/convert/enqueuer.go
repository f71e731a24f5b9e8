package convert

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/idolboard/internal/storage"
)

// JobEnqueuer is the write side of the job queue.
type JobEnqueuer interface {
	EnqueueJob(job storage.Job) error
}

// Enqueuer schedules conversions on the job queue. It satisfies
// library.Enqueuer.
type Enqueuer struct {
	store       JobEnqueuer
	maxAttempts int
}

// NewEnqueuer returns an Enqueuer writing to store. maxAttempts <= 0 keeps
// the queue default.
func NewEnqueuer(store JobEnqueuer, maxAttempts int) *Enqueuer {
	return &Enqueuer{store: store, maxAttempts: maxAttempts}
}

// EnqueueConversion queues rawPath for conversion into command's clip.
func (e *Enqueuer) EnqueueConversion(userID, command, rawPath string) error {
	payload, err := json.Marshal(Payload{UserID: userID, Command: command, RawPath: rawPath})
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}
	if e.maxAttempts > 0 {
		job.MaxAttempts = e.maxAttempts
	}
	if err := e.store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing conversion: %w", err)
	}
	return nil
}
