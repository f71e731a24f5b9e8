package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Submit and Stop once Run has exited.
var ErrClosed = errors.New("playback queue closed")

type request struct {
	path string // empty means stop
	ack  chan struct{}
}

type track struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Queue is a single-slot player: at most one clip plays at a time, and a
// new submission or Stop cancels the clip in flight before anything else
// starts.
type Queue struct {
	player Player
	logger *slog.Logger
	reqs   chan request
	closed chan struct{}

	mu      sync.Mutex
	current *track
}

// NewQueue creates a Queue. Call Run to start it.
func NewQueue(player Player) *Queue {
	return &Queue{
		player: player,
		logger: slog.Default(),
		reqs:   make(chan request),
		closed: make(chan struct{}),
	}
}

// Run serves submissions until ctx is cancelled, then stops any clip in
// flight and returns ctx.Err().
func (q *Queue) Run(ctx context.Context) error {
	defer close(q.closed)
	for {
		select {
		case <-ctx.Done():
			q.halt()
			return ctx.Err()
		case req := <-q.reqs:
			q.halt()
			if req.path != "" {
				q.start(ctx, req.path)
			}
			close(req.ack)
		}
	}
}

// Submit stops whatever is playing and starts path. It returns once the new
// clip has started.
func (q *Queue) Submit(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("empty clip path")
	}
	return q.send(ctx, path)
}

// Stop cancels the clip in flight, if any, and waits for it to end.
func (q *Queue) Stop(ctx context.Context) error {
	return q.send(ctx, "")
}

// Playing returns the path of the clip in flight, or "".
func (q *Queue) Playing() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return ""
	}
	return q.current.path
}

// Wait blocks until the clip in flight finishes. A clip cut short by Stop
// or a newer submission is not an error.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	t := q.current
	q.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		if errors.Is(t.err, context.Canceled) {
			return nil
		}
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) send(ctx context.Context, path string) error {
	req := request{path: path, ack: make(chan struct{})}
	select {
	case q.reqs <- req:
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.ack
	return nil
}

// halt cancels the current track and waits for its goroutine. Only called
// from Run.
func (q *Queue) halt() {
	q.mu.Lock()
	t := q.current
	q.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (q *Queue) start(ctx context.Context, path string) {
	playCtx, cancel := context.WithCancel(ctx)
	t := &track{path: path, cancel: cancel, done: make(chan struct{})}

	q.mu.Lock()
	q.current = t
	q.mu.Unlock()

	go func() {
		defer cancel()
		err := q.player.Play(playCtx, path)
		if err != nil && playCtx.Err() == nil {
			q.logger.Warn("playback failed", "path", path, "error", err)
		}
		t.err = err

		q.mu.Lock()
		if q.current == t {
			q.current = nil
		}
		q.mu.Unlock()
		close(t.done)
	}()
}
