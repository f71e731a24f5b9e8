package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/storage"
)

type mockConverter struct {
	convertFn func(ctx context.Context, userID, command, rawPath string) error

	mu    sync.Mutex
	calls []Payload
}

func (m *mockConverter) ConvertPending(ctx context.Context, userID, command, rawPath string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Payload{UserID: userID, Command: command, RawPath: rawPath})
	m.mu.Unlock()
	if m.convertFn != nil {
		return m.convertFn(ctx, userID, command, rawPath)
	}
	return nil
}

type countingObserver struct {
	ok, failed atomic.Int32
}

func (o *countingObserver) RecordConversion(err error, _ time.Duration) {
	if err != nil {
		o.failed.Add(1)
		return
	}
	o.ok.Add(1)
}

// prefixTranscoder stands in for ffmpeg.
type prefixTranscoder struct{}

func (prefixTranscoder) Transcode(_ context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append([]byte("aac:"), data...), 0o644)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func jobStatus(t *testing.T, store *storage.Store) (status string, attempts int) {
	t.Helper()
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs LIMIT 1`).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job: %v", err)
	}
	return status, attempts
}

// resetRunAfter makes every pending job immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store) {
	t.Helper()
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = '2000-01-01T00:00:00.000000000Z'`); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestEnqueuer_WritesPayload(t *testing.T) {
	store := openTestStore(t)
	e := NewEnqueuer(store, 5)

	if err := e.EnqueueConversion("alice", "早安", "/data/uploads/alice/早安.mp3"); err != nil {
		t.Fatalf("EnqueueConversion: %v", err)
	}

	job, err := store.ClaimNextJob([]string{JobType})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no job enqueued")
	}
	if job.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", job.MaxAttempts)
	}
	if !strings.Contains(job.PayloadJSON, `"command":"早安"`) {
		t.Errorf("PayloadJSON = %s", job.PayloadJSON)
	}
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	if err := NewEnqueuer(store, 0).EnqueueConversion("alice", "hello", "/raw/hello.wav"); err != nil {
		t.Fatal(err)
	}

	conv := &mockConverter{}
	obs := &countingObserver{}
	w := NewWorker(store, conv, 0)
	w.SetObserver(obs)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if len(conv.calls) != 1 {
		t.Fatalf("converter called %d times, want 1", len(conv.calls))
	}
	want := Payload{UserID: "alice", Command: "hello", RawPath: "/raw/hello.wav"}
	if conv.calls[0] != want {
		t.Errorf("call = %+v, want %+v", conv.calls[0], want)
	}
	if status, _ := jobStatus(t, store); status != storage.JobCompleted {
		t.Errorf("status = %q, want completed", status)
	}
	if obs.ok.Load() != 1 {
		t.Errorf("observer ok = %d, want 1", obs.ok.Load())
	}

	didWork, err = w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("empty queue: didWork=%v err=%v", didWork, err)
	}
}

func TestWorker_RetryThenSucceed(t *testing.T) {
	store := openTestStore(t)
	if err := NewEnqueuer(store, 0).EnqueueConversion("alice", "hello", "/raw/hello.wav"); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	w := NewWorker(store, &mockConverter{
		convertFn: func(context.Context, string, string, string) error {
			if calls.Add(1) == 1 {
				return fmt.Errorf("ffmpeg busy")
			}
			return nil
		},
	}, 0)
	ctx := context.Background()

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 1: %v", err)
	}
	status, attempts := jobStatus(t, store)
	if status != storage.JobPending || attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", status, attempts)
	}

	resetRunAfter(t, store)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 2: %v", err)
	}
	if status, _ := jobStatus(t, store); status != storage.JobCompleted {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	if err := NewEnqueuer(store, 0).EnqueueConversion("alice", "hello", "/raw/hello.wav"); err != nil {
		t.Fatal(err)
	}

	obs := &countingObserver{}
	w := NewWorker(store, &mockConverter{
		convertFn: func(context.Context, string, string, string) error {
			return fmt.Errorf("unsupported codec")
		},
	}, 0)
	w.SetObserver(obs)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		resetRunAfter(t, store)
	}

	if status, _ := jobStatus(t, store); status != storage.JobFailed {
		t.Errorf("final status = %q, want failed", status)
	}
	if obs.failed.Load() != 3 {
		t.Errorf("observer failed = %d, want 3", obs.failed.Load())
	}
}

func TestWorker_BadPayloadFails(t *testing.T) {
	store := openTestStore(t)
	if err := store.EnqueueJob(storage.Job{ID: "j-bad", Type: JobType, PayloadJSON: `{"user_id":"alice"}`, MaxAttempts: 1}); err != nil {
		t.Fatal(err)
	}

	conv := &mockConverter{}
	if _, err := NewWorker(store, conv, 0).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(conv.calls) != 0 {
		t.Errorf("converter called for incomplete payload")
	}
	if status, _ := jobStatus(t, store); status != storage.JobFailed {
		t.Errorf("status = %q, want failed", status)
	}
}

// TestWorker_EndToEnd wires the real library, queue and worker together.
func TestWorker_EndToEnd(t *testing.T) {
	store := openTestStore(t)
	lib := library.New(library.NewResolver(t.TempDir()), prefixTranscoder{}, "m4a")
	lib.SetEnqueuer(NewEnqueuer(store, 0))
	ctx := context.Background()

	res, err := lib.SaveAudio(ctx, "alice", "晚安", "mp3", strings.NewReader("mp3data"))
	if err != nil {
		t.Fatalf("SaveAudio: %v", err)
	}
	if !res.Queued {
		t.Fatal("expected conversion to be queued")
	}

	clip, err := lib.Lookup("alice", "晚安")
	if err != nil {
		t.Fatalf("Lookup before conversion: %v", err)
	}
	if !clip.Pending {
		t.Error("clip should be pending before the worker runs")
	}

	if _, err := NewWorker(store, lib, 0).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	clip, err = lib.Lookup("alice", "晚安")
	if err != nil {
		t.Fatalf("Lookup after conversion: %v", err)
	}
	if clip.Pending || filepath.Ext(clip.Path) != ".m4a" {
		t.Errorf("clip = %+v, want converted m4a", clip)
	}
	data, err := os.ReadFile(clip.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "aac:mp3data" {
		t.Errorf("clip data = %q", data)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockConverter{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	if err := NewEnqueuer(store, 0).EnqueueConversion("alice", "hi", "/raw/hi.wav"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := store.CountJobs(storage.JobCompleted)
		if err != nil {
			t.Fatal(err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker did not process the job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
