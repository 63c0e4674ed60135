package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDrainRunsCallbacksOnCaller(t *testing.T) {
	d := New[int](4, nil)
	defer d.Close(time.Second)

	got := make(map[int]bool)
	for i := 0; i < 10; i++ {
		i := i
		if _, err := d.Submit(func(context.Context) (int, error) { return i * i, nil }, func(v int, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			got[v] = true
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	waitFor(t, func() bool { return d.Completed() == 10 })
	if len(got) != 0 {
		t.Fatalf("callbacks must not run before Drain")
	}
	if n := d.Drain(3); n != 3 {
		t.Fatalf("expected 3 callbacks, ran %d", n)
	}
	if d.Completed() != 7 {
		t.Fatalf("expected 7 queued results, got %d", d.Completed())
	}
	if n := d.Drain(0); n != 7 {
		t.Fatalf("expected the rest drained, ran %d", n)
	}
	for i := 0; i < 10; i++ {
		if !got[i*i] {
			t.Fatalf("missing result %d", i*i)
		}
	}
	if d.Pending() != 0 {
		t.Fatalf("expected no pending jobs, got %d", d.Pending())
	}
}

func TestPanicsBecomeErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	d := New[string](1, logger)
	defer d.Close(time.Second)

	var gotErr error
	d.Submit(func(context.Context) (string, error) { panic("boom") }, func(_ string, err error) { gotErr = err })
	waitFor(t, func() bool { return d.Completed() == 1 })
	d.Drain(1)
	if gotErr == nil || !strings.Contains(gotErr.Error(), "boom") {
		t.Fatalf("expected panic surfaced as error, got %v", gotErr)
	}
	if !strings.Contains(buf.String(), "panicked") {
		t.Fatalf("expected panic to be logged, got %q", buf.String())
	}

	// The pool survives a panicking job.
	var ok bool
	d.Submit(func(context.Context) (string, error) { return "fine", nil }, func(v string, err error) { ok = err == nil && v == "fine" })
	waitFor(t, func() bool { return d.Completed() == 1 })
	d.Drain(1)
	if !ok {
		t.Fatalf("expected the worker to keep serving jobs")
	}
}

func TestTicketsAreUnique(t *testing.T) {
	d := New[int](2, nil)
	defer d.Close(time.Second)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tk, err := d.Submit(func(context.Context) (int, error) { return 0, nil }, nil)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if seen[tk.ID.String()] {
			t.Fatalf("duplicate ticket %s", tk.ID)
		}
		seen[tk.ID.String()] = true
	}
	waitFor(t, func() bool { return d.Completed() == 50 })
	if n := d.Drain(0); n != 50 {
		t.Fatalf("expected nil callbacks to be skipped safely, drained %d", n)
	}
}

func TestCloseCancelsJobsAndRejectsSubmissions(t *testing.T) {
	d := New[int](1, nil)
	started := make(chan struct{})
	d.Submit(func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, nil)
	<-started

	if err := d.Close(5 * time.Second); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := d.Submit(func(context.Context) (int, error) { return 1, nil }, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := d.Close(time.Second); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestCloseTimesOut(t *testing.T) {
	d := New[int](1, log.New(&bytes.Buffer{}, "", 0))
	release := make(chan struct{})
	started := make(chan struct{})
	d.Submit(func(context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	}, nil)
	<-started
	defer close(release)

	if err := d.Close(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("expected shutdown timeout, got %v", err)
	}
}

func TestWorkerCount(t *testing.T) {
	if got := WorkerCount(3, 1); got != 3 {
		t.Fatalf("explicit worker count should win, got %d", got)
	}
	if got := WorkerCount(0, 1_000_000); got != 1 {
		t.Fatalf("worker count must not drop below one, got %d", got)
	}
}
