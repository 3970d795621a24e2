package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/energum/leadwatch/runlog"
)

func TestNewTrigger_ClaimsFlagBeforeAccepting(t *testing.T) {
	// WHY: the trigger's success answer must be truthful. Concurrent
	// triggers race for one running flag; exactly one may be accepted
	// while a run is in flight.
	progress := runlog.NewProgress(10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	doRun := func(context.Context) error {
		startedOnce.Do(func() { close(started) })
		<-release
		return nil
	}
	trigger := newTrigger(context.Background(), progress, logger, doRun)

	if err := trigger(); err != nil {
		t.Fatalf("first trigger = %v", err)
	}
	// Even before the goroutine is scheduled, the flag is already held.
	if err := trigger(); err == nil {
		t.Fatal("second trigger accepted while a run is in flight")
	}

	<-started
	close(release)

	// The flag clears once the run finishes; triggering works again.
	deadline := time.After(2 * time.Second)
	for progress.Running() {
		select {
		case <-deadline:
			t.Fatal("running flag never cleared")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if err := trigger(); err != nil {
		t.Errorf("trigger after completion = %v", err)
	}
	progress.Done()
}

func TestNewTrigger_ConcurrentTriggersAcceptOne(t *testing.T) {
	progress := runlog.NewProgress(10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	release := make(chan struct{})
	doRun := func(context.Context) error {
		<-release
		return nil
	}
	trigger := newTrigger(context.Background(), progress, logger, doRun)

	const n = 8
	var wg sync.WaitGroup
	accepted := make(chan struct{}, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if trigger() == nil {
				accepted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(release)

	if got := len(accepted); got != 1 {
		t.Errorf("%d triggers accepted, want exactly 1", got)
	}
}
