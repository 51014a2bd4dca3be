package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestProbeRunnerReadyFlipsWithProbes(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	runner := NewProbeRunner(time.Minute, time.Second, Probe{
		Name: "flaky",
		Check: func(ctx context.Context) error {
			if fail.Load() {
				return errors.New("dependency down")
			}
			return nil
		},
	})

	if runner.Ready() {
		t.Fatal("expected not ready before first sweep")
	}

	runner.RunOnce(context.Background())
	if runner.Ready() {
		t.Fatal("expected not ready while probe fails")
	}
	if got := runner.Results()["flaky"]; got != "dependency down" {
		t.Fatalf("expected failure message in results, got %q", got)
	}

	fail.Store(false)
	runner.RunOnce(context.Background())
	if !runner.Ready() {
		t.Fatal("expected ready after probe recovers")
	}
	if got := runner.Results()["flaky"]; got != "ok" {
		t.Fatalf("expected ok result, got %q", got)
	}
}

func TestProbeRunnerAllProbesMustPass(t *testing.T) {
	runner := NewProbeRunner(time.Minute, time.Second,
		Probe{Name: "good", Check: func(ctx context.Context) error { return nil }},
		Probe{Name: "bad", Check: func(ctx context.Context) error { return errors.New("nope") }},
	)

	runner.RunOnce(context.Background())
	if runner.Ready() {
		t.Fatal("expected not ready when any probe fails")
	}
	results := runner.Results()
	if results["good"] != "ok" {
		t.Fatalf("expected good probe ok, got %q", results["good"])
	}
	if results["bad"] != "nope" {
		t.Fatalf("expected bad probe error, got %q", results["bad"])
	}
}

func TestProbeRunnerHonorsProbeTimeout(t *testing.T) {
	runner := NewProbeRunner(time.Minute, 10*time.Millisecond, Probe{
		Name: "slow",
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	done := make(chan struct{})
	go func() {
		runner.RunOnce(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOnce did not return within probe timeout")
	}
	if runner.Ready() {
		t.Fatal("expected not ready after timed-out probe")
	}
}
