package htmlstage

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesRapidTriggers(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var callCount atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() {
			callCount.Add(1)
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)

	if count := callCount.Load(); count != 1 {
		t.Errorf("expected 1 callback invocation, got %d", count)
	}
}

func TestDebouncer_OnlyLatestCallbackRuns(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)

	var last atomic.Int32
	for i := int32(1); i <= 5; i++ {
		i := i
		d.Trigger(func() { last.Store(i) })
	}

	time.Sleep(120 * time.Millisecond)

	if got := last.Load(); got != 5 {
		t.Errorf("expected the last callback (5) to run, got %d", got)
	}
	if d.Pending() {
		t.Error("debouncer still pending after firing")
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var called atomic.Bool
	d.Trigger(func() {
		called.Store(true)
	})
	if !d.Pending() {
		t.Fatal("expected a pending callback after Trigger")
	}

	d.Cancel()

	time.Sleep(100 * time.Millisecond)

	if called.Load() {
		t.Error("callback should not have been invoked after cancel")
	}
	if d.Pending() {
		t.Error("expected nothing pending after cancel")
	}
}

func TestDebouncer_TriggerAfterOverridesDelay(t *testing.T) {
	d := NewDebouncer(time.Hour)

	done := make(chan struct{})
	d.TriggerAfter(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback with explicit delay did not run")
	}
}

func TestDebouncer_DefaultDuration(t *testing.T) {
	d := NewDebouncer(0)
	if d.Duration() != DefaultDebounceDuration {
		t.Errorf("expected default duration %v, got %v", DefaultDebounceDuration, d.Duration())
	}
}
