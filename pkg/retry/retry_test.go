package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Cap: 2 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("socket reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on the third send, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("still down")
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return wantErr
	})
	if err != wantErr {
		t.Errorf("err = %v, want the last transient error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want exactly Attempts sends", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	rejection := errors.New("EOrder:Insufficient funds")
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return Permanent(rejection)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no re-send of a permanent failure)", calls)
	}
	if err != rejection {
		t.Errorf("err = %v, want the venue error unwrapped of the Permanent marker", err)
	}
}

func TestPermanentNilIsNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must stay nil")
	}
}

func TestIsPermanentSeesWrappedMarker(t *testing.T) {
	inner := Permanent(errors.New("bad signature"))
	wrapped := errors.Join(errors.New("context"), inner)
	if !IsPermanent(wrapped) {
		t.Error("IsPermanent must find the marker through wrapping")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("a plain error is not permanent")
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 10, Base: 50 * time.Millisecond, Cap: 50 * time.Millisecond}, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancellation stops the pause, not just the next send)", calls)
	}
}

func TestPauseBoundedByCap(t *testing.T) {
	p := Policy{Attempts: 8, Base: time.Second, Cap: 2 * time.Second}
	for resend := 0; resend < 7; resend++ {
		d := p.pause(resend)
		// ±25% jitter around a value capped at 2s.
		if d > 2*time.Second+600*time.Millisecond {
			t.Fatalf("pause(%d) = %v exceeds the jittered cap", resend, d)
		}
	}
}
