package joblimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_AllowsUpToMax(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "reminder-dispatch", 3, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Errorf("call %d: expected allowed", i+1)
		}
	}

	d, err := l.Allow(ctx, "reminder-dispatch", 3, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("4th call within window should be denied")
	}
	if d.ResetAt.IsZero() {
		t.Error("denied decision should carry a reset time")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "no-show-sweep", 1, time.Minute); !d.Allowed {
		t.Fatal("first call for key should be allowed")
	}
	if d, _ := l.Allow(ctx, "no-show-sweep", 1, time.Minute); d.Allowed {
		t.Error("second call for same key should be denied")
	}
	if d, _ := l.Allow(ctx, "reminder-schedule", 1, time.Minute); !d.Allowed {
		t.Error("different key should have its own budget")
	}
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "dispatch", 1, time.Minute); !d.Allowed {
		t.Fatal("first call should be allowed")
	}
	if d, _ := l.Allow(ctx, "dispatch", 1, time.Minute); d.Allowed {
		t.Fatal("second call should be denied")
	}

	now = now.Add(61 * time.Second)
	d, _ := l.Allow(ctx, "dispatch", 1, time.Minute)
	if !d.Allowed {
		t.Error("call after window expiry should be allowed")
	}
	if got, want := d.ResetAt, now.Add(time.Minute); !got.Equal(want) {
		t.Errorf("expected reset at %v, got %v", want, got)
	}
}

func TestNew_MemoryFallback(t *testing.T) {
	l, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*MemoryLimiter); !ok {
		t.Errorf("expected MemoryLimiter, got %T", l)
	}
}

func TestNew_InvalidRedisURL(t *testing.T) {
	if _, err := New("://not-a-url"); err == nil {
		t.Error("expected error for malformed redis url")
	}
}
