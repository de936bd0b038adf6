package ratelimit

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	l := New(cfg, nil)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestDisabledAlwaysAllows(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: false, MaxPerMinute: 1})
	for i := 0; i < 10; i++ {
		if res := l.CheckAndRecord("c"); !res.Allowed {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestMinuteWindow(t *testing.T) {
	l, now := newTestLimiter(Config{Enabled: true, MaxPerMinute: 2})

	if res := l.CheckAndRecord("c"); !res.Allowed {
		t.Fatal("first message must pass")
	}
	*now = now.Add(10 * time.Second)
	if res := l.CheckAndRecord("c"); !res.Allowed {
		t.Fatal("second message must pass")
	}
	*now = now.Add(10 * time.Second)
	res := l.CheckAndRecord("c")
	if res.Allowed {
		t.Fatal("third message within the minute must be rejected")
	}
	if res.ViolatedWindow != WindowMinute {
		t.Errorf("window = %q", res.ViolatedWindow)
	}
	// first event at t0, now t0+20s: slot frees in 40s
	if res.RetryAfter != 40*time.Second {
		t.Errorf("retry after = %v, want 40s", res.RetryAfter)
	}

	*now = now.Add(41 * time.Second)
	if res := l.CheckAndRecord("c"); !res.Allowed {
		t.Error("message after the window slides must pass")
	}
}

func TestZeroThresholdDisablesWindow(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, MaxPerMinute: 0, MaxPerHour: 3})
	for i := 0; i < 3; i++ {
		if res := l.CheckAndRecord("c"); !res.Allowed {
			t.Fatalf("message %d rejected", i)
		}
	}
	res := l.CheckAndRecord("c")
	if res.Allowed || res.ViolatedWindow != WindowHour {
		t.Errorf("res = %+v, want hour violation", res)
	}
}

func TestConversationsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, MaxPerMinute: 1})
	if res := l.CheckAndRecord("a"); !res.Allowed {
		t.Fatal()
	}
	if res := l.CheckAndRecord("b"); !res.Allowed {
		t.Error("conversation b must have its own budget")
	}
}

func TestJournalSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate.db")

	j1, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	l1 := New(Config{Enabled: true, MaxPerDay: 2}, j1)
	l1.CheckAndRecord("c")
	l1.CheckAndRecord("c")
	j1.Close()

	j2, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	l2 := New(Config{Enabled: true, MaxPerDay: 2}, j2)

	res := l2.CheckAndRecord("c")
	if res.Allowed {
		t.Error("day window must be enforced across restarts")
	}
	if res.ViolatedWindow != WindowDay {
		t.Errorf("window = %q", res.ViolatedWindow)
	}
}
