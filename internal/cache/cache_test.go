package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type entry struct {
	Name string  `json:"name"`
	Fit  float64 `json:"fit"`
}

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, RunKey("7"), entry{Name: "A", Fit: 0.8}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var got entry
	if err := m.Get(ctx, RunKey("7"), &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != (entry{Name: "A", Fit: 0.8}) {
		t.Errorf("got %+v", got)
	}

	if err := m.Get(ctx, RunKey("8"), &got); !errors.Is(err, ErrMiss) {
		t.Errorf("missing key: err = %v, want ErrMiss", err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "k", entry{Name: "A"}, 30*time.Minute)
	_ = m.Set(ctx, "forever", entry{Name: "B"}, 0)

	now = now.Add(31 * time.Minute)

	var got entry
	if err := m.Get(ctx, "k", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("expired key: err = %v, want ErrMiss", err)
	}
	if err := m.Get(ctx, "forever", &got); err != nil || got.Name != "B" {
		t.Errorf("no-TTL key: got %+v, err %v", got, err)
	}
}

func TestMemory_SetSweepsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c"} {
		_ = m.Set(ctx, k, entry{Name: k}, 30*time.Minute)
	}
	_ = m.Set(ctx, "keep", entry{Name: "keep"}, 0)
	if got := m.Len(); got != 4 {
		t.Fatalf("Len = %d, want 4", got)
	}

	// expired entries nobody reads again must still go away
	now = now.Add(31 * time.Minute)
	_ = m.Set(ctx, "d", entry{Name: "d"}, 30*time.Minute)
	if got := m.Len(); got != 2 {
		t.Errorf("Len after sweep = %d, want 2", got)
	}
}

func TestRunKey(t *testing.T) {
	if got := RunKey("42"); got != "whatif:run:42" {
		t.Errorf("RunKey = %q", got)
	}
}
