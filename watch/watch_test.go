package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func counterDetector(v *atomic.Int64) Detector {
	return func(context.Context) (int64, error) { return v.Load(), nil }
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOnChangeRunsActionOnChange(t *testing.T) {
	var token atomic.Int64
	var calls atomic.Int64
	w := New(Options{Interval: 10 * time.Millisecond, Detector: counterDetector(&token)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { calls.Add(1); return nil })

	time.Sleep(40 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("action ran %d times without a change", calls.Load())
	}

	token.Store(7)
	waitFor(t, func() bool { return calls.Load() == 1 })
	if w.Version() != 7 {
		t.Errorf("version = %d, want 7", w.Version())
	}
}

func TestOnChangeDebounces(t *testing.T) {
	// WHAT: a burst of edits triggers one reload.
	// WHY: editors write a file in several steps; reloading each one
	// parses half-written YAML.
	var token atomic.Int64
	var calls atomic.Int64
	w := New(Options{Interval: 5 * time.Millisecond, Debounce: 80 * time.Millisecond, Detector: counterDetector(&token)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { calls.Add(1); return nil })

	time.Sleep(20 * time.Millisecond)
	for i := int64(1); i <= 4; i++ {
		token.Store(i)
		time.Sleep(15 * time.Millisecond)
	}
	waitFor(t, func() bool { return calls.Load() >= 1 })
	time.Sleep(150 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("action ran %d times, want 1", calls.Load())
	}
	if w.Version() != 4 {
		t.Errorf("version = %d, want 4", w.Version())
	}
}

func TestOnChangeRetriesFailedAction(t *testing.T) {
	var token atomic.Int64
	var calls atomic.Int64
	w := New(Options{Interval: 10 * time.Millisecond, Detector: counterDetector(&token)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("bad yaml")
		}
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	token.Store(3)
	waitFor(t, func() bool { return w.Version() == 3 })
	st := w.Stats()
	if st.Reloads != 1 || st.Errors != 1 {
		t.Errorf("stats = %+v, want 1 reload and 1 error", st)
	}
}

func TestFilesDetector(t *testing.T) {
	dir := t.TempDir()
	reg := filepath.Join(dir, "registry.yaml")
	profiles := filepath.Join(dir, "profiles")
	det := Files(reg, profiles, "")
	ctx := context.Background()

	v0, err := det(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v0 < 0 {
		t.Fatalf("negative token %d", v0)
	}
	if v, _ := det(ctx); v != v0 {
		t.Fatal("token not stable without changes")
	}

	if err := os.WriteFile(reg, []byte("types: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v1, _ := det(ctx)
	if v1 == v0 {
		t.Fatal("creating the registry file did not change the token")
	}

	if err := os.Mkdir(profiles, 0o755); err != nil {
		t.Fatal(err)
	}
	v2, _ := det(ctx)
	if err := os.WriteFile(filepath.Join(profiles, "acme.yaml"), []byte("enabled: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v3, _ := det(ctx)
	if v2 == v1 || v3 == v2 {
		t.Fatalf("profile changes not detected: %d %d %d", v1, v2, v3)
	}
}
