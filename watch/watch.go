// Package watch polls a version token, debounces changes and runs a reload
// action. The server uses it to pick up edits of the namespace profiles
// without a restart.
//
//	w := watch.New(watch.Options{
//		Interval: 2 * time.Second,
//		Debounce: 500 * time.Millisecond,
//		Detector: watch.Files("profiles"),
//	})
//	go w.OnChange(ctx, reload)
package watch

import (
	"context"
	"errors"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
	"time"
)

// Detector returns a version token. Two different tokens mean something
// changed. Tokens are never negative.
type Detector func(ctx context.Context) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// Further changes restart it. 0 runs the action on the next poll.
	Debounce time.Duration
	// Detector is required.
	Detector Detector
	Logger   *slog.Logger
}

// Watcher runs an action when the detector's token changes.
type Watcher struct {
	opts    Options
	version atomic.Int64

	checks   atomic.Int64
	changes  atomic.Int64
	errors   atomic.Int64
	reloads  atomic.Int64
	reloadNs atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64         `json:"checks"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	Reloads         int64         `json:"reloads"`
	AvgReloadTime   time.Duration `json:"avg_reload_time"`
}

// New returns a Watcher. It panics without a Detector.
func New(opts Options) *Watcher {
	if opts.Detector == nil {
		panic("watch: nil Detector")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{opts: opts}
}

// Stats returns the counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
	if s.Reloads > 0 {
		s.AvgReloadTime = time.Duration(w.reloadNs.Load() / s.Reloads)
	}
	return s
}

// Version returns the last token the action was run for.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange polls until ctx is done. A failed action leaves the version
// unchanged so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger
	if v, err := w.opts.Detector(ctx); err != nil {
		log.Warn("watch: initial check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending := int64(-1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			if pending >= 0 {
				w.fire(action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(action func() error, ver int64) {
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: reload failed", "error", err)
		return
	}
	elapsed := time.Since(start)
	w.reloads.Add(1)
	w.reloadNs.Add(int64(elapsed))
	w.version.Store(ver)
	w.opts.Logger.Info("watch: reloaded", "duration", elapsed)
}

// Files hashes the name, size and modification time of every path. A
// directory contributes its regular files, one level deep. Missing paths
// hash as absent, so creating or deleting one is a change too.
func Files(paths ...string) Detector {
	return func(ctx context.Context) (int64, error) {
		h := fnv.New64a()
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			if p == "" {
				continue
			}
			entries, err := stat(p)
			if err != nil {
				return 0, err
			}
			for _, e := range entries {
				h.Write([]byte(e))
				h.Write([]byte{0})
			}
		}
		return int64(h.Sum64() & math.MaxInt64), nil
	}
}

func stat(path string) ([]string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{path + "|absent"}, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{fingerprint(path, info)}, nil
	}
	des, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := []string{path + "|dir"}
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, fingerprint(filepath.Join(path, de.Name()), fi))
	}
	sort.Strings(out[1:])
	return out, nil
}

func fingerprint(path string, fi fs.FileInfo) string {
	return path + "|" + strconv.FormatInt(fi.Size(), 10) + "|" + strconv.FormatInt(fi.ModTime().UnixNano(), 10)
}
