package docpipe

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/docenrich/artifacts"
)

// progressTracker maintains conversion_progress.json while pages complete
// out of order. The callback runs under the tracker lock, one call at a time.
type progressTracker struct {
	mu     sync.Mutex
	store  *artifacts.Store
	docID  string
	state  Progress
	notify func(Progress)
	logger *slog.Logger
}

func newProgressTracker(store *artifacts.Store, docID string, total int, notify func(Progress), logger *slog.Logger) *progressTracker {
	t := &progressTracker{
		store:  store,
		docID:  docID,
		notify: notify,
		logger: logger,
		state: Progress{
			Status:      StatusRunning,
			Message:     "Memulai ekstraksi PDF...",
			PagesTotal:  total,
			FailedPages: []int{},
		},
	}
	t.flush()
	return t
}

// page records a finished page, successful or not.
func (t *progressTracker) page(n int, failed bool) {
	t.mu.Lock()
	t.state.PagesDone++
	t.state.CurrentPage = n
	if failed {
		t.state.FailedPages = append(t.state.FailedPages, n)
		sort.Ints(t.state.FailedPages)
	}
	if t.state.PagesTotal > 0 {
		t.state.Percent = 100 * float64(t.state.PagesDone) / float64(t.state.PagesTotal)
	}
	t.state.Message = "Memproses halaman"
	t.mu.Unlock()
	t.flush()
}

func (t *progressTracker) finish(status, msg string) {
	t.mu.Lock()
	t.state.Status = status
	t.state.Message = msg
	if status == StatusCompleted {
		t.state.Percent = 100
	}
	t.mu.Unlock()
	t.flush()
}

func (t *progressTracker) failed() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int{}, t.state.FailedPages...)
}

func (t *progressTracker) flush() {
	t.mu.Lock()
	t.state.UpdatedAt = time.Now().UTC()
	snap := t.state
	snap.FailedPages = append([]int{}, t.state.FailedPages...)
	if err := t.store.WriteJSON(t.docID, artifacts.ProgressFile, &snap); err != nil {
		t.logger.Warn("docpipe: write progress", "doc_id", t.docID, "error", err)
	}
	if t.notify != nil {
		t.notify(snap)
	}
	t.mu.Unlock()
}
