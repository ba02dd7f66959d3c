package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/docenrich/artifacts"
)

// Stage is a position in the processing pipeline.
type Stage string

const (
	StageUploaded                Stage = "uploaded"
	StageOCRInProgress           Stage = "ocr_in_progress"
	StageOCRCompleted            Stage = "ocr_completed"
	StageEnhancementInProgress   Stage = "enhancement_in_progress"
	StageEnhancementCompleted    Stage = "enhancement_completed"
	StageAutoApprovalCompleted   Stage = "auto_approval_completed"
	StageSynthesisInProgress     Stage = "synthesis_in_progress"
	StageSynthesisCompleted      Stage = "synthesis_completed"
	StageVectorizationInProgress Stage = "vectorization_in_progress"
	StageVectorizationCompleted  Stage = "vectorization_completed"
	StageReady                   Stage = "ready"
)

// Stages is the pipeline order.
var Stages = []Stage{
	StageUploaded,
	StageOCRInProgress,
	StageOCRCompleted,
	StageEnhancementInProgress,
	StageEnhancementCompleted,
	StageAutoApprovalCompleted,
	StageSynthesisInProgress,
	StageSynthesisCompleted,
	StageVectorizationInProgress,
	StageVectorizationCompleted,
	StageReady,
}

var stageIndex = func() map[Stage]int {
	m := make(map[Stage]int, len(Stages))
	for i, s := range Stages {
		m[s] = i
	}
	return m
}()

// Index returns the position of s in Stages, -1 when unknown.
func (s Stage) Index() int {
	if i, ok := stageIndex[s]; ok {
		return i
	}
	return -1
}

// defaultStageSeconds is the per-stage estimate before any stage completed.
const defaultStageSeconds = 60.0

// StageProgress is the intra-stage detail of one stage.
type StageProgress struct {
	Percentage float64        `json:"percentage"`
	Message    string         `json:"message,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ErrorRecord is one entry of the state's error list.
type ErrorRecord struct {
	Stage     Stage     `json:"stage"`
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// State is processing_state.json.
type State struct {
	DocID                     string                   `json:"doc_id"`
	CurrentStage              Stage                    `json:"current_stage"`
	ProgressPercentage        int                      `json:"progress_percentage"`
	IsComplete                bool                     `json:"is_complete"`
	StageTimestamps           map[Stage]time.Time      `json:"stage_timestamps"`
	StageDurations            map[string]float64       `json:"stage_durations"`
	StageProgress             map[Stage]StageProgress  `json:"stage_progress"`
	Errors                    []ErrorRecord            `json:"errors"`
	Metadata                  map[Stage]map[string]any `json:"metadata"`
	EstimatedRemainingSeconds *int                     `json:"estimated_remaining_seconds"`
	UpdatedAt                 time.Time                `json:"updated_at"`
}

// NewState returns the state of a freshly uploaded document.
func NewState(docID string) *State {
	s := &State{DocID: docID, CurrentStage: StageUploaded}
	s.init()
	return s
}

func (s *State) init() {
	if s.CurrentStage == "" {
		s.CurrentStage = StageUploaded
	}
	if s.StageTimestamps == nil {
		s.StageTimestamps = map[Stage]time.Time{}
	}
	if s.StageDurations == nil {
		s.StageDurations = map[string]float64{}
	}
	if s.StageProgress == nil {
		s.StageProgress = map[Stage]StageProgress{}
	}
	if s.Metadata == nil {
		s.Metadata = map[Stage]map[string]any{}
	}
	if s.Errors == nil {
		s.Errors = []ErrorRecord{}
	}
}

// Percent is the index of the current stage over the number of stages.
func (s *State) Percent() int {
	i := s.CurrentStage.Index()
	if i < 0 {
		return 0
	}
	return i * 100 / len(Stages)
}

// Reached reports whether the current stage is at or past stage.
func (s *State) Reached(stage Stage) bool {
	return s.CurrentStage.Index() >= stage.Index()
}

// TotalDuration sums the recorded stage durations.
func (s *State) TotalDuration() float64 {
	var total float64
	for _, d := range s.StageDurations {
		total += d
	}
	return total
}

// eta computes remaining_in_current + remaining_stages * avg.
func (s *State) eta(now time.Time) int {
	avg := defaultStageSeconds
	if len(s.StageDurations) > 0 {
		avg = s.TotalDuration() / float64(len(s.StageDurations))
	}
	idx := max(s.CurrentStage.Index(), 0)
	remainingStages := len(Stages) - idx - 1

	inCurrent := avg
	if p := s.StageProgress[s.CurrentStage].Percentage; p > 0 {
		if started, ok := s.StageTimestamps[s.CurrentStage]; ok {
			elapsed := now.Sub(started).Seconds()
			inCurrent = max(elapsed/p*100-elapsed, 0)
		}
	}
	return int(inCurrent + float64(remainingStages)*avg)
}

// LoadState reads the state of docID. A document without a state file
// gets a fresh one.
func LoadState(store *artifacts.Store, docID string) (*State, error) {
	var s State
	err := store.ReadJSON(docID, artifacts.StateFile, &s)
	if errors.Is(err, artifacts.ErrNotFound) {
		return NewState(docID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load state: %w", err)
	}
	s.DocID = docID
	s.init()
	if s.CurrentStage.Index() < 0 {
		return nil, fmt.Errorf("%w: %q in state of %s", ErrUnknownStage, s.CurrentStage, docID)
	}
	return &s, nil
}

// InitState writes the uploaded state of a new document. An existing state
// is left untouched.
func InitState(store *artifacts.Store, docID string, now time.Time) error {
	p, err := store.Path(docID, artifacts.StateFile)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	s := NewState(docID)
	s.StageTimestamps[StageUploaded] = now.UTC()
	s.UpdatedAt = now.UTC()
	eta := s.eta(now)
	s.EstimatedRemainingSeconds = &eta
	if err := artifacts.WriteJSON(p, s); err != nil {
		return fmt.Errorf("%w: %v", ErrStatePersist, err)
	}
	return nil
}

// Tracker owns the State of one document and persists it after every
// mutation.
type Tracker struct {
	mu     sync.Mutex
	store  *artifacts.Store
	state  *State
	now    func() time.Time
	logger *slog.Logger
	// err is the first persistence failure; it poisons the tracker.
	err error
}

// NewTracker wraps state. now and logger may be nil.
func NewTracker(store *artifacts.Store, state *State, now func() time.Time, logger *slog.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	state.init()
	return &Tracker{store: store, state: state, now: now, logger: logger}
}

// Snapshot returns a copy of the state safe to read concurrently.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := *t.state
	s.Errors = append([]ErrorRecord(nil), t.state.Errors...)
	s.StageTimestamps = maps.Clone(t.state.StageTimestamps)
	s.StageDurations = maps.Clone(t.state.StageDurations)
	s.StageProgress = maps.Clone(t.state.StageProgress)
	s.Metadata = maps.Clone(t.state.Metadata)
	return s
}

// Current returns the current stage.
func (t *Tracker) Current() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.CurrentStage
}

// Reached reports whether the document is at or past stage.
func (t *Tracker) Reached(stage Stage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Reached(stage)
}

// Advance moves to stage, records its timestamp, the duration from the
// previous stage and meta, then persists. Advancing to the current stage
// is a no-op; moving backwards fails with ErrStageRegression.
func (t *Tracker) Advance(stage Stage, meta map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	s := t.state
	next, cur := stage.Index(), s.CurrentStage.Index()
	switch {
	case next < 0:
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	case next == cur:
		return nil
	case next < cur:
		return fmt.Errorf("%w: %s -> %s", ErrStageRegression, s.CurrentStage, stage)
	}

	now := t.now().UTC()
	prev := s.CurrentStage
	s.CurrentStage = stage
	s.StageTimestamps[stage] = now
	if at, ok := s.StageTimestamps[prev]; ok {
		s.StageDurations[string(prev)+"_to_"+string(stage)] = now.Sub(at).Seconds()
	}
	if meta != nil {
		s.Metadata[stage] = meta
	}
	t.logger.Info("orchestrator: stage", "doc_id", s.DocID, "from", prev, "to", stage)
	return t.save(now)
}

// Restart re-stamps the entry time of stage when the document is resumed
// into it, so the stage duration covers only the run that completes it.
func (t *Tracker) Restart(stage Stage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	s := t.state
	if s.CurrentStage != stage {
		return fmt.Errorf("%w: restart %s while at %s", ErrStageRegression, stage, s.CurrentStage)
	}
	now := t.now().UTC()
	s.StageTimestamps[stage] = now
	delete(s.StageProgress, stage)
	t.logger.Info("orchestrator: stage resumed", "doc_id", s.DocID, "stage", stage)
	return t.save(now)
}

// Progress records intra-stage progress and persists.
func (t *Tracker) Progress(stage Stage, pct float64, msg string, detail map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	now := t.now().UTC()
	t.state.StageProgress[stage] = StageProgress{
		Percentage: min(max(pct, 0), 100),
		Message:    msg,
		Detail:     detail,
		UpdatedAt:  now,
	}
	return t.save(now)
}

// Fail appends an error for stage and persists.
func (t *Tracker) Fail(stage Stage, kind string, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	now := t.now().UTC()
	t.state.Errors = append(t.state.Errors, ErrorRecord{
		Stage:     stage,
		Kind:      kind,
		Error:     cause.Error(),
		Timestamp: now,
	})
	return t.save(now)
}

// Err returns the persistence failure that stopped the tracker, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) save(now time.Time) error {
	s := t.state
	s.ProgressPercentage = s.Percent()
	s.IsComplete = s.CurrentStage == StageReady
	if s.IsComplete {
		zero := 0
		s.EstimatedRemainingSeconds = &zero
	} else {
		eta := s.eta(now)
		s.EstimatedRemainingSeconds = &eta
	}
	s.UpdatedAt = now
	if err := t.store.WriteJSON(s.DocID, artifacts.StateFile, s); err != nil {
		t.err = fmt.Errorf("%w: %v", ErrStatePersist, err)
		return t.err
	}
	return nil
}
