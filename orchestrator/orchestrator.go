// Package orchestrator drives a document through extraction, enhancement,
// approval, synthesis and vectorization. Every transition is persisted in
// processing_state.json so an interrupted run resumes at the first stage
// that did not complete.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/docpipe"
	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/horosafe"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/registry"
	"github.com/hazyhaar/docenrich/synthesis"
	"github.com/hazyhaar/docenrich/vectorize"
)

// Extractor turns the uploaded PDF into units and v1 markdown.
type Extractor interface {
	Extract(ctx context.Context, docID, path string, opts docpipe.Options) (*docpipe.Result, error)
}

// Enhancer produces the ranked enhancements of an extracted document.
type Enhancer interface {
	Enhance(ctx context.Context, docID string, sel enhance.Selection, progress func(enhance.Progress)) (*enhance.Result, error)
}

// Synthesizer writes the v2 markdown.
type Synthesizer interface {
	Synthesize(ctx context.Context, docID string) (*synthesis.Report, error)
}

// Vectorizer stores the markdown chunks in the vector store.
type Vectorizer interface {
	Vectorize(ctx context.Context, docID, namespace string) (*vectorize.Result, error)
}

// Collaborators are the stage implementations. A nil Synthesizer or
// Vectorizer turns its stage into a recorded pass-through.
type Collaborators struct {
	Extractor   Extractor
	Enhancer    Enhancer
	Synthesizer Synthesizer
	Vectorizer  Vectorizer
}

// Config configures an Orchestrator.
type Config struct {
	// AutoApproveAll marks every generated enhancement approved.
	AutoApproveAll bool `json:"auto_approve_all" yaml:"auto_approve_all"`
	// Namespace is used when a request names none. Default: "default".
	Namespace string `json:"namespace" yaml:"namespace"`

	Now     func() time.Time       `json:"-" yaml:"-"`
	Metrics *observability.Metrics `json:"-" yaml:"-"`
	Logger  *slog.Logger           `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request selects what a run enhances. With a nil Selection the profile
// of Namespace is used.
type Request struct {
	Namespace string             `json:"namespace,omitempty"`
	Selection *enhance.Selection `json:"selection,omitempty"`
}

// Summary is returned by a completed Run.
type Summary struct {
	DocID                string                   `json:"doc_id"`
	Namespace            string                   `json:"namespace"`
	Client               string                   `json:"client,omitempty"`
	Status               string                   `json:"status"`
	Progress             int                      `json:"progress"`
	CurrentStage         Stage                    `json:"current_stage"`
	TotalDurationSeconds float64                  `json:"total_duration_seconds"`
	StageTimestamps      map[Stage]time.Time      `json:"stage_timestamps"`
	StageDurations       map[string]float64       `json:"stage_durations"`
	Enhancements         int                      `json:"enhancements"`
	TypeDistribution     map[string]int           `json:"type_distribution"`
	Skipped              []Stage                  `json:"skipped,omitempty"`
	Metadata             map[Stage]map[string]any `json:"metadata"`
	Errors               []ErrorRecord            `json:"errors"`
}

// Orchestrator runs documents through the pipeline.
type Orchestrator struct {
	store    *artifacts.Store
	c        Collaborators
	reg      *registry.Registry
	profiles *Profiles
	cfg      Config

	mu      sync.Mutex
	running map[string]bool
}

// New creates an Orchestrator. reg and profiles may be nil.
func New(store *artifacts.Store, c Collaborators, reg *registry.Registry, profiles *Profiles, cfg Config) *Orchestrator {
	cfg.defaults()
	if reg == nil {
		reg = registry.Default()
	}
	if profiles == nil {
		profiles = NewProfiles("", reg, cfg.Logger)
	}
	return &Orchestrator{
		store:    store,
		c:        c,
		reg:      reg,
		profiles: profiles,
		cfg:      cfg,
		running:  map[string]bool{},
	}
}

// Registry returns the enhancement type registry.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Profiles returns the client profile loader.
func (o *Orchestrator) Profiles() *Profiles { return o.profiles }

// ReloadCatalogue rereads the type registry and drops the cached profiles.
// A registry that fails to parse keeps the previous catalogue.
func (o *Orchestrator) ReloadCatalogue() error {
	if err := o.reg.Reload(); err != nil {
		return err
	}
	o.profiles.Reload()
	return nil
}

// Status returns the persisted state of docID.
func (o *Orchestrator) Status(docID string) (*State, error) {
	if err := horosafe.ValidateIdentifier(docID); err != nil {
		return nil, err
	}
	if !o.store.Exists(docID) {
		return nil, fmt.Errorf("%w: document %s", artifacts.ErrNotFound, docID)
	}
	return LoadState(o.store, docID)
}

// Analyze scans the extraction artifacts of docID.
func (o *Orchestrator) Analyze(docID string) (*Analysis, error) {
	if err := horosafe.ValidateIdentifier(docID); err != nil {
		return nil, err
	}
	return Analyze(o.store, o.reg, docID)
}

// Running reports whether docID is being processed by this process.
func (o *Orchestrator) Running(docID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[docID]
}

func (o *Orchestrator) acquire(docID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[docID] {
		return false
	}
	o.running[docID] = true
	return true
}

func (o *Orchestrator) release(docID string) {
	o.mu.Lock()
	delete(o.running, docID)
	o.mu.Unlock()
}

// job is the per-run context handed to stage functions.
type job struct {
	docID     string
	namespace string
	client    string
	sel       enhance.Selection
	tracker   *Tracker
	log       *slog.Logger
}

type step struct {
	start Stage // empty for instantaneous stages
	done  Stage
	run   func(ctx context.Context, j *job) (map[string]any, error)
}

// Run processes docID from its persisted stage to ready. Completed stages
// are skipped; a stage found in progress is run again. A ready document
// returns its summary at once.
func (o *Orchestrator) Run(ctx context.Context, docID string, req Request) (*Summary, error) {
	if err := horosafe.ValidateIdentifier(docID); err != nil {
		return nil, err
	}
	if !o.store.Exists(docID) {
		return nil, fmt.Errorf("%w: document %s", artifacts.ErrNotFound, docID)
	}
	if !o.acquire(docID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, docID)
	}
	defer o.release(docID)

	state, err := LoadState(o.store, docID)
	if err != nil {
		return nil, err
	}
	j := &job{
		docID:   docID,
		tracker: NewTracker(o.store, state, o.cfg.Now, o.cfg.Logger),
		log:     observability.WithDoc(o.cfg.Logger, docID),
	}
	if err := o.resolve(j, req); err != nil {
		return nil, err
	}
	if j.tracker.Current() == StageReady {
		return o.summary(j, nil), nil
	}

	defer o.cfg.Metrics.Track()()
	start := o.cfg.Now()
	j.log.Info("orchestrator: pipeline start",
		"namespace", j.namespace, "stage", j.tracker.Current(), "types", len(j.sel.TypeIDs))

	steps := []step{
		{StageOCRInProgress, StageOCRCompleted, o.extract},
		{StageEnhancementInProgress, StageEnhancementCompleted, o.enhance},
		{"", StageAutoApprovalCompleted, o.approve},
		{StageSynthesisInProgress, StageSynthesisCompleted, o.synthesize},
		{StageVectorizationInProgress, StageVectorizationCompleted, o.vectorize},
	}
	var skipped []Stage
	for _, s := range steps {
		if j.tracker.Reached(s.done) {
			skipped = append(skipped, s.done)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, o.fail(j, j.tracker.Current(), err)
		}
		if s.start != "" {
			var err error
			if j.tracker.Current() == s.start {
				err = j.tracker.Restart(s.start)
			} else {
				err = j.tracker.Advance(s.start, nil)
			}
			if err != nil {
				return nil, err
			}
		}
		began := o.cfg.Now()
		meta, err := s.run(ctx, j)
		if err == nil {
			err = j.tracker.Err()
		}
		if err != nil {
			stage := s.start
			if stage == "" {
				stage = s.done
			}
			return nil, o.fail(j, stage, err)
		}
		if err := j.tracker.Advance(s.done, meta); err != nil {
			return nil, err
		}
		o.cfg.Metrics.Stage(string(s.done), o.cfg.Now().Sub(began))
	}

	if err := j.tracker.Advance(StageReady, map[string]any{"completed_at": o.cfg.Now().UTC()}); err != nil {
		return nil, err
	}
	o.cfg.Metrics.Document("ready")
	j.log.Info("orchestrator: pipeline complete", "duration", o.cfg.Now().Sub(start), "skipped", len(skipped))
	return o.summary(j, skipped), nil
}

// resolve fills the namespace and selection of a job.
func (o *Orchestrator) resolve(j *job, req Request) error {
	j.namespace = req.Namespace
	if j.namespace == "" {
		j.namespace = o.cfg.Namespace
	}
	if req.Selection != nil {
		sel, err := o.checkSelection(req.Selection)
		if err != nil {
			return err
		}
		j.sel = *sel
		return nil
	}
	p, err := o.profiles.Get(j.namespace)
	if err != nil {
		return err
	}
	j.client = p.ClientName
	j.sel = p.Selection()
	return nil
}

// checkSelection returns a copy of sel restricted to registry types. An
// explicit selection is closed: when none of its ids is known the run is
// refused rather than widened to the registry defaults.
func (o *Orchestrator) checkSelection(sel *enhance.Selection) (*enhance.Selection, error) {
	out := *sel
	if len(sel.TypeIDs) == 0 {
		return &out, nil
	}
	out.TypeIDs = o.reg.ValidIDs(sel.TypeIDs)
	if len(out.TypeIDs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoValidTypes, sel.TypeIDs)
	}
	return &out, nil
}

// fail records err against stage and wraps it. Cancellation is not
// recorded: the state stays at the in-progress stage for a later resume.
func (o *Orchestrator) fail(j *job, stage Stage, err error) error {
	if errors.Is(err, ErrStatePersist) {
		return err
	}
	kind := classify(err)
	if kind == KindCancelled {
		j.log.Warn("orchestrator: cancelled", "stage", stage, "error", err)
		o.cfg.Metrics.Document("cancelled")
		return &StageError{Stage: stage, Kind: kind, Err: err}
	}
	j.log.Error("orchestrator: stage failed", "stage", stage, "kind", kind, "error", err)
	o.cfg.Metrics.Document("failed")
	if perr := j.tracker.Fail(stage, kind, err); perr != nil {
		return errors.Join(perr, &StageError{Stage: stage, Kind: kind, Err: err})
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (o *Orchestrator) extract(ctx context.Context, j *job) (map[string]any, error) {
	if o.c.Extractor == nil {
		return nil, errors.New("no extractor configured")
	}
	path, err := o.store.Path(j.docID, artifacts.SourcePDF)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSource, err)
	}
	opts := docpipe.Options{
		Progress: func(p docpipe.Progress) {
			_ = j.tracker.Progress(StageOCRInProgress, p.Percent,
				fmt.Sprintf("page %d/%d", p.PagesDone, p.PagesTotal),
				map[string]any{
					"pages_done":   p.PagesDone,
					"pages_total":  p.PagesTotal,
					"current_page": p.CurrentPage,
					"failed_pages": p.FailedPages,
				})
		},
	}
	if meta, err := o.store.LoadMeta(j.docID); err == nil {
		opts.SourceFile = meta.OriginalFilename
	}

	res, err := o.c.Extractor.Extract(ctx, j.docID, path, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_pages":   res.PageCount,
		"markdown_path": res.MarkdownFile,
		"units":         len(res.Units),
		"tables":        len(res.Tables),
		"figures":       len(res.Figures),
		"failed_pages":  res.FailedPages,
	}, nil
}

func (o *Orchestrator) enhance(ctx context.Context, j *job) (map[string]any, error) {
	if o.c.Enhancer == nil {
		return nil, errors.New("no enhancer configured")
	}
	progress := func(p enhance.Progress) {
		_ = j.tracker.Progress(StageEnhancementInProgress, p.Percent,
			fmt.Sprintf("window %d/%d", p.WindowsDone, p.WindowsTotal),
			map[string]any{
				"current_window": p.WindowsDone,
				"total_windows":  p.WindowsTotal,
				"failed_windows": p.FailedWindows,
				"enhancements":   p.Enhancements,
			})
	}
	res, err := o.c.Enhancer.Enhance(ctx, j.docID, j.sel, progress)
	if err != nil {
		return nil, err
	}

	file := enhance.File{
		DocID:        j.docID,
		Total:        len(res.Enhancements),
		ByType:       res.ByType,
		Selection:    j.sel,
		Enhancements: res.Enhancements,
		GeneratedAt:  o.cfg.Now().UTC(),
	}
	if file.Enhancements == nil {
		file.Enhancements = []enhance.Enhancement{}
	}
	if err := o.store.WriteJSON(j.docID, artifacts.EnhancementsFile, &file); err != nil {
		return nil, fmt.Errorf("write enhancements: %w", err)
	}
	err = observability.UpdateDocMetrics(o.store, j.docID, func(m *observability.DocMetrics) {
		m.Enhancement = &observability.EnhancementMetrics{
			Windows:          res.Windows,
			WindowsFailed:    len(res.FailedWindows),
			LLMCalls:         res.LLMCalls,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			Candidates:       res.Candidates,
			Enhancements:     len(res.Enhancements),
			ByType:           res.ByType,
			DurationSeconds:  res.Duration.Seconds(),
		}
	})
	if err != nil {
		j.log.Warn("orchestrator: enhancement metrics not written", "error", err)
	}
	j.log.Info("orchestrator: enhancement", "enhancements", len(res.Enhancements), "types", typeSummary(res.ByType))

	return map[string]any{
		"total_enhancements": len(res.Enhancements),
		"enhancements_file":  artifacts.EnhancementsFile,
		"type_distribution":  res.ByType,
		"windows":            res.Windows,
		"failed_windows":     res.FailedWindows,
		"selected_types":     j.sel.TypeIDs,
		"domain_hint":        j.sel.DomainHint,
		"namespace":          j.namespace,
	}, nil
}

func (o *Orchestrator) approve(_ context.Context, j *job) (map[string]any, error) {
	meta := map[string]any{
		"auto_approve_all":   o.cfg.AutoApproveAll,
		"approval_timestamp": o.cfg.Now().UTC(),
	}
	if !o.cfg.AutoApproveAll {
		meta["approved"] = 0
		return meta, nil
	}
	var file enhance.File
	err := o.store.ReadJSON(j.docID, artifacts.EnhancementsFile, &file)
	if errors.Is(err, artifacts.ErrNotFound) {
		meta["approved"] = 0
		return meta, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range file.Enhancements {
		file.Enhancements[i].Status = enhance.StatusApproved
	}
	if err := o.store.WriteJSON(j.docID, artifacts.EnhancementsFile, &file); err != nil {
		return nil, fmt.Errorf("write enhancements: %w", err)
	}
	meta["approved"] = len(file.Enhancements)
	return meta, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, j *job) (map[string]any, error) {
	if o.c.Synthesizer == nil {
		return map[string]any{"skipped": true}, nil
	}
	rep, err := o.c.Synthesizer.Synthesize(ctx, j.docID)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{
		"total_enhancements": rep.Anchored + rep.Appendix,
		"anchored":           rep.Anchored,
		"appendix":           rep.Appendix,
		"skipped":            rep.Skipped,
	}
	if p, err := o.store.MarkdownPath(j.docID, artifacts.V2); err == nil {
		meta["final_markdown_path"] = filepath.Base(p)
	}
	return meta, nil
}

func (o *Orchestrator) vectorize(ctx context.Context, j *job) (map[string]any, error) {
	if o.c.Vectorizer == nil {
		return map[string]any{"skipped": true, "namespace": j.namespace}, nil
	}
	res, err := o.c.Vectorizer.Vectorize(ctx, j.docID, j.namespace)
	if err != nil {
		return nil, err
	}
	versions := map[string]any{}
	for _, v := range res.Versions {
		versions[v.Version] = map[string]any{"chunks": v.Chunks, "upserted": v.Upserted, "skipped": v.Skipped}
	}
	return map[string]any{
		"namespace":       res.Namespace,
		"versions":        versions,
		"upserted":        res.Upserted,
		"embedding_model": res.Model,
		"dimension":       res.Dimension,
	}, nil
}

func (o *Orchestrator) summary(j *job, skipped []Stage) *Summary {
	s := j.tracker.Snapshot()
	sum := &Summary{
		DocID:                s.DocID,
		Namespace:            j.namespace,
		Client:               j.client,
		Status:               "processing",
		Progress:             s.Percent(),
		CurrentStage:         s.CurrentStage,
		TotalDurationSeconds: s.TotalDuration(),
		StageTimestamps:      s.StageTimestamps,
		StageDurations:       s.StageDurations,
		TypeDistribution:     map[string]int{},
		Skipped:              skipped,
		Metadata:             s.Metadata,
		Errors:               s.Errors,
	}
	if s.CurrentStage == StageReady {
		sum.Status = "completed"
		sum.Progress = 100
	}
	var file enhance.File
	if err := o.store.ReadJSON(j.docID, artifacts.EnhancementsFile, &file); err == nil {
		sum.Enhancements = len(file.Enhancements)
		sum.TypeDistribution = enhance.CountByType(file.Enhancements)
	}
	return sum
}

func typeSummary(byType map[string]int) string {
	keys := make([]string, 0, len(byType))
	for k := range byType {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s:%d", k, byType[k])
	}
	return out
}
