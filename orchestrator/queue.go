package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/horosafe"
	"github.com/hazyhaar/docenrich/vtq"
)

// Enqueuer publishes a document job. *vtq.Q implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, docID string, payload []byte) (bool, error)
}

// Schedule publishes a run of docID on q and returns the current state.
// Scheduling a document already queued is a no-op.
func (o *Orchestrator) Schedule(ctx context.Context, q Enqueuer, docID string, req Request) (*State, error) {
	if err := horosafe.ValidateIdentifier(docID); err != nil {
		return nil, err
	}
	if !o.store.Exists(docID) {
		return nil, fmt.Errorf("%w: document %s", artifacts.ErrNotFound, docID)
	}
	if req.Selection != nil {
		sel, err := o.checkSelection(req.Selection)
		if err != nil {
			return nil, err
		}
		req.Selection = sel
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode job: %w", err)
	}
	created, err := q.Enqueue(ctx, docID, payload)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: schedule %s: %w", docID, err)
	}
	if created {
		o.cfg.Metrics.QueueJob("enqueued")
		o.cfg.Logger.Info("orchestrator: scheduled", "doc_id", docID, "namespace", req.Namespace)
	} else {
		o.cfg.Metrics.QueueJob("duplicate")
	}
	return LoadState(o.store, docID)
}

// HandleJob is the vtq handler running a scheduled document. Failures that
// a retry cannot fix are recorded in the state and acked; the rest are
// returned so the job becomes visible again.
func (o *Orchestrator) HandleJob(ctx context.Context, job *vtq.Job) error {
	var req Request
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &req); err != nil {
			o.cfg.Logger.Error("orchestrator: bad job payload", "doc_id", job.DocID, "error", err)
			o.cfg.Metrics.QueueJob("rejected")
			return nil
		}
	}

	_, err := o.Run(ctx, job.DocID, req)
	var se *StageError
	switch {
	case err == nil:
		o.cfg.Metrics.QueueJob("done")
		return nil
	case errors.Is(err, ErrAlreadyRunning):
		return nil
	case errors.Is(err, ErrNoValidTypes):
		o.cfg.Logger.Warn("orchestrator: job selects no known type", "doc_id", job.DocID, "error", err)
		o.cfg.Metrics.QueueJob("rejected")
		return nil
	case errors.Is(err, artifacts.ErrNotFound) && !o.store.Exists(job.DocID):
		o.cfg.Logger.Warn("orchestrator: job for missing document", "doc_id", job.DocID)
		o.cfg.Metrics.QueueJob("rejected")
		return nil
	case errors.As(err, &se) && se.Kind == KindInput:
		o.cfg.Metrics.QueueJob("failed")
		return nil
	}
	o.cfg.Metrics.QueueJob("retry")
	return err
}
