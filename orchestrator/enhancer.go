package orchestrator

import (
	"context"
	"fmt"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/docmodel"
	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/window"
)

// WindowedEnhancer loads the units of an extracted document, cuts them
// into windows and runs the executor over them.
type WindowedEnhancer struct {
	Store    *artifacts.Store
	Windows  *window.Builder
	Executor *enhance.Executor
}

// Enhance implements Enhancer.
func (w *WindowedEnhancer) Enhance(ctx context.Context, docID string, sel enhance.Selection, progress func(enhance.Progress)) (*enhance.Result, error) {
	var units []docmodel.Unit
	if err := w.Store.ReadJSON(docID, artifacts.UnitsFile, &units); err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	windows := w.Windows.Build(docID, units)
	return w.Executor.Run(ctx, docID, windows, sel, progress)
}
