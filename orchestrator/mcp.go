package orchestrator

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/kit"
)

// RegisterMCP registers the process, status, analyze and
// enhancement_types tools.
func (o *Orchestrator) RegisterMCP(srv *mcp.Server) {
	o.registerProcessTool(srv)
	o.registerStatusTool(srv)
	o.registerTypesTool(srv)
	o.registerAnalyzeTool(srv)
}

type processReq struct {
	DocID              string   `json:"doc_id"`
	Namespace          string   `json:"namespace"`
	SelectedTypes      []string `json:"selected_types"`
	DomainHint         string   `json:"domain_hint"`
	CustomInstructions string   `json:"custom_instructions"`
}

func (o *Orchestrator) registerProcessTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docenrich_process",
		Description: "Run an uploaded document through extraction, enhancement, synthesis and vectorization. Completed stages are skipped.",
		InputSchema: kit.InputSchema(map[string]any{
			"doc_id":              map[string]any{"type": "string", "description": "Document id returned by the upload"},
			"namespace":           map[string]any{"type": "string", "description": "Client namespace; selects the profile and vector namespace"},
			"selected_types":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Enhancement type ids; the profile is used when empty"},
			"domain_hint":         map[string]any{"type": "string"},
			"custom_instructions": map[string]any{"type": "string"},
		}, []string{"doc_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*processReq)
		run := Request{Namespace: r.Namespace}
		if len(r.SelectedTypes) > 0 {
			run.Selection = &enhance.Selection{
				TypeIDs:            r.SelectedTypes,
				DomainHint:         r.DomainHint,
				CustomInstructions: r.CustomInstructions,
			}
		}
		ctx = kit.WithDocID(ctx, r.DocID)
		if r.Namespace != "" {
			ctx = kit.WithNamespace(ctx, r.Namespace)
		}
		return o.Run(ctx, r.DocID, run)
	}

	kit.RegisterMCPTool(srv, tool, kit.Wrap(o.cfg.Logger, tool.Name, endpoint), kit.DecodeJSON[processReq]())
}

type docReq struct {
	DocID string `json:"doc_id"`
}

func (o *Orchestrator) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docenrich_status",
		Description: "Return the processing state of a document: current stage, progress, timestamps, durations and errors.",
		InputSchema: kit.InputSchema(map[string]any{
			"doc_id": map[string]any{"type": "string"},
		}, []string{"doc_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return o.Status(req.(*docReq).DocID)
	}

	kit.RegisterMCPTool(srv, tool, kit.Wrap(o.cfg.Logger, tool.Name, endpoint), kit.DecodeJSON[docReq]())
}

type typesReq struct{}

func (o *Orchestrator) registerTypesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docenrich_enhancement_types",
		Description: "List the enhancement types and categories available for selection.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return o.reg.FrontendConfig(), nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Wrap(o.cfg.Logger, tool.Name, endpoint), kit.DecodeJSON[typesReq]())
}

func (o *Orchestrator) registerAnalyzeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docenrich_analyze",
		Description: "Scan an extracted document and recommend enhancement types for its detected domain.",
		InputSchema: kit.InputSchema(map[string]any{
			"doc_id": map[string]any{"type": "string"},
		}, []string{"doc_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return o.Analyze(req.(*docReq).DocID)
	}

	kit.RegisterMCPTool(srv, tool, kit.Wrap(o.cfg.Logger, tool.Name, endpoint), kit.DecodeJSON[docReq]())
}
