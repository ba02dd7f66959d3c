package docpipe

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/horosafe"
	"github.com/hazyhaar/docenrich/kit"
)

// RegisterMCP registers the docenrich_extract tool on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerExtractTool(srv)
}

type extractReq struct {
	DocID string `json:"doc_id"`
}

type extractResp struct {
	DocID        string             `json:"doc_id"`
	PageCount    int                `json:"page_count"`
	Units        int                `json:"units"`
	Tables       int                `json:"tables"`
	Figures      int                `json:"figures"`
	FailedPages  []int              `json:"failed_pages"`
	MarkdownFile string             `json:"markdown_file"`
	DocumentType string             `json:"document_type"`
	Language     string             `json:"language"`
	Quality      *ExtractionQuality `json:"quality,omitempty"`
}

func (p *Pipeline) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docenrich_extract",
		Description: "Extract an uploaded PDF into ordered units, tables, figures and markdown. Returns a summary of the extraction.",
		InputSchema: kit.InputSchema(map[string]any{
			"doc_id": map[string]any{"type": "string", "description": "Document id returned by the upload"},
		}, []string{"doc_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		if err := horosafe.ValidateIdentifier(r.DocID); err != nil {
			return nil, err
		}
		path, err := p.store.Path(r.DocID, artifacts.SourcePDF)
		if err != nil {
			return nil, err
		}
		if !p.store.Exists(r.DocID) {
			return nil, fmt.Errorf("%w: document %s", artifacts.ErrNotFound, r.DocID)
		}
		res, err := p.Extract(kit.WithDocID(ctx, r.DocID), r.DocID, path, Options{})
		if err != nil {
			return nil, err
		}
		return &extractResp{
			DocID:        res.DocID,
			PageCount:    res.PageCount,
			Units:        len(res.Units),
			Tables:       len(res.Tables),
			Figures:      len(res.Figures),
			FailedPages:  res.FailedPages,
			MarkdownFile: res.MarkdownFile,
			DocumentType: res.Meta.DocumentType,
			Language:     res.Meta.Language,
			Quality:      res.Quality,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Wrap(p.logger, tool.Name, endpoint), kit.DecodeJSON[extractReq]())
}
