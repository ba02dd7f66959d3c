package docpipe

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docenrich/artifacts"
)

var testMCPImpl = &mcp.Implementation{Name: "docpipe-test", Version: "0.1.0"}

func mcpSession(t *testing.T, pipe *Pipeline) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	pipe.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func TestMCP_Extract(t *testing.T) {
	// WHAT: docenrich_extract runs the pipeline on a stored upload.
	pipe, store := newTestPipeline(t, &fakeEngine{})
	src := writePDF(t, "src.pdf", buildTextPDF([][]string{{"Prosedur pengadaan barang dan jasa"}}))
	data, _ := os.ReadFile(src)
	if err := store.WriteFile("doc7", artifacts.SourcePDF, data); err != nil {
		t.Fatal(err)
	}

	res := mcpCall(t, mcpSession(t, pipe), "docenrich_extract", map[string]any{"doc_id": "doc7"})
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	var resp extractResp
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.PageCount != 1 || resp.Units == 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMCP_Extract_UnknownDocument(t *testing.T) {
	pipe, _ := newTestPipeline(t, &fakeEngine{})
	res := mcpCall(t, mcpSession(t, pipe), "docenrich_extract", map[string]any{"doc_id": "missing"})
	if !res.IsError {
		t.Fatal("expected a tool error for an unknown document")
	}
}

func TestMCP_Extract_RejectsTraversal(t *testing.T) {
	pipe, _ := newTestPipeline(t, &fakeEngine{})
	res := mcpCall(t, mcpSession(t, pipe), "docenrich_extract", map[string]any{"doc_id": "../etc"})
	if !res.IsError {
		t.Fatal("expected a tool error for an invalid id")
	}
}
