package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

// run executes the CLI against a fresh artefact directory and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newCLI()
	app.Writer = &out
	app.ErrWriter = &out
	// cli.Exit errors would otherwise call os.Exit.
	app.ExitErrHandler = func(*cli.Context, error) {}
	full := append([]string{"docenrich", "--env-file", filepath.Join(dir, "missing.env"), "--log-level", "error"}, args...)
	err := app.RunContext(context.Background(), full)
	return out.String(), err
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DOCENRICH_ARTEFACTS_DIR", filepath.Join(dir, "artefacts"))
	t.Setenv("DOCENRICH_DB_PATH", filepath.Join(dir, "data", "docenrich.db"))
	return dir
}

func TestCommands(t *testing.T) {
	want := []string{"serve", "upload", "extract", "process", "status", "types"}
	app := newCLI()
	if len(app.Commands) != len(want) {
		t.Fatalf("commands = %d, want %d", len(app.Commands), len(want))
	}
	for i, name := range want {
		if app.Commands[i].Name != name {
			t.Errorf("command %d = %s, want %s", i, app.Commands[i].Name, name)
		}
	}
}

func TestTypesCommand(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, dir, "types")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "formula_discovery") || !strings.Contains(out, "quantitative") {
		t.Fatalf("listing misses the embedded catalogue:\n%s", out)
	}

	out, err = run(t, dir, "types", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var cat map[string]any
	if err := json.Unmarshal([]byte(out), &cat); err != nil {
		t.Fatalf("--json output is not JSON: %v\n%s", err, out)
	}
}

func TestUploadThenStatus(t *testing.T) {
	// WHAT: a file uploaded from the CLI gets an id whose status is uploaded.
	dir := setupEnv(t)
	pdf := filepath.Join(dir, "Laporan Keuangan.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4\n%%EOF\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, dir, "upload", pdf)
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		DocumentID string `json:"document_id"`
		Filename   string `json:"filename"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("upload output: %v\n%s", err, out)
	}
	if res.DocumentID == "" || res.Filename != "Laporan Keuangan.pdf" {
		t.Fatalf("result = %+v", res)
	}

	out, err = run(t, dir, "status", res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		CurrentStage string `json:"current_stage"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status output: %v\n%s", err, out)
	}
	if st.CurrentStage != "uploaded" {
		t.Fatalf("stage = %s, want uploaded", st.CurrentStage)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	dir := setupEnv(t)
	txt := filepath.Join(dir, "notes.pdf")
	if err := os.WriteFile(txt, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, dir, "upload", txt); err == nil {
		t.Fatal("expected rejection")
	}
}

func TestMissingDocID(t *testing.T) {
	dir := setupEnv(t)
	for _, cmd := range []string{"status", "extract", "process"} {
		if _, err := run(t, dir, cmd); err == nil {
			t.Errorf("%s without DOC_ID succeeded", cmd)
		}
	}
}
