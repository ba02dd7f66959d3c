package vectorize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/connectivity"
	"github.com/hazyhaar/docenrich/dbopen"
	"github.com/hazyhaar/docenrich/mdemit"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/vecstore"
)

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("upstream 503")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Model() string  { return "fake-embed" }

func markdown(docID string, pages int) string {
	var body strings.Builder
	for p := 1; p <= pages; p++ {
		fmt.Fprintf(&body, "\n<!-- page %d -->\n\n", p)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(&body, "Halaman %d paragraf %d. %s\n\n", p, i, strings.Repeat("isi dokumen keuangan ", 5))
		}
	}
	return "---\ndoc_id: " + docID + "\n---\n" + body.String() + "\n---\n\n" + mdemit.Footer(docID) + "\n"
}

func setup(t *testing.T, versions ...string) (*artifacts.Store, *vecstore.Store) {
	t.Helper()
	store, err := artifacts.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Ensure("doc1"); err != nil {
		t.Fatal(err)
	}
	for _, v := range versions {
		path, err := store.MarkdownPath("doc1", v)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(markdown("doc1", 3)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	vs, err := vecstore.New(dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	return store, vs
}

func testConfig() Config {
	return Config{
		Namespace:       "ns",
		UploadBatchSize: 4,
		ChunkSize:       200,
		ChunkOverlap:    20,
		Retry:           connectivity.Policy{Attempts: 3, BaseDelay: time.Millisecond},
	}
}

func TestVectorizeBothVersions(t *testing.T) {
	ctx := context.Background()
	store, vs := setup(t, artifacts.V1, artifacts.V2)
	emb := &fakeEmbedder{}

	res, err := New(store, vs, emb, testConfig()).Vectorize(ctx, "doc1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(res.Versions))
	}
	if res.Versions[0].Chunks < 5 {
		t.Fatalf("v1 chunks = %d, want several", res.Versions[0].Chunks)
	}
	if res.Upserted != res.Versions[0].Chunks+res.Versions[1].Chunks {
		t.Errorf("upserted = %d, chunks %d + %d", res.Upserted, res.Versions[0].Chunks, res.Versions[1].Chunks)
	}

	recs, err := vs.Query(ctx, "ns", vecstore.Filter{SourceDocument: "doc1", Version: artifacts.V1})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != res.Versions[0].Chunks {
		t.Fatalf("stored v1 = %d, want %d", len(recs), res.Versions[0].Chunks)
	}
	ids := map[string]bool{}
	for _, r := range recs {
		ids[r.ID] = true
		if len(r.Metadata.Pages) == 0 {
			t.Errorf("%s has no page hint", r.ID)
		}
		if strings.Contains(r.Metadata.Text, "doc_id:") {
			t.Errorf("%s contains frontmatter", r.ID)
		}
	}
	if !ids["doc1_v1_0"] {
		t.Errorf("missing record doc1_v1_0, have %v", ids)
	}

	var m observability.DocMetrics
	if err := store.ReadJSON("doc1", artifacts.MetricsFile, &m); err != nil {
		t.Fatal(err)
	}
	if m.Vectorization == nil || m.Vectorization.Upserted != res.Upserted || m.Vectorization.Dimension != 3 {
		t.Errorf("metrics.json vectorization = %+v", m.Vectorization)
	}
}

func TestVectorizeReplacesPreviousRecords(t *testing.T) {
	// WHAT: a second run with shorter markdown leaves no stale chunks.
	ctx := context.Background()
	store, vs := setup(t, artifacts.V1)
	v := New(store, vs, &fakeEmbedder{}, testConfig())

	if _, err := v.Vectorize(ctx, "doc1", ""); err != nil {
		t.Fatal(err)
	}
	path, _ := store.MarkdownPath("doc1", artifacts.V1)
	if err := os.WriteFile(path, []byte(markdown("doc1", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := v.Vectorize(ctx, "doc1", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Versions[0].Deleted == 0 {
		t.Error("expected previous records to be deleted")
	}
	n, err := vs.Count(ctx, "ns", vecstore.Filter{SourceDocument: "doc1"})
	if err != nil {
		t.Fatal(err)
	}
	if n != res.Versions[0].Chunks {
		t.Errorf("stored = %d, want %d", n, res.Versions[0].Chunks)
	}
	if res.Versions[1].Skipped != "missing" {
		t.Errorf("v2 skipped = %q, want missing", res.Versions[1].Skipped)
	}
}

func TestVectorizeMissingV1(t *testing.T) {
	store, vs := setup(t)
	_, err := New(store, vs, &fakeEmbedder{}, testConfig()).Vectorize(context.Background(), "doc1", "")
	if !errors.Is(err, ErrNoMarkdown) {
		t.Fatalf("expected ErrNoMarkdown, got %v", err)
	}
}

func TestVectorizeRetriesEmbeddings(t *testing.T) {
	store, vs := setup(t, artifacts.V1)
	emb := &fakeEmbedder{failures: 1}
	cfg := testConfig()
	cfg.Versions = []string{artifacts.V1}
	cfg.Workers = 1

	res, err := New(store, vs, emb, cfg).Vectorize(context.Background(), "doc1", "")
	if err != nil {
		t.Fatal(err)
	}
	batches := (res.Versions[0].Chunks + cfg.UploadBatchSize - 1) / cfg.UploadBatchSize
	if emb.calls != batches+1 {
		t.Errorf("embedding calls = %d, want %d", emb.calls, batches+1)
	}
}

func TestVectorizeDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store, vs := setup(t, artifacts.V1)
	if err := vs.EnsureIndex(ctx, 8); err != nil {
		t.Fatal(err)
	}
	_, err := New(store, vs, &fakeEmbedder{}, testConfig()).Vectorize(ctx, "doc1", "")
	if !errors.Is(err, vecstore.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestPageIndex(t *testing.T) {
	text := "intro\n<!-- page 1 -->\naaaa\n<!-- page 2 -->\nbbbb\n<!-- page 3 -->\ncccc"
	idx := NewPageIndex(text)

	p2 := strings.Index(text, "bbbb")
	p3 := strings.Index(text, "cccc")
	cases := []struct {
		start, end int
		want       []int
	}{
		{0, 5, nil},
		{p2, p2 + 4, []int{2}},
		{p2, p3 + 2, []int{2, 3}},
		{0, len(text), []int{1, 2, 3}},
	}
	for _, tc := range cases {
		if got := idx.Pages(tc.start, tc.end); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Pages(%d,%d) = %v, want %v", tc.start, tc.end, got, tc.want)
		}
	}
}

func TestRecordID(t *testing.T) {
	if got := RecordID("doc1", "v2", 7); got != "doc1_v2_7" {
		t.Errorf("RecordID = %q", got)
	}
}
