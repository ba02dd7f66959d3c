package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/docenrich/docmodel"
	"github.com/hazyhaar/docenrich/llm"
	"github.com/hazyhaar/docenrich/tables"
	"github.com/hazyhaar/docenrich/window"
)

type fakeLLM struct {
	mu    sync.Mutex
	reqs  []llm.Request
	reply func(n int, req llm.Request) (*llm.Response, error)
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	f.mu.Unlock()
	return f.reply(n, req)
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testConfig() Config {
	return Config{
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		Now:            func() time.Time { return fixedNow },
	}
}

func long(tag string) string {
	return tag + ": " + strings.Repeat("analisis mendalam atas isi dokumen ", 5)
}

type item struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	SourceUnits []string `json:"source_units,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

func answer(items ...item) *llm.Response {
	b, _ := json.Marshal(map[string]any{"enhancements": items})
	return &llm.Response{Content: string(b), Model: "test-model", PromptTokens: 100, CompletionTokens: 50}
}

func testWindow(n int) *window.Window {
	var units []docmodel.Unit
	for i := range 7 {
		units = append(units, docmodel.Unit{
			UnitID:   docmodel.UnitID("doc12345678", n, docmodel.ColumnSingle, i),
			DocID:    "doc12345678",
			Page:     n,
			UnitType: docmodel.UnitParagraph,
			Column:   docmodel.ColumnSingle,
			Content:  fmt.Sprintf("paragraf %d", i),
		})
	}
	return &window.Window{
		WindowID:     fmt.Sprintf("doc12345678_w%d", n),
		WindowNumber: n,
		TotalWindows: 10,
		Content:      "Isi window untuk analisis.",
		Units:        units,
		Metadata:     window.Metadata{DominantType: window.TypeGeneral},
	}
}

var threeTypes = Selection{TypeIDs: []string{"executive_summary", "implication_analysis", "pattern_recognition"}}

func TestTypeViolationRetriesWithEnforcement(t *testing.T) {
	// WHAT: 4 of 10 items with an unselected type trigger a retry carrying
	// the enforcement block; the second answer has 1 of 10 and passes.
	// WHY: a model ignoring the selection must be corrected, not trusted.
	first := make([]item, 0, 10)
	second := make([]item, 0, 10)
	for i := range 10 {
		typ := threeTypes.TypeIDs[i%3]
		if i < 4 {
			first = append(first, item{Type: "glossary", Title: "g", Content: long(fmt.Sprintf("g%d", i))})
		} else {
			first = append(first, item{Type: typ, Title: "t", Content: long(fmt.Sprintf("a%d", i))})
		}
		if i == 0 {
			second = append(second, item{Type: "glossary", Title: "g", Content: long("g")})
		} else {
			second = append(second, item{Type: typ, Title: "t", Content: long(fmt.Sprintf("b%d", i))})
		}
	}
	fake := &fakeLLM{reply: func(n int, _ llm.Request) (*llm.Response, error) {
		if n == 1 {
			return answer(first...), nil
		}
		return answer(second...), nil
	}}

	res, err := New(testConfig(), fake, nil).EnhanceWindow(context.Background(), "doc12345678", testWindow(1), threeTypes)
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, 2, res.Calls)
	assert.Len(t, res.Enhancements, 9)
	assert.Equal(t, 1, res.Rejected)
	assert.EqualValues(t, 200, res.PromptTokens)

	require.Len(t, fake.reqs, 2)
	assert.NotContains(t, fake.reqs[0].System, "PERINGATAN PENEGAKAN TIPE")
	assert.Contains(t, fake.reqs[1].System, "PERINGATAN PENEGAKAN TIPE")
	assert.True(t, fake.reqs[0].JSON)
	for _, e := range res.Enhancements {
		assert.Contains(t, threeTypes.TypeIDs, e.EnhancementType)
	}
}

func TestRecordFields(t *testing.T) {
	conf := 1.7
	w := testWindow(2)
	fake := &fakeLLM{reply: func(int, llm.Request) (*llm.Response, error) {
		return answer(
			item{Type: "executive_summary", Title: " Ringkasan ", Content: long("x"),
				SourceUnits: []string{w.Units[3].UnitID, "u_unknown", w.Units[3].UnitID}, Confidence: &conf},
			item{Type: "pattern_recognition", Content: long("y")},
			item{Type: "executive_summary", Content: "terlalu pendek"},
		), nil
	}}

	res, err := New(testConfig(), fake, nil).EnhanceWindow(context.Background(), "doc12345678", w, threeTypes)
	require.NoError(t, err)
	require.Len(t, res.Enhancements, 2)
	assert.Equal(t, 1, res.Rejected)

	a, b := res.Enhancements[0], res.Enhancements[1]
	assert.Equal(t, "Ringkasan", a.Title)
	assert.Equal(t, []string{w.Units[3].UnitID}, a.SourceUnits)
	assert.Equal(t, 1.0, a.ConfidenceScore)
	assert.Equal(t, 6, a.Priority)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, "test-model", a.Metadata.Model)
	assert.Equal(t, w.WindowID, a.Metadata.WindowID)
	assert.Regexp(t, regexp.MustCompile(`^enh_doc12345_w2_[0-9a-f]{8}_20260102030405$`), a.EnhancementID)

	assert.Equal(t, "Enhancement", b.Title)
	assert.Equal(t, 0.8, b.ConfidenceScore)
	assert.Equal(t, w.UnitIDs()[:5], b.SourceUnits)
	assert.Equal(t, 6, b.Priority)
}

func TestAlternateTypeKey(t *testing.T) {
	fake := &fakeLLM{reply: func(int, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: fmt.Sprintf(`{"enhancements":[{"enhancement_type":"executive_summary","content":%q}]}`, long("z"))}, nil
	}}
	res, err := New(testConfig(), fake, nil).EnhanceWindow(context.Background(), "d", testWindow(1), threeTypes)
	require.NoError(t, err)
	require.Len(t, res.Enhancements, 1)
	assert.Equal(t, "executive_summary", res.Enhancements[0].EnhancementType)
}

func TestTableOnlyWindowStillPrompts(t *testing.T) {
	// WHAT: a window holding only a table is sent to the LLM with its
	// structured table section when formula_discovery is selected.
	tbl := docmodel.Table{
		Headers: []string{"Tahun", "Pendapatan", "Biaya"},
		Rows:    [][]string{{"2022", "1.200", "800"}, {"2023", "1.500", "900"}},
	}
	u := docmodel.Unit{
		UnitID:   docmodel.UnitID("doc", 1, docmodel.ColumnSingle, 0),
		DocID:    "doc",
		Page:     1,
		UnitType: docmodel.UnitTable,
		Column:   docmodel.ColumnSingle,
		Content:  tables.Markdown(tbl),
	}
	ws := window.New(window.Config{Counter: window.Approx{}}).Build("doc", []docmodel.Unit{u})
	require.Len(t, ws, 1)
	require.Len(t, ws[0].Tables, 1)

	fake := &fakeLLM{reply: func(int, llm.Request) (*llm.Response, error) {
		return answer(item{Type: "formula_discovery", Title: "Margin", Content: long("margin")}), nil
	}}
	sel := Selection{TypeIDs: []string{"formula_discovery"}}
	res, err := New(testConfig(), fake, nil).EnhanceWindow(context.Background(), "doc", &ws[0], sel)
	require.NoError(t, err)
	require.Len(t, res.Enhancements, 1)
	assert.True(t, res.Enhancements[0].Metadata.HasTables)

	require.Equal(t, 1, fake.calls())
	user := fake.reqs[0].User
	assert.Contains(t, user, "=== DATA TABEL TERSTRUKTUR ===")
	assert.Contains(t, user, "Headers: Tahun | Pendapatan | Biaya")
	assert.Contains(t, user, "Data (2 baris, ditampilkan 2)")
	assert.Contains(t, fake.reqs[0].System, "ID: `formula_discovery`")
}

func TestRetryExhaustionYieldsEmptyResult(t *testing.T) {
	// WHAT: three unparseable answers give an empty, failed window.
	// WHY: one bad window must not abort the document.
	fake := &fakeLLM{reply: func(int, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "maaf, saya tidak bisa"}, nil
	}}
	res, err := New(testConfig(), fake, nil).EnhanceWindow(context.Background(), "d", testWindow(1), threeTypes)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Empty(t, res.Enhancements)
	assert.Equal(t, 3, fake.calls())
}

func TestCancelledContextReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeLLM{reply: func(int, llm.Request) (*llm.Response, error) {
		cancel()
		return nil, context.Canceled
	}}
	_, err := New(testConfig(), fake, nil).EnhanceWindow(ctx, "d", testWindow(1), threeTypes)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.calls())
}

func TestEmptySelectionUsesDefaults(t *testing.T) {
	fake := &fakeLLM{reply: func(int, llm.Request) (*llm.Response, error) {
		return answer(item{Type: "formula_discovery", Content: long("f")}), nil
	}}
	res, err := New(testConfig(), fake, nil).EnhanceWindow(context.Background(), "d", testWindow(1), Selection{})
	require.NoError(t, err)
	require.Len(t, res.Enhancements, 1)
	assert.Contains(t, fake.reqs[0].System, "ID: `executive_summary`")
}

func TestUnknownSelectionSkipsLLM(t *testing.T) {
	fake := &fakeLLM{reply: func(int, llm.Request) (*llm.Response, error) { return answer(), nil }}
	res, err := New(testConfig(), fake, nil).EnhanceWindow(context.Background(), "d", testWindow(1), Selection{TypeIDs: []string{"glossary"}})
	require.NoError(t, err)
	assert.Empty(t, res.Enhancements)
	assert.Zero(t, fake.calls())
}

var reWindowNo = regexp.MustCompile(`Window (\d+) dari`)

func TestRunBatchesAndProgress(t *testing.T) {
	var windows []window.Window
	for i := 1; i <= 7; i++ {
		w := testWindow(i)
		w.TotalWindows = 7
		windows = append(windows, *w)
	}
	fake := &fakeLLM{reply: func(_ int, req llm.Request) (*llm.Response, error) {
		n := reWindowNo.FindStringSubmatch(req.User)[1]
		if n == "3" {
			return nil, errors.New("upstream down")
		}
		return answer(item{Type: "pattern_recognition", Content: long("window " + n)}), nil
	}}
	cfg := testConfig()
	cfg.RetryAttempts = 2
	cfg.MaxParallelWindows = 3

	var mu sync.Mutex
	var reports []Progress
	res, err := New(cfg, fake, nil).Run(context.Background(), "doc12345678", windows, threeTypes, func(p Progress) {
		mu.Lock()
		reports = append(reports, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, 7, res.Windows)
	assert.Equal(t, []int{3}, res.FailedWindows)
	assert.Len(t, res.Enhancements, 6)
	assert.Equal(t, 6, res.Candidates)
	assert.Equal(t, 8, res.LLMCalls)
	assert.Equal(t, map[string]int{"pattern_recognition": 6}, res.ByType)

	require.Len(t, reports, 7)
	last := reports[6]
	assert.Equal(t, 7, last.WindowsDone)
	assert.Equal(t, 1, last.FailedWindows)
	assert.Equal(t, 6, last.Enhancements)
	assert.InDelta(t, 100.0, last.Percent, 1e-9)
}

func TestParseStrategies(t *testing.T) {
	obj := `{"enhancements": [{"type": "a", "content": "x"}]}`
	cases := []struct {
		name     string
		in       string
		strategy int
		n        int
	}{
		{"direct", obj, StrategyDirect, 1},
		{"direct without key", `{"other": 1}`, StrategyDirect, 0},
		{"fenced", "Berikut hasilnya:\n```json\n" + obj + "\n```\nSemoga membantu.", StrategyFenced, 1},
		{"trailing comma", `{"enhancements": [{"type": "a", "content": "x"},]}`, StrategyRepair, 1},
		{"truncated string", `{"enhancements": [{"type": "a", "content": "x"}, {"type": "b", "content": "y`, StrategyRepair, 2},
		{"truncated key", `{"enhancements": [{"type": "a", "content": "x"}, {"type": "b", "conte`, StrategyArray, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, strategy, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.strategy, strategy)
			assert.Len(t, items, tc.n)
		})
	}
}

func TestParseFailures(t *testing.T) {
	_, _, err := Parse(`[1, 2]`)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, _, err = Parse(`{"enhancements": "none"}`)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, _, err = Parse("tidak ada json di sini")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 10, Priority("formula_discovery", window.TypeFinancial, 0.9))
	assert.Equal(t, 8, Priority("risk_identification", window.TypeLegal, 0.5))
	assert.Equal(t, 7, Priority("implication_analysis", window.TypeLegal, 0.85))
	assert.Equal(t, 5, Priority("executive_summary", window.TypeGeneral, 0.8))
}

func TestRankDedupesAndOrders(t *testing.T) {
	in := []Enhancement{
		{EnhancementID: "a", GeneratedContent: "Laba naik  20%", Priority: 5, ConfidenceScore: 0.8},
		{EnhancementID: "b", GeneratedContent: "Risiko likuiditas", Priority: 8, ConfidenceScore: 0.7},
		{EnhancementID: "c", GeneratedContent: "laba NAIK 20%", Priority: 9, ConfidenceScore: 0.9},
		{EnhancementID: "d", GeneratedContent: "Kewajiban pelaporan", Priority: 8, ConfidenceScore: 0.9},
		{EnhancementID: "e", GeneratedContent: "Tren biaya", Priority: 5, ConfidenceScore: 0.8},
	}
	got := Rank(in)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.EnhancementID)
	}
	assert.Equal(t, []string{"d", "b", "a", "e"}, ids)
	assert.Equal(t, got, Rank(got))
}

func TestUserPromptSections(t *testing.T) {
	w := testWindow(4)
	w.Content = strings.Repeat("é", 50)
	w.NumericalPatterns = window.Patterns("Modal Rp 1.500.000 dengan bunga 5,75% selama 3 tahun")
	w.Metadata.DominantType = window.TypeLegal

	p := UserPrompt(w, "legal", 10)
	assert.Contains(t, p, "Window 4 dari 10")
	assert.Contains(t, p, "=== KONTEN DOKUMEN ===\n"+strings.Repeat("é", 10)+"\n")
	assert.Contains(t, p, "=== POLA NUMERIK TERDETEKSI ===")
	assert.Contains(t, p, "- "+window.PatternCurrency+": 1")
	assert.Contains(t, p, "HINT: ")
	assert.Contains(t, p, "DOMAIN: legal")
	assert.Contains(t, p, w.Units[6].UnitID)
	assert.NotContains(t, p, "=== DATA TABEL TERSTRUKTUR ===")
}
