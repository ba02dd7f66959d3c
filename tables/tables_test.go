package tables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/docenrich/docmodel"
)

// word places a 10pt word with 5pt per character at (x, y) top-left.
func word(x, y float64, text string) docmodel.Word {
	return docmodel.Word{BBox: docmodel.BBox{x, y, x + float64(len(text))*5, y + 10}, Text: text}
}

func hline(x0, x1, y float64) docmodel.BBox { return docmodel.BBox{x0, y - 0.5, x1, y + 0.5} }
func vline(x, y0, y1 float64) docmodel.BBox { return docmodel.BBox{x - 0.5, y0, x + 0.5, y1} }

func ruledPage() *PageInput {
	return &PageInput{
		Number: 1,
		Size:   docmodel.A4,
		Rules: []docmodel.BBox{
			hline(50, 250, 100), hline(50, 250, 120), hline(50, 250, 140),
			vline(50, 100, 140), vline(150, 100, 140), vline(250, 100, 140),
		},
		Words: []docmodel.Word{
			word(85, 105, "Item"), word(185, 105, "Nilai"),
			word(90, 125, "Kas"), word(185, 125, "1.500"),
		},
	}
}

func streamWords() []docmodel.Word {
	return []docmodel.Word{
		word(50, 100, "Uraian"), word(200, 100, "2023"), word(300, 100, "2024"),
		word(50, 114, "Pendapatan"), word(200, 114, "1.200"), word(300, 114, "1.350"),
		word(50, 128, "Beban"), word(200, 128, "(300)"), word(300, 128, "(320)"),
		word(50, 142, "Laba"), word(73, 142, "bersih"), word(200, 142, "900"), word(300, 142, "1.030"),
	}
}

func TestLattice_RuledGrid(t *testing.T) {
	// WHAT: ruling lines forming a 2x2 grid yield one table with cell text.
	// WHY: bordered tables are the most reliable structure in financial reports.
	tbls := Lattice(ruledPage())
	require.Len(t, tbls, 1)
	assert.Equal(t, []string{"Item", "Nilai"}, tbls[0].Headers)
	assert.Equal(t, [][]string{{"Kas", "1.500"}}, tbls[0].Rows)
	assert.Equal(t, docmodel.BBox{50, 100, 250, 140}, tbls[0].BBox)
	assert.Len(t, tbls[0].Cells, 4)
}

func TestStream_AlignedColumns(t *testing.T) {
	// WHAT: whitespace-aligned rows become a three column table.
	// WHY: many tables in annual reports carry no ruling lines at all.
	tbls := Stream(streamWords(), docmodel.A4)
	require.Len(t, tbls, 1)
	assert.Equal(t, []string{"Uraian", "2023", "2024"}, tbls[0].Headers)
	require.Len(t, tbls[0].Rows, 3)
	assert.Equal(t, []string{"Laba bersih", "900", "1.030"}, tbls[0].Rows[2])
}

func TestStream_RejectsTwoColumnProse(t *testing.T) {
	// WHAT: two columns of long sentences are not a table.
	// WHY: two-column body text is the classic false positive of gutter detection.
	left := "Pertumbuhan ekonomi nasional tetap terjaga baik"
	right := "Kebijakan moneter diarahkan menjaga stabilitas"
	var ws []docmodel.Word
	for i := 0; i < 5; i++ {
		y := 100 + float64(i)*14
		ws = append(ws, word(40, y, left), word(320, y, right))
	}
	assert.Empty(t, Stream(ws, docmodel.A4))
}

func TestWordGrid_Anchors(t *testing.T) {
	// WHAT: shared word start positions across rows become columns.
	tbls, err := WordGrid{}.Extract(context.Background(), &PageInput{
		Number: 2,
		Size:   docmodel.A4,
		Words: []docmodel.Word{
			word(50, 100, "Kode"), word(200, 100, "Keterangan"),
			word(50, 114, "A1"), word(200, 114, "Giro"),
			word(50, 128, "A2"), word(200, 128, "Tabungan"),
			word(50, 142, "A3"), word(200, 142, "Deposito"),
		},
	})
	require.NoError(t, err)
	require.Len(t, tbls, 1)
	assert.Equal(t, docmodel.ProvenancePdfplumber, tbls[0].Provenance)
	assert.Equal(t, []string{"Kode", "Keterangan"}, tbls[0].Headers)
	assert.Len(t, tbls[0].Rows, 3)
}

type stubExtractor struct {
	tbls []docmodel.Table
	err  error
}

func (stubExtractor) Name() string { return "stub" }
func (s stubExtractor) Extract(context.Context, *PageInput) ([]docmodel.Table, error) {
	return s.tbls, s.err
}

func TestChain_PrimaryLattice(t *testing.T) {
	c := NewChain(nil)
	tbls, err := c.Extract(context.Background(), "doc1", ruledPage())
	require.NoError(t, err)
	require.Len(t, tbls, 1)
	assert.Equal(t, "t_doc1_p1_0", tbls[0].TableID)
	assert.Equal(t, docmodel.ProvenanceCamelot, tbls[0].Provenance)
	assert.Equal(t, 1, tbls[0].Page)
	assert.False(t, tbls[0].BBoxEstimated)
}

func TestChain_FallsBackWhenPrimaryUnavailable(t *testing.T) {
	// WHAT: an unavailable primary extractor hands over to the secondary.
	c := &Chain{Primary: stubExtractor{err: ErrUnavailable}, Secondary: WordGrid{}}
	c.Logger = NewChain(nil).Logger
	tbls, err := c.Extract(context.Background(), "d", &PageInput{Number: 1, Size: docmodel.A4, Words: streamWords()})
	require.NoError(t, err)
	require.Len(t, tbls, 1)
	assert.Equal(t, docmodel.ProvenancePdfplumber, tbls[0].Provenance)
}

func TestChain_EstimatesMissingBBox(t *testing.T) {
	// WHAT: a table without position gets a conservative right-aligned box.
	// WHY: rate tables sit on the right in the reports we process.
	c := &Chain{Primary: stubExtractor{tbls: []docmodel.Table{{
		Headers: []string{"Tahun", "Suku bunga %"},
		Rows:    [][]string{{"2023", "5.75"}},
	}}}, Logger: NewChain(nil).Logger}
	tbls, err := c.Extract(context.Background(), "d", &PageInput{Number: 3, Size: docmodel.A4})
	require.NoError(t, err)
	require.Len(t, tbls, 1)
	assert.True(t, tbls[0].BBoxEstimated)
	assert.Equal(t, docmodel.BBox{385, 100, 545, 160}, tbls[0].BBox)
}

func TestChain_DropsDegenerateTables(t *testing.T) {
	c := &Chain{Primary: stubExtractor{tbls: []docmodel.Table{
		{Headers: []string{"Only"}, Rows: [][]string{{"x"}}},
		{Headers: []string{"A", "B"}},
	}}, Logger: NewChain(nil).Logger}
	tbls, err := c.Extract(context.Background(), "d", &PageInput{Number: 1, Size: docmodel.A4})
	require.NoError(t, err)
	assert.Empty(t, tbls)
}

func TestPostprocess_Fixes(t *testing.T) {
	// WHAT: merged numeric tokens are split and counted, empty columns dropped.
	// WHY: PDF text runs often glue adjacent cells together.
	out := Postprocess(docmodel.Table{
		Headers: []string{"", "Nilai\nAkhir", "Kosong"},
		Rows: [][]string{
			{"Kas", "12%15%", ""},
			{"Utang", "(1.200)", " "},
			{"Piutang", "1.000 2.000", ""},
			{" Tgl ", "1-Jan2-Feb", ""},
		},
	})
	assert.Equal(t, []string{"Col0", "Nilai Akhir"}, out.Headers)
	assert.Equal(t, [][]string{
		{"Kas", "12% | 15%"},
		{"Utang", "-1.200"},
		{"Piutang", "1.000 | 2.000"},
		{"Tgl", "1-Jan | 2-Feb"},
	}, out.Rows)
	assert.Equal(t, map[string]int{
		FixSplitPercent:   1,
		FixNegativeParens: 1,
		FixSplitNumbers:   1,
		FixSplitDates:     1,
		FixDroppedColumns: 1,
		FixSynthHeaders:   1,
	}, out.Fixes)
}

func TestSplitCell_LeavesPlainValues(t *testing.T) {
	for _, in := range []string{"1.500", "Kas dan setara kas", "5,75%", ""} {
		got, fix := SplitCell(in)
		assert.Equal(t, in, got)
		assert.Empty(t, fix, in)
	}
}

func TestPlausible(t *testing.T) {
	assert.True(t, Plausible(docmodel.BBox{50, 100, 300, 300}, docmodel.A4))
	assert.False(t, Plausible(docmodel.BBox{0, 0, 595, 800}, docmodel.A4), "page sized")
	assert.False(t, Plausible(docmodel.BBox{50, 100, 60, 110}, docmodel.A4), "tiny")
}

func TestMarkdown(t *testing.T) {
	md := Markdown(docmodel.Table{
		Headers: []string{"A", "Nilai"},
		Rows:    [][]string{{"1", "2\n3"}, {"x", "12% | 15%"}},
	})
	assert.Equal(t, "| A | Nilai |\n|---|-------|\n| 1 | 2 3 |\n| x | 12% \\| 15% |", md)
}
