package docmodel

import "testing"

func TestSortUnits_TwoColumnProse(t *testing.T) {
	// WHAT: 20 left and 20 right paragraphs on one page sort left-first.
	// WHY: two-column prose must read down the left column before the right.
	var units []Unit
	for i := 0; i < 20; i++ {
		y := 60 + float64(i)*35
		units = append(units,
			Unit{UnitID: "r", Page: 1, Column: ColumnRight, BBox: BBox{310, y, 560, y + 30}},
			Unit{UnitID: "l", Page: 1, Column: ColumnLeft, BBox: BBox{40, y, 290, y + 30}},
		)
	}
	SortUnits(units)
	for i := 0; i < 20; i++ {
		if units[i].Column != ColumnLeft {
			t.Fatalf("unit %d is %s, want left", i, units[i].Column)
		}
	}
	for i := 1; i < 20; i++ {
		if units[i].BBox.Y0() < units[i-1].BBox.Y0() {
			t.Fatal("left column not sorted by y")
		}
	}
}

func TestSortUnits_FullWidthBands(t *testing.T) {
	units := []Unit{
		{UnitID: "right-low", Page: 1, Column: ColumnRight, BBox: BBox{310, 400, 560, 420}},
		{UnitID: "title", Page: 1, Column: ColumnFull, BBox: BBox{40, 40, 560, 60}},
		{UnitID: "left-low", Page: 1, Column: ColumnLeft, BBox: BBox{40, 420, 290, 440}},
		{UnitID: "footer-table", Page: 1, Column: ColumnFull, BBox: BBox{40, 600, 560, 700}},
		{UnitID: "p2", Page: 2, Column: ColumnSingle, BBox: BBox{40, 10, 560, 20}},
		{UnitID: "left-high", Page: 1, Column: ColumnLeft, BBox: BBox{40, 100, 290, 120}},
	}
	SortUnits(units)
	want := []string{"title", "left-high", "left-low", "right-low", "footer-table", "p2"}
	for i, id := range want {
		if units[i].UnitID != id {
			t.Fatalf("position %d: got %s, want %s", i, units[i].UnitID, id)
		}
	}
}

func TestSortUnits_SingleColumnByY(t *testing.T) {
	units := []Unit{
		{UnitID: "b", Page: 1, Column: ColumnSingle, BBox: BBox{40, 200, 500, 220}},
		{UnitID: "a2", Page: 1, Column: ColumnSingle, BBox: BBox{300, 100.5, 500, 120}},
		{UnitID: "a1", Page: 1, Column: ColumnSingle, BBox: BBox{40, 100, 200, 120}},
	}
	SortUnits(units)
	if units[0].UnitID != "a1" || units[1].UnitID != "a2" || units[2].UnitID != "b" {
		t.Fatalf("got %s %s %s", units[0].UnitID, units[1].UnitID, units[2].UnitID)
	}
}
