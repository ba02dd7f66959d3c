package enhance

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/docenrich/window"
)

const (
	promptTables     = 3
	promptTableRows  = 5
	promptPatternEx  = 5
	contextExcerpt   = 500
	defaultSourceIDs = 5
)

var hints = map[string]string{
	window.TypeFinancial:  "Konten ini mengandung data keuangan. Fokus pada rumus, perhitungan dan proyeksi.",
	window.TypeLegal:      "Konten ini bersifat hukum atau regulasi. Fokus pada implikasi, konsekuensi dan sintesis persyaratan.",
	window.TypeProcedural: "Konten ini berisi prosedur. Fokus pada kelengkapan alur kerja dan pemetaan dependensi.",
}

const userInstructions = `=== INSTRUKSI ===
1. Baca seluruh konten dan cari celah antara yang tertulis dan yang tersirat.
2. Hasilkan enhancement sebanyak yang bernilai, minimal 5 bila konten memungkinkan.
3. Setiap enhancement harus berbasis bukti dari konten di atas dan dapat ditindaklanjuti.
4. Isi source_units dengan unit_id dari daftar UNIT di atas.
5. Jawab hanya dengan objek JSON sesuai format pada system prompt.`

// UserPrompt renders the per-window prompt.
func UserPrompt(w *window.Window, domainHint string, limit int) string {
	var sb strings.Builder
	sb.WriteString("DOKUMEN UNTUK DIANALISIS:\n\n")
	fmt.Fprintf(&sb, "Window %d dari %d\n\n", w.WindowNumber, w.TotalWindows)

	sb.WriteString("=== KONTEN DOKUMEN ===\n")
	sb.WriteString(truncateRunes(w.Content, limit))
	sb.WriteString("\n\n")

	sb.WriteString("=== UNIT ===\n")
	for _, id := range w.UnitIDs() {
		fmt.Fprintf(&sb, "- %s\n", id)
	}
	sb.WriteByte('\n')

	if len(w.Tables) > 0 {
		sb.WriteString("=== DATA TABEL TERSTRUKTUR ===\n")
		for i, t := range w.Tables {
			if i == promptTables {
				break
			}
			fmt.Fprintf(&sb, "\nTABEL %d (%s):\n", i+1, t.UnitID)
			fmt.Fprintf(&sb, "Headers: %s\n", strings.Join(t.Headers, " | "))
			shown := min(len(t.Rows), promptTableRows)
			fmt.Fprintf(&sb, "Data (%d baris, ditampilkan %d):\n", len(t.Rows), shown)
			for _, r := range t.Rows[:shown] {
				fmt.Fprintf(&sb, "  %s\n", strings.Join(r, " | "))
			}
			sb.WriteString("---\n")
		}
		sb.WriteByte('\n')
	}

	if len(w.NumericalPatterns) > 0 {
		sb.WriteString("=== POLA NUMERIK TERDETEKSI ===\n")
		counts := map[string]int{}
		var order []string
		for _, p := range w.NumericalPatterns {
			if counts[p.Type] == 0 {
				order = append(order, p.Type)
			}
			counts[p.Type]++
		}
		for _, typ := range order {
			fmt.Fprintf(&sb, "- %s: %d\n", typ, counts[typ])
		}
		sb.WriteString("Contoh nilai:\n")
		for i, p := range w.NumericalPatterns {
			if i == promptPatternEx {
				break
			}
			fmt.Fprintf(&sb, "  - %s (%s)\n", p.Text, p.Type)
		}
		sb.WriteByte('\n')
	}

	if h, ok := hints[w.Metadata.DominantType]; ok {
		fmt.Fprintf(&sb, "HINT: %s\n", h)
	}
	if domainHint != "" {
		fmt.Fprintf(&sb, "DOMAIN: %s\n", domainHint)
	}
	sb.WriteByte('\n')
	sb.WriteString(userInstructions)
	return sb.String()
}

// enforcement is appended to the system prompt after a type violation.
func enforcement(ids []string) string {
	var sb strings.Builder
	sb.WriteString("\n## PERINGATAN PENEGAKAN TIPE\n\n")
	sb.WriteString("Respons sebelumnya memakai tipe di luar pilihan pengguna. ")
	sb.WriteString("Field `type` HANYA boleh berisi salah satu ID berikut. Item dengan tipe lain akan dibuang:\n")
	for _, id := range ids {
		fmt.Fprintf(&sb, "- `%s`\n", id)
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
