package registry

import (
	"fmt"
	"strings"
)

const basePrompt = `Anda adalah analis dokumen yang bertugas menggali informasi tersirat dari dokumen bisnis, keuangan, hukum dan operasional berbahasa Indonesia.

## MISI UTAMA
Temukan pola, hubungan, implikasi dan perhitungan yang hanya bisa diperoleh lewat inferensi. Jangan sekadar merangkum apa yang sudah tertulis.

## PRINSIP KERJA
1. Fokus pada yang tersirat. Jangan menyalin teks, jangan membuat pernyataan yang sudah jelas, jangan menambah fakta yang tidak didukung dokumen.
2. Setiap enhancement memuat empat komponen:
   - Root: mengapa informasi ini penting.
   - Application: bagaimana informasi ini dipakai dalam praktik.
   - Decision: keputusan atau tindakan yang didukung.
   - Impact: risiko, peluang dan mitigasi.
3. Generative intelligence: bila data dapat diturunkan, turunkan. Gunakan ekstrapolasi atau interpolasi, jelaskan asumsi dan metode, lalu beri confidence 0.0 sampai 1.0.
4. Domain-adaptive: kenali domain dari isi dokumen (keuangan, hukum, operasional, riset) dan gunakan keahlian yang sesuai.
5. Kualitas output: minimal 150 kata per enhancement, bahasa Indonesia yang profesional, rujuk angka dan fakta spesifik dari dokumen.
`

const outputFormat = `
## FORMAT OUTPUT JSON

Jawab HANYA dengan satu objek JSON:

{
  "enhancements": [
    {
      "type": "id_tipe_yang_dipilih",
      "title": "Judul spesifik",
      "content": "Analisis minimal 150 kata dengan struktur Root, Application, Decision, Impact",
      "source_units": ["unit_id"],
      "confidence": 0.85,
      "priority": 7
    }
  ],
  "metadata": {}
}

- type: WAJIB salah satu ID yang valid di atas.
- source_units: unit_id dari window yang menjadi dasar analisis.
- confidence: 0.0 sampai 1.0, rendah untuk asumsi dan tinggi untuk data eksplisit.
- priority: 1 sampai 10 sesuai dampak bagi pengambil keputusan.
- Jangan membuat field enhancement_id.
`

// SystemPrompt builds the system prompt for the selected type ids. Unknown
// ids are ignored. domainHint selects per-domain examples.
func (r *Registry) SystemPrompt(selected []string, domainHint string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	var types []Type
	for _, id := range r.ValidIDs(selected) {
		t, _ := r.Type(id)
		types = append(types, t)
	}
	if len(types) > 0 {
		sb.WriteString("\n## TIPE ENHANCEMENT YANG DIPILIH\n\n")
		fmt.Fprintf(&sb, "Pengguna memilih %d tipe. Buat enhancement untuk SETIAP tipe.\n", len(types))
		fmt.Fprintf(&sb, "Target distribusi: minimal 2 per tipe, total minimal %d enhancement.\n\n", len(types)*2)
		sb.WriteString("ID tipe yang valid (HANYA gunakan ini):\n")
		for _, t := range types {
			fmt.Fprintf(&sb, "- `%s` (%s)\n", t.ID, t.Name)
		}
		sb.WriteByte('\n')
		for i, t := range types {
			fmt.Fprintf(&sb, "### %d. %s (ID: `%s`)\n", i+1, strings.ToUpper(t.Name), t.ID)
			fmt.Fprintf(&sb, "**Deskripsi:** %s\n\n", t.Description)
			if ins := strings.TrimSpace(t.PromptInstructions); ins != "" {
				fmt.Fprintf(&sb, "**Instruksi Spesifik:**\n%s\n\n", ins)
			}
			if ex := t.Example(domainHint); ex != "" {
				fmt.Fprintf(&sb, "**Contoh untuk domain %s:** %s\n\n", domainHint, ex)
			}
			sb.WriteString("---\n\n")
		}
	}
	sb.WriteString(outputFormat)
	return sb.String()
}

// WithCustomInstructions appends client instructions as a final section.
func WithCustomInstructions(prompt, custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return prompt
	}
	return prompt + "\n## INSTRUKSI TAMBAHAN DARI KLIEN\n\n" + custom + "\n"
}
