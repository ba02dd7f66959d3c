package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// lookup resolves a binary once per process.
type lookup struct {
	once sync.Once
	path string
	err  error
}

func (l *lookup) resolve(name string) (string, error) {
	l.once.Do(func() {
		l.path, l.err = exec.LookPath(name)
		if l.err != nil {
			l.err = fmt.Errorf("%w: %s not found", ErrUnavailable, name)
		}
	})
	return l.path, l.err
}

// Pdftoppm renders pages with poppler's pdftoppm, reading the PNG from
// stdout.
type Pdftoppm struct {
	// Binary overrides the executable name. Default: "pdftoppm".
	Binary string
	bin    lookup
}

func (p *Pdftoppm) RenderPage(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error) {
	name := p.Binary
	if name == "" {
		name = "pdftoppm"
	}
	bin, err := p.bin.resolve(name)
	if err != nil {
		return nil, err
	}
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(dpi),
		"-png", "-singlefile",
		pdfPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}
	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: decode: %w", page, err)
	}
	return img, nil
}

// Tesseract runs the tesseract CLI with the image on stdin and text on
// stdout.
type Tesseract struct {
	// Binary overrides the executable name. Default: "tesseract".
	Binary    string
	Languages string
	bin       lookup
}

func (t *Tesseract) Recognize(ctx context.Context, img image.Image, psm int) (string, error) {
	name := t.Binary
	if name == "" {
		name = "tesseract"
	}
	bin, err := t.bin.resolve(name)
	if err != nil {
		return "", err
	}
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return "", fmt.Errorf("tesseract: encode: %w", err)
	}
	lang := t.Languages
	if lang == "" {
		lang = "ind+eng"
	}
	cmd := exec.CommandContext(ctx, bin, "stdin", "stdout",
		"-l", lang,
		"--oem", "3",
		"--psm", strconv.Itoa(psm),
		"-c", "preserve_interword_spaces=1")
	cmd.Stdin = &in
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract psm %d: %w: %s", psm, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
