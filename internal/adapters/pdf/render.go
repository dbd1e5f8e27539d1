package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Renderer rasterises single pages with poppler's pdftoppm.
type Renderer struct {
	binary string
	dpi    int
}

func NewRenderer(binary string, dpi int) *Renderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 72
	}
	return &Renderer{binary: binary, dpi: dpi}
}

// RenderPNG renders one 1-based page of the PDF at path into outDir and
// returns the image bytes.
func (r *Renderer) RenderPNG(ctx context.Context, path string, page int, outDir string) ([]byte, error) {
	prefix := filepath.Join(outDir, "page-"+strconv.Itoa(page))
	p := strconv.Itoa(page)

	cmd := exec.CommandContext(ctx, r.binary,
		"-png", "-r", strconv.Itoa(r.dpi),
		"-f", p, "-l", p,
		"-singlefile",
		path, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", page, err, bytes.TrimSpace(stderr.Bytes()))
	}

	out := prefix + ".png"
	defer os.Remove(out)
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no image for page %d: %w", page, err)
	}
	return data, nil
}
