package pdf

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	_ "golang.org/x/image/bmp"

	"github.com/manthysbr/pdfmill/internal/core/ports"
)

var disableConfigDir sync.Once

// newConfiguration returns a relaxed pdfcpu configuration that never touches
// the user's config directory.
func newConfiguration() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Toolkit assembles documents with pdfcpu. Its calls are not cancellable, so
// ctx is only checked between steps.
type Toolkit struct {
	conf *model.Configuration
}

func NewToolkit() *Toolkit {
	return &Toolkit{conf: newConfiguration()}
}

var _ ports.PDFToolkit = (*Toolkit)(nil)

func (t *Toolkit) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// ImageToPDF places the image on a page of the same size in points as the
// image has pixels.
func (t *Toolkit) ImageToPDF(ctx context.Context, imagePath, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := importable(imagePath)
	if err != nil {
		return err
	}
	imp, err := api.Import("pos:full", types.POINTS)
	if err != nil {
		return err
	}
	if err := api.ImportImagesFile([]string{src}, outPath, imp, t.conf); err != nil {
		return fmt.Errorf("failed to import image: %w", err)
	}
	return nil
}

func (t *Toolkit) ExtractPages(ctx context.Context, src, dst string, start, end int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := api.TrimFile(src, dst, []string{fmt.Sprintf("%d-%d", start, end)}, t.conf); err != nil {
		return fmt.Errorf("failed to extract pages %d-%d: %w", start, end, err)
	}
	return nil
}

func (t *Toolkit) Rotate(ctx context.Context, path string, degrees int) error {
	if degrees%360 == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := api.RotateFile(path, "", degrees, nil, t.conf); err != nil {
		return fmt.Errorf("failed to rotate by %d: %w", degrees, err)
	}
	return nil
}

func (t *Toolkit) Merge(ctx context.Context, inputs []string, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch len(inputs) {
	case 0:
		return fmt.Errorf("nothing to merge")
	case 1:
		return copyFile(inputs[0], dst)
	}
	if err := api.MergeCreateFile(inputs, dst, false, t.conf); err != nil {
		return fmt.Errorf("failed to merge %d parts: %w", len(inputs), err)
	}
	return nil
}

func (t *Toolkit) Attach(ctx context.Context, path string, files []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := api.AddAttachmentsFile(path, "", files, false, t.conf); err != nil {
		return fmt.Errorf("failed to attach files: %w", err)
	}
	return nil
}

// importable returns a path pdfcpu can import: PNG and JPEG get a matching
// extension, GIF and BMP are re-encoded as PNG.
func importable(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", fmt.Errorf("unsupported image: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	switch format {
	case "png":
		dst := path + ".png"
		return dst, copyFile(path, dst)
	case "jpeg":
		dst := path + ".jpg"
		return dst, copyFile(path, dst)
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	dst := path + ".png"
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to re-encode %s image: %w", format, err)
	}
	return dst, out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
