package office

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/manthysbr/pdfmill/internal/core/ports"
)

const (
	DefaultTimeout = 30 * time.Second
	stderrLimit    = 4096
)

// SofficeConverter shells out to a local LibreOffice install.
type SofficeConverter struct {
	logger  *slog.Logger
	binary  string
	timeout time.Duration
}

func NewSofficeConverter(logger *slog.Logger, binary string, timeout time.Duration) *SofficeConverter {
	if binary == "" {
		binary = "/usr/bin/soffice"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SofficeConverter{logger: logger, binary: binary, timeout: timeout}
}

var _ ports.OfficeConverter = (*SofficeConverter)(nil)

// ConvertToPDF runs a headless conversion and kills it when the timeout
// expires. Timeouts wrap context.DeadlineExceeded.
func (c *SofficeConverter) ConvertToPDF(ctx context.Context, src, outDir string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Each run gets its own profile so parallel conversions do not fight
	// over the LibreOffice lock file.
	profile := filepath.Join(outDir, ".profile")

	cmd := exec.CommandContext(execCtx, c.binary,
		"-env:UserInstallation=file://"+filepath.ToSlash(profile),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		src,
	)
	cmd.Dir = outDir
	cmd.Env = []string{
		"HOME=" + outDir,
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"LANG=en_US.UTF-8",
	}
	cmd.WaitDelay = 5 * time.Second
	killGroup(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("soffice timed out after %s: %w", c.timeout, context.DeadlineExceeded)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("soffice failed: %v: %s", err, Truncate(stderr.String(), stderrLimit))
	}

	out := OutputPath(src, outDir)
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("soffice produced no output: %s", Truncate(stderr.String(), stderrLimit))
	}
	c.logger.Debug("office document converted", "src", src, "elapsed", time.Since(start))
	return out, nil
}

// OutputPath is where LibreOffice writes the PDF rendition of src.
func OutputPath(src, outDir string) string {
	base := filepath.Base(src)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
}

func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
