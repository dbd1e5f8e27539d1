package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/manthysbr/pdfmill/internal/core/domain"
)

const scratchLeafLen = 30

// ScratchManager hands out per-job scratch directories under a base dir.
type ScratchManager struct {
	baseDir string
}

func NewScratchManager(baseDir string) *ScratchManager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &ScratchManager{baseDir: baseDir}
}

// Build creates baseDir/{job_id}. Leftovers from a crashed attempt with the
// same id are reused.
func (m *ScratchManager) Build(id domain.JobID) (*ScratchDir, error) {
	name := filepath.Base(string(id))
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return nil, fmt.Errorf("invalid scratch name for job %q", id)
	}
	root := filepath.Join(m.baseDir, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &ScratchDir{root: root}, nil
}

// ScratchDir is owned by one worker attempt.
type ScratchDir struct {
	root string
}

func (d *ScratchDir) Root() string {
	return d.root
}

// Path mints a fresh random path inside the directory. Nothing is created.
func (d *ScratchDir) Path() string {
	return filepath.Join(d.root, randomLeaf())
}

// Dir mints and creates a fresh subdirectory.
func (d *ScratchDir) Dir() (string, error) {
	p := d.Path()
	if err := os.Mkdir(p, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch subdir: %w", err)
	}
	return p, nil
}

// CleanUp removes the whole tree.
func (d *ScratchDir) CleanUp() error {
	return os.RemoveAll(d.root)
}

func randomLeaf() string {
	leaf := strings.ReplaceAll(uuid.NewString(), "-", "")
	return leaf[:scratchLeafLen]
}
