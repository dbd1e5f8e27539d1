//go:build linux

package office

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// running reports whether pid is a live (non-zombie) process.
func running(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The state follows the parenthesised command name.
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z"
}

func TestSofficeConverter_TimeoutKillsDescendants(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	bin := fakeSoffice(t, fmt.Sprintf(`sleep 4242 & echo $! > %q; wait`, pidFile))

	_, err := NewSofficeConverter(logger, bin, 300*time.Millisecond).ConvertToPDF(context.Background(), "/nonexistent/in.doc", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !running(pid) }, 2*time.Second, 20*time.Millisecond,
		"converter child %d survived the timeout", pid)
}
