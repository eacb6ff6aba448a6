package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_FileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "voxelscan.log")
	logger, cleanup, err := New(Options{File: path})
	require.NoError(t, err)

	logger.Named("scan").Debug("cube fetched")
	cleanup()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(raw))
	require.Contains(t, line, `"logger":"scan"`)
	require.Contains(t, line, `"msg":"cube fetched"`)
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
}
