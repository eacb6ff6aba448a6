package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "voxelscan.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	box, err := cfg.ScanRegion()
	require.NoError(t, err)
	assert.Equal(t, [3]int{100, 100, 100}, box.Size())
	assert.Equal(t, 16, cfg.Scan.CubeSize)
	assert.Equal(t, time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, [2]int{0, 320}, cfg.Paste.ClearY)
	assert.Equal(t, filepath.Join("data", "index.sqlite"), cfg.IndexPath())
	assert.False(t, cfg.Mirror.Enabled())
}

func TestLoadOverlaysFile(t *testing.T) {
	p := writeConfig(t, `
api:
  base_url: http://10.0.0.2:9000
  write_timeout: 30s
scan:
  cube_size: 32
  workers: 4
paste:
  clear: band
  clear_y: [60, 200]
  base_y: 64
data_dir: /tmp/scans
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:9000", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.WriteTimeout)
	assert.Equal(t, time.Second, cfg.API.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, 32, cfg.Scan.CubeSize)
	assert.Equal(t, 4, cfg.Scan.Workers)
	assert.Equal(t, "band", cfg.Paste.Clear)
	assert.Equal(t, [2]int{60, 200}, cfg.Paste.ClearY)
	require.NotNil(t, cfg.Paste.BaseY)
	assert.Equal(t, 64, *cfg.Paste.BaseY)
	assert.Equal(t, "/tmp/scans/index.sqlite", cfg.IndexPath())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeConfig(t, "scan:\n  cube: 8\n")
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	p := writeConfig(t, "scan:\n  cube_size: 0\n")
	_, err := Load(p)
	require.Error(t, err)

	p = writeConfig(t, "paste:\n  clear: everything\n")
	_, err = Load(p)
	require.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	p := writeConfig(t, "")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Scan, cfg.Scan)
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Paste.BatchSize, cfg.Paste.BatchSize)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"VOXELSCAN_API_URL":              " http://gdmc:9000 ",
		"VOXELSCAN_R2_ENDPOINT":          "https://acct.r2.cloudflarestorage.com",
		"VOXELSCAN_R2_BUCKET":            "scans",
		"VOXELSCAN_R2_ACCESS_KEY_ID":     "AK",
		"VOXELSCAN_R2_SECRET_ACCESS_KEY": "SK",
		"VOXELSCAN_SCAN_WORKERS":         "nope",
	}
	cfg := Defaults()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "http://gdmc:9000", cfg.API.BaseURL)
	assert.True(t, cfg.Mirror.Enabled())
	assert.Equal(t, "voxelscan", cfg.Mirror.Prefix)
	assert.Equal(t, 1, cfg.Scan.Workers)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Scan.Region = "nonsense"
	cfg.Paste.BatchSize = 0
	cfg.Paste.ClearY = [2]int{10, 10}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan.region")
	assert.Contains(t, err.Error(), "paste.batch_size")
	assert.Contains(t, err.Error(), "paste.clear_y")
}
