package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg, err := load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	assert.Equal(t, "Movies/XRecorder", cfg.MediaFolder)
	assert.Equal(t, BackendX11, cfg.CaptureBackend)
	assert.Equal(t, "/data/xrecorder", cfg.DataDir)
	assert.Equal(t, "/data/xrecorder/media.db", cfg.DBPath)
	assert.Equal(t, display.Geometry{Width: 1280, Height: 720, DPI: 96}, cfg.Fallback)
	assert.Equal(t, "pulse", cfg.AudioFormat)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr = "0.0.0.0:7000"
media_folder = "Videos/Captures"
capture_backend = "pattern"
audio_format = ""
draw_mouse = false
fallback_width = 800
fallback_height = 600
`), 0o644))

	t.Setenv("XRECORDER_LISTEN_ADDR", "127.0.0.1:7001")
	t.Setenv("XRECORDER_FALLBACK_DPI", "144")

	cfg, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.ListenAddr)
	assert.Equal(t, "Videos/Captures", cfg.MediaFolder)
	assert.Equal(t, BackendPattern, cfg.CaptureBackend)
	assert.Empty(t, cfg.AudioFormat)
	assert.False(t, cfg.DrawMouse)
	assert.Equal(t, display.Geometry{Width: 800, Height: 600, DPI: 144}, cfg.Fallback)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("XRECORDER_CAPTURE_BACKEND", "wayland")
	_, err := load("")
	assert.Error(t, err)

	t.Setenv("XRECORDER_CAPTURE_BACKEND", "")
	t.Setenv("XRECORDER_FALLBACK_WIDTH", "wide")
	_, err = load("")
	assert.Error(t, err)
}

func TestLoadBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr = "), 0o644))
	_, err := load(path)
	assert.Error(t, err)
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), expandTilde("~/x"))
	assert.Equal(t, "/abs", expandTilde("/abs"))
}
