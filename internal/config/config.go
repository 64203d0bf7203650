package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
)

const envPrefix = "XRECORDER_"

// Capture backends.
const (
	BackendX11     = "x11"
	BackendPattern = "pattern"
)

type Config struct {
	ListenAddr string
	ServerURL  string
	APIToken   string // empty disables API authentication

	DataDir     string
	DBPath      string
	MediaRoot   string
	MediaFolder string

	FFmpegPath     string
	CaptureBackend string
	X11Display     string
	DrawMouse      bool
	AudioFormat    string // empty disables microphone capture
	AudioInput     string
	VideoCodec     string
	AudioCodec     string

	Fallback display.Geometry
}

type fileConfig struct {
	ListenAddr     string  `toml:"listen_addr"`
	ServerURL      string  `toml:"server_url"`
	APIToken       string  `toml:"api_token"`
	DataDir        string  `toml:"data_dir"`
	DBPath         string  `toml:"db_path"`
	MediaRoot      string  `toml:"media_root"`
	MediaFolder    string  `toml:"media_folder"`
	FFmpegPath     string  `toml:"ffmpeg_path"`
	CaptureBackend string  `toml:"capture_backend"`
	X11Display     string  `toml:"x11_display"`
	DrawMouse      *bool   `toml:"draw_mouse"`
	AudioFormat    *string `toml:"audio_format"`
	AudioInput     string  `toml:"audio_input"`
	VideoCodec     string  `toml:"video_codec"`
	AudioCodec     string  `toml:"audio_codec"`
	Width          int     `toml:"fallback_width"`
	Height         int     `toml:"fallback_height"`
	DPI            int     `toml:"fallback_dpi"`
}

// Load builds the configuration from defaults, the optional config file and
// XRECORDER_* environment variables, in increasing priority.
func Load() (*Config, error) {
	return load(configFilePath())
}

func load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		fc.apply(cfg)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "media.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:9090",
		ServerURL:      "http://127.0.0.1:9090",
		DataDir:        defaultDataDir(),
		MediaRoot:      homeDir(),
		MediaFolder:    "Movies/XRecorder",
		FFmpegPath:     "ffmpeg",
		CaptureBackend: BackendX11,
		X11Display:     os.Getenv("DISPLAY"),
		DrawMouse:      true,
		AudioFormat:    "pulse",
		AudioInput:     "default",
		VideoCodec:     "libx264",
		AudioCodec:     "aac",
		Fallback:       display.Geometry{Width: 1280, Height: 720, DPI: 96},
	}
}

func (fc fileConfig) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.ListenAddr, fc.ListenAddr)
	set(&cfg.ServerURL, fc.ServerURL)
	set(&cfg.APIToken, fc.APIToken)
	set(&cfg.DataDir, expandTilde(fc.DataDir))
	set(&cfg.DBPath, expandTilde(fc.DBPath))
	set(&cfg.MediaRoot, expandTilde(fc.MediaRoot))
	set(&cfg.MediaFolder, fc.MediaFolder)
	set(&cfg.FFmpegPath, fc.FFmpegPath)
	set(&cfg.CaptureBackend, fc.CaptureBackend)
	set(&cfg.X11Display, fc.X11Display)
	set(&cfg.AudioInput, fc.AudioInput)
	set(&cfg.VideoCodec, fc.VideoCodec)
	set(&cfg.AudioCodec, fc.AudioCodec)
	if fc.DrawMouse != nil {
		cfg.DrawMouse = *fc.DrawMouse
	}
	// An explicit empty audio_format turns the microphone off.
	if fc.AudioFormat != nil {
		cfg.AudioFormat = *fc.AudioFormat
	}
	if fc.Width > 0 {
		cfg.Fallback.Width = fc.Width
	}
	if fc.Height > 0 {
		cfg.Fallback.Height = fc.Height
	}
	if fc.DPI > 0 {
		cfg.Fallback.DPI = fc.DPI
	}
}

func applyEnvOverrides(cfg *Config) error {
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.ServerURL = getEnv("SERVER_URL", cfg.ServerURL)
	cfg.APIToken = getEnv("API_TOKEN", cfg.APIToken)
	cfg.DataDir = expandTilde(getEnv("DATA_DIR", cfg.DataDir))
	cfg.DBPath = expandTilde(getEnv("DB_PATH", cfg.DBPath))
	cfg.MediaRoot = expandTilde(getEnv("MEDIA_ROOT", cfg.MediaRoot))
	cfg.MediaFolder = getEnv("MEDIA_FOLDER", cfg.MediaFolder)
	cfg.FFmpegPath = getEnv("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.CaptureBackend = getEnv("CAPTURE_BACKEND", cfg.CaptureBackend)
	cfg.X11Display = getEnv("X11_DISPLAY", cfg.X11Display)
	cfg.AudioInput = getEnv("AUDIO_INPUT", cfg.AudioInput)
	cfg.VideoCodec = getEnv("VIDEO_CODEC", cfg.VideoCodec)
	cfg.AudioCodec = getEnv("AUDIO_CODEC", cfg.AudioCodec)
	if v, ok := os.LookupEnv(envPrefix + "AUDIO_FORMAT"); ok {
		cfg.AudioFormat = v
	}

	var err error
	if cfg.DrawMouse, err = getEnvBool("DRAW_MOUSE", cfg.DrawMouse); err != nil {
		return err
	}
	if cfg.Fallback.Width, err = getEnvInt("FALLBACK_WIDTH", cfg.Fallback.Width); err != nil {
		return err
	}
	if cfg.Fallback.Height, err = getEnvInt("FALLBACK_HEIGHT", cfg.Fallback.Height); err != nil {
		return err
	}
	if cfg.Fallback.DPI, err = getEnvInt("FALLBACK_DPI", cfg.Fallback.DPI); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.CaptureBackend {
	case BackendX11, BackendPattern:
	default:
		return fmt.Errorf("capture backend %q: want %s or %s", c.CaptureBackend, BackendX11, BackendPattern)
	}
	if !c.Fallback.Valid() {
		return fmt.Errorf("fallback geometry %s must be positive", c.Fallback)
	}
	if c.MediaRoot == "" {
		return fmt.Errorf("media root is not set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return b, nil
}

func configFilePath() string {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return expandTilde(p)
	}
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "xrecorder")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "xrecorder")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "xrecorder")
	}
	return filepath.Join(homeDir(), ".local", "share", "xrecorder")
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
