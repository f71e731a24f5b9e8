package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Identity   IdentityConfig
	Match      MatchConfig
	Recognize  RecognizeConfig
	Audio      AudioConfig
	Transcribe TranscribeConfig
	Convert    ConvertConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	MaxUploadBytes  int
	MaxConnections  int
	ShutdownTimeout string
	APIToken        string
}

type StorageConfig struct {
	DataDir string
}

// Identity modes.
const (
	IdentityQuery   = "query"
	IdentitySession = "session"
)

type IdentityConfig struct {
	Mode        string
	CookieName  string
	DefaultUser string
}

type MatchConfig struct {
	Threshold float64
}

type RecognizeConfig struct {
	StopPhrase string
}

type AudioConfig struct {
	Format             string
	FFmpegPath         string
	PlayerCommand      string
	MaxConvertAttempts int
}

type TranscribeConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  string
}

type ConvertConfig struct {
	PollInterval string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5001,
			MaxUploadBytes:  16 << 20,
			MaxConnections:  256,
			ShutdownTimeout: "10s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Identity: IdentityConfig{
			Mode:        IdentityQuery,
			CookieName:  "idolboard_uid",
			DefaultUser: "default",
		},
		Match: MatchConfig{
			Threshold: 0.6,
		},
		Recognize: RecognizeConfig{
			StopPhrase: "結束",
		},
		Audio: AudioConfig{
			Format:             "m4a",
			FFmpegPath:         "ffmpeg",
			PlayerCommand:      "ffplay -nodisp -autoexit -loglevel quiet",
			MaxConvertAttempts: 3,
		},
		Transcribe: TranscribeConfig{
			Model:    "whisper-1",
			Language: "zh",
			Timeout:  "30s",
		},
		Convert: ConvertConfig{
			PollInterval: "500ms",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the config file, the secrets file, and
// environment variables, in increasing order of precedence.
//
// The config file lives at $XDG_CONFIG_HOME/idolboard/config.yaml unless
// IDOLBOARD_CONFIG names another path; a .json extension selects JSON.
// Secrets (API keys, tokens) are never read from the config file: they come
// from IDOLBOARD_* environment variables or the secrets file under the data
// directory.
func Load() (Config, error) {
	return LoadFile(FilePath())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (Config, error) {
	b, err := openFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b, fileSecrets{})
}

// secretReader abstracts the secrets store for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, sr secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, sr)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive"))
	}
	if c.Identity.Mode != IdentityQuery && c.Identity.Mode != IdentitySession {
		errs = append(errs, fmt.Errorf("identity.mode %q must be %q or %q", c.Identity.Mode, IdentityQuery, IdentitySession))
	}
	if c.Match.Threshold <= 0 || c.Match.Threshold > 1 {
		errs = append(errs, fmt.Errorf("match.threshold %v must be in (0, 1]", c.Match.Threshold))
	}
	if strings.TrimSpace(c.Recognize.StopPhrase) == "" {
		errs = append(errs, fmt.Errorf("recognize.stop_phrase must not be empty"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	durations := map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"transcribe.timeout":      c.Transcribe.Timeout,
		"convert.poll_interval":   c.Convert.PollInterval,
	}
	for key, v := range durations {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Shutdown returns the graceful shutdown timeout.
func (c ServerConfig) Shutdown() time.Duration {
	return mustDuration(c.ShutdownTimeout, 10*time.Second)
}

// Poll returns the convert worker poll interval.
func (c ConvertConfig) Poll() time.Duration {
	return mustDuration(c.PollInterval, 500*time.Millisecond)
}

// RequestTimeout returns the speech-to-text request timeout.
func (c TranscribeConfig) RequestTimeout() time.Duration {
	return mustDuration(c.Timeout, 30*time.Second)
}

// Enabled reports whether a speech-to-text endpoint is configured.
func (c TranscribeConfig) Enabled() bool {
	return c.APIKey != "" || c.BaseURL != ""
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
