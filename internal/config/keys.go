package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

// keySpec binds a dotted config key to its Config field. Secret keys are
// read only from the environment or the secrets file, never from the
// config file. alt names a conventional fallback env var (e.g. PORT).
type keySpec struct {
	key     string
	typ     keyType
	env     string
	alt     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "IDOLBOARD_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "IDOLBOARD_SERVER_PORT", alt: "PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_upload_bytes", typ: kInt, env: "IDOLBOARD_SERVER_MAX_UPLOAD_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxUploadBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxUploadBytes },
	},
	{
		key: "server.max_connections", typ: kInt, env: "IDOLBOARD_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "server.shutdown_timeout", typ: kString, env: "IDOLBOARD_SERVER_SHUTDOWN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Server.ShutdownTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.ShutdownTimeout },
	},
	{
		key: "server.api_token", typ: kString, env: "IDOLBOARD_API_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "IDOLBOARD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "identity.mode", typ: kString, env: "IDOLBOARD_IDENTITY_MODE",
		apply:   func(cfg *Config, v any) { cfg.Identity.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.Mode },
	},
	{
		key: "identity.cookie_name", typ: kString, env: "IDOLBOARD_IDENTITY_COOKIE_NAME",
		apply:   func(cfg *Config, v any) { cfg.Identity.CookieName = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.CookieName },
	},
	{
		key: "identity.default_user", typ: kString, env: "IDOLBOARD_IDENTITY_DEFAULT_USER",
		apply:   func(cfg *Config, v any) { cfg.Identity.DefaultUser = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.DefaultUser },
	},
	{
		key: "match.threshold", typ: kFloat, env: "IDOLBOARD_MATCH_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Match.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Match.Threshold },
	},
	{
		key: "recognize.stop_phrase", typ: kString, env: "IDOLBOARD_RECOGNIZE_STOP_PHRASE",
		apply:   func(cfg *Config, v any) { cfg.Recognize.StopPhrase = v.(string) },
		extract: func(cfg Config) any { return cfg.Recognize.StopPhrase },
	},
	{
		key: "audio.format", typ: kString, env: "IDOLBOARD_AUDIO_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Audio.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.Format },
	},
	{
		key: "audio.ffmpeg_path", typ: kString, env: "IDOLBOARD_AUDIO_FFMPEG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Audio.FFmpegPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.FFmpegPath },
	},
	{
		key: "audio.player_command", typ: kString, env: "IDOLBOARD_AUDIO_PLAYER_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Audio.PlayerCommand = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.PlayerCommand },
	},
	{
		key: "audio.max_convert_attempts", typ: kInt, env: "IDOLBOARD_AUDIO_MAX_CONVERT_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Audio.MaxConvertAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Audio.MaxConvertAttempts },
	},
	{
		key: "transcribe.base_url", typ: kString, env: "IDOLBOARD_TRANSCRIBE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Transcribe.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.BaseURL },
	},
	{
		key: "transcribe.api_key", typ: kString, env: "IDOLBOARD_TRANSCRIBE_API_KEY", alt: "OPENAI_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Transcribe.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.APIKey },
	},
	{
		key: "transcribe.model", typ: kString, env: "IDOLBOARD_TRANSCRIBE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Transcribe.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.Model },
	},
	{
		key: "transcribe.language", typ: kString, env: "IDOLBOARD_TRANSCRIBE_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Transcribe.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.Language },
	},
	{
		key: "transcribe.timeout", typ: kString, env: "IDOLBOARD_TRANSCRIBE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Transcribe.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.Timeout },
	},
	{
		key: "convert.poll_interval", typ: kString, env: "IDOLBOARD_CONVERT_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Convert.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Convert.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "IDOLBOARD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "IDOLBOARD_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool, kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				parsed, err := parseValue(s.typ, v)
				if err != nil {
					return fmt.Errorf("reading %s: %w", s.key, err)
				}
				s.apply(cfg, parsed)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.env, os.Getenv(s.env)
		if raw == "" && s.alt != "" {
			name, raw = s.alt, os.Getenv(s.alt)
		}
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring env override", "var", name, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secret keys still empty after env overrides.
func applySecrets(cfg *Config, sr secretReader) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := sr.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}
