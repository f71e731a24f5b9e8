package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/idolboard/internal/config"
	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/match"
	"github.com/kalambet/idolboard/internal/metrics"
	"github.com/kalambet/idolboard/internal/profile"
	"github.com/kalambet/idolboard/internal/recognize"
	"github.com/kalambet/idolboard/internal/storage"
	"github.com/kalambet/idolboard/internal/transcode"
	"github.com/kalambet/idolboard/internal/transcribe"
)

// app is the set of services shared by serve, listen, play and mcp.
type app struct {
	cfg         config.Config
	store       *storage.Store
	lib         *library.Library
	ffmpeg      *transcode.FFmpeg // nil when ffmpeg is not installed
	profiles    *profile.Manager
	recognizer  *recognize.Service
	metrics     *metrics.Metrics
	transcriber *transcribe.Client // nil when speech-to-text is not configured
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(lc config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(lc.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func openApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a := &app{cfg: cfg, store: store, metrics: metrics.New()}

	var tc library.Transcoder
	if ff := transcode.NewFFmpeg(cfg.Audio.FFmpegPath); ff.Available() {
		a.ffmpeg = ff
		tc = ff
	} else {
		slog.Warn("ffmpeg not found; clips keep their upload format", "path", cfg.Audio.FFmpegPath)
	}

	resolver := library.NewResolver(cfg.Storage.DataDir)
	a.lib = library.New(resolver, tc, cfg.Audio.Format)
	a.profiles = profile.NewManager(resolver)

	a.recognizer = recognize.New(a.lib, match.New(cfg.Match.Threshold), cfg.Recognize.StopPhrase)
	a.recognizer.SetHistory(store)
	a.recognizer.SetObserver(a.metrics)

	if cfg.Transcribe.Enabled() {
		tr, err := transcribe.New(transcribe.Config{
			BaseURL:  cfg.Transcribe.BaseURL,
			APIKey:   cfg.Transcribe.APIKey,
			Model:    cfg.Transcribe.Model,
			Language: cfg.Transcribe.Language,
			Timeout:  cfg.Transcribe.RequestTimeout(),
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("configuring speech-to-text: %w", err)
		}
		tr.SetObserver(a.metrics)
		a.transcriber = tr
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

// userID returns the --user flag or the configured default user.
func userID(cfg config.Config) (string, error) {
	id := userFlag
	if id == "" {
		id = cfg.Identity.DefaultUser
	}
	if err := library.ValidateUserID(id); err != nil {
		return "", fmt.Errorf("user %q: %w", id, err)
	}
	return id, nil
}
