package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/idolboard/internal/api"
	"github.com/kalambet/idolboard/internal/config"
	"github.com/kalambet/idolboard/internal/convert"
	"github.com/kalambet/idolboard/internal/storage"
	"github.com/kalambet/idolboard/internal/transcode"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the idolboard HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running idolboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show idolboard status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "idolboard.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// localBaseURL is where CLI commands reach the server. Wildcard listen
// addresses are dialed on loopback.
func localBaseURL(sc config.ServerConfig) string {
	host := sc.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(sc.Port))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "idolboard version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(localBaseURL(cfg.Server) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Jobs left running by a crash are retried.
	if n, err := a.store.RequeueRunningJobs(); err != nil {
		return fmt.Errorf("requeueing jobs: %w", err)
	} else if n > 0 {
		slog.Info("requeued interrupted conversions", "count", n)
	}

	worker := convert.NewWorker(a.store, a.lib, cfg.Convert.Poll())
	worker.SetObserver(a.metrics)
	if a.ffmpeg != nil {
		a.lib.SetEnqueuer(convert.NewEnqueuer(a.store, cfg.Audio.MaxConvertAttempts))
	}
	a.metrics.RegisterGauge("idolboard_pending_conversions", "Conversion jobs waiting to run", func() float64 {
		n, err := a.store.CountJobs(storage.JobPending)
		if err != nil {
			return 0
		}
		return float64(n)
	})

	deps := api.Deps{
		Library:    a.lib,
		Profiles:   a.profiles,
		Recognizer: a.recognizer,
		Store:      a.store,
		Metrics:    a.metrics,
		Identity: api.Identity{
			Mode:        cfg.Identity.Mode,
			CookieName:  cfg.Identity.CookieName,
			DefaultUser: cfg.Identity.DefaultUser,
		},
		MaxUploadBytes: int64(cfg.Server.MaxUploadBytes),
		Token:          cfg.Server.APIToken,
	}
	if a.transcriber != nil {
		deps.Transcriber = a.transcriber
	}
	if deps.Token == "" {
		slog.Warn("server.api_token is unset; the API accepts unauthenticated requests")
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr(), err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "idolboard listening on %s\n", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Shutdown())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("idolboard is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop idolboard (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to idolboard (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s", cfg.Server.Addr())
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		var result struct {
			Commands []string `json:"commands"`
		}
		if resp, err := client.get(ctx, client.userPath("/commands")); err == nil {
			if decodeJSON(resp, &result) == nil {
				printStatus("Commands", "%d", len(result.Commands))
			}
		}
	}

	ffmpeg := "not found (clips keep their upload format)"
	if transcode.NewFFmpeg(cfg.Audio.FFmpegPath).Available() {
		ffmpeg = cfg.Audio.FFmpegPath
	}
	printStatus("ffmpeg", "%s", ffmpeg)

	stt := "disabled"
	if cfg.Transcribe.Enabled() {
		stt = cfg.Transcribe.Model
	}
	printStatus("Speech-to-text", "%s", stt)
	printStatus("Identity", "%s", cfg.Identity.Mode)
	printStatus("Config file", "%s", config.FilePath())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
