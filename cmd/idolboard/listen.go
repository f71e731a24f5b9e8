package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/mic"
	"github.com/kalambet/idolboard/internal/playback"
	"github.com/kalambet/idolboard/internal/recognize"
	"github.com/kalambet/idolboard/internal/storage"
	"github.com/kalambet/idolboard/internal/transcribe"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Recognize phrases and play the matching clips locally",
	Long: `Recognize phrases and play the matching clips locally.

Phrases are read line by line from stdin, or captured from the microphone
with --mic (requires a portaudio build and speech-to-text). Saying or typing
the stop phrase stops playback and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		useMic, _ := cmd.Flags().GetBool("mic")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		uid, err := userID(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var src phraseSource
		if useMic {
			if a.transcriber == nil {
				return fmt.Errorf("--mic needs speech-to-text: %w", transcribe.ErrNotConfigured)
			}
			m := mic.NewSource(mic.Options{}, slog.Default())
			if err := m.Open(); err != nil {
				return err
			}
			defer m.Close()
			src = &micSource{rec: m, tr: a.transcriber}
			printStep("Listening on the microphone. Say %q to quit.", a.recognizer.StopPhrase())
		} else {
			src = newLineSource(os.Stdin)
			printStep("Type a phrase and press enter. Type %q to quit.", a.recognizer.StopPhrase())
		}

		queue := playback.NewQueue(playback.NewCommandPlayer(cfg.Audio.PlayerCommand))
		qctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			queue.Run(qctx)
		}()
		defer func() {
			cancel()
			<-done
		}()

		return listenLoop(ctx, uid, src, a.recognizer, a.lib, queue, os.Stdout)
	},
}

func init() {
	listenCmd.Flags().Bool("mic", false, "capture phrases from the microphone")
}

// phraseSource yields one phrase per call. io.EOF ends the loop.
type phraseSource interface {
	Next(ctx context.Context) (text, source string, err error)
}

type phraseRecognizer interface {
	Recognize(ctx context.Context, userID, query, source string) (recognize.Outcome, error)
}

type clipFinder interface {
	Lookup(userID, name string) (library.Clip, error)
}

type clipQueue interface {
	Submit(ctx context.Context, path string) error
	Stop(ctx context.Context) error
}

// listenLoop recognizes phrases from src until the stop phrase, EOF or
// cancellation, handing matched clips to queue.
func listenLoop(ctx context.Context, uid string, src phraseSource, rec phraseRecognizer, clips clipFinder, queue clipQueue, out io.Writer) error {
	for {
		text, source, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		res, err := rec.Recognize(ctx, uid, text, source)
		if errors.Is(err, recognize.ErrEmptyQuery) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch res.Action {
		case storage.ActionStop:
			if err := queue.Stop(ctx); err != nil && !errors.Is(err, playback.ErrClosed) {
				slog.Warn("stopping playback", "error", err)
			}
			fmt.Fprintln(out, "stopped")
			return nil
		case storage.ActionPlay:
			clip, err := clips.Lookup(uid, res.FileName)
			if err != nil {
				printWarning("%s matched but could not be opened: %v", res.FileName, err)
				continue
			}
			if clip.Pending {
				slog.Debug("playing unconverted clip", "command", clip.Name)
			}
			if err := queue.Submit(ctx, clip.Path); err != nil {
				return fmt.Errorf("playing %s: %w", clip.Name, err)
			}
			fmt.Fprintf(out, "%s -> %s (%.2f)\n", text, clip.Name, res.Score)
		default:
			printWarning("No command matches %q", text)
		}
	}
}

type lineSource struct {
	sc *bufio.Scanner
}

func newLineSource(r io.Reader) *lineSource {
	return &lineSource{sc: bufio.NewScanner(r)}
}

func (s *lineSource) Next(ctx context.Context) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", "", err
		}
		return "", "", io.EOF
	}
	return s.sc.Text(), recognize.SourceText, nil
}

type speechRecorder interface {
	Record(ctx context.Context) ([]byte, error)
}

type speechTranscriber interface {
	Transcribe(ctx context.Context, filename string, r io.Reader) (string, error)
}

// micSource records one utterance per call and transcribes it.
type micSource struct {
	rec speechRecorder
	tr  speechTranscriber
}

func (s *micSource) Next(ctx context.Context) (string, string, error) {
	wav, err := s.rec.Record(ctx)
	if err != nil {
		return "", "", err
	}
	text, err := s.tr.Transcribe(ctx, "speech.wav", bytes.NewReader(wav))
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		// An empty phrase is skipped by the loop, so one failed request
		// does not end the session.
		printWarning("transcription failed: %v", err)
		return "", recognize.SourceAudio, nil
	}
	slog.Debug("heard", "text", text)
	return text, recognize.SourceAudio, nil
}
