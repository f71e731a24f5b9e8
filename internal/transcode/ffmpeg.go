// Package transcode converts uploaded clips into the canonical storage
// format by shelling out to ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultArgs encode AAC audio and drop any video/cover-art stream.
var DefaultArgs = []string{"-vn", "-c:a", "aac", "-b:a", "128k"}

// FFmpeg runs an ffmpeg binary. The output container follows dst's
// extension.
type FFmpeg struct {
	Path string
	Args []string
}

// NewFFmpeg returns an FFmpeg using path (or "ffmpeg" from PATH when empty).
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path, Args: DefaultArgs}
}

// Available reports whether the binary can be found.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.Path)
	return err == nil
}

// Transcode converts src into dst, overwriting dst.
func (f *FFmpeg) Transcode(ctx context.Context, src, dst string) error {
	args := f.buildArgs(src, dst)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), 512))
	}
	return nil
}

func (f *FFmpeg) buildArgs(src, dst string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src}
	args = append(args, f.Args...)
	return append(args, dst)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
