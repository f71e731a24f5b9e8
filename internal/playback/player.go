// Package playback plays command clips on the local audio device.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultCommand is used when no player command is configured.
const DefaultCommand = "ffplay -nodisp -autoexit -loglevel quiet"

// Player plays one audio file, returning when playback ends or ctx is
// cancelled.
type Player interface {
	Play(ctx context.Context, path string) error
}

// CommandPlayer plays files through an external program. The file path is
// appended as the last argument.
type CommandPlayer struct {
	Name string
	Args []string
}

// NewCommandPlayer parses a whitespace separated command line such as
// "afplay" or "ffplay -nodisp -autoexit".
func NewCommandPlayer(command string) *CommandPlayer {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = strings.Fields(DefaultCommand)
	}
	return &CommandPlayer{Name: fields[0], Args: fields[1:]}
}

// Play runs the player and waits for it to exit.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	args := make([]string, 0, len(p.Args)+1)
	args = append(args, p.Args...)
	args = append(args, path)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("play %q: %w: %s", path, err, msg)
		}
		return fmt.Errorf("play %q: %w", path, err)
	}
	return nil
}
