package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Transcoder converts an audio file into the container implied by dst's
// extension.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

// Enqueuer schedules a background conversion of a raw upload.
type Enqueuer interface {
	EnqueueConversion(userID, command, rawPath string) error
}

// Clip is a playable command clip on disk.
type Clip struct {
	Name     string
	Path     string
	MIMEType string
	// Pending is true when the clip is a raw upload still awaiting conversion.
	Pending bool
}

// SaveResult describes where an uploaded clip ended up.
type SaveResult struct {
	Command string
	Path    string
	Queued  bool
}

// Library stores command clips and profile images in the per-user tree.
// Concurrent writers to the same command race; the last rename wins and no
// partially written file is ever visible under the final name.
type Library struct {
	resolver   *Resolver
	transcoder Transcoder
	format     string
	enqueuer   Enqueuer
	logger     *slog.Logger
}

// New creates a Library that stores clips in format (e.g. "m4a"). A nil
// transcoder leaves non-canonical uploads playable in their source format.
func New(resolver *Resolver, transcoder Transcoder, format string) *Library {
	format = NormalizeExt(format)
	if !IsAudioExt(format) {
		format = "m4a"
	}
	return &Library{
		resolver:   resolver,
		transcoder: transcoder,
		format:     format,
		logger:     slog.Default(),
	}
}

// SetEnqueuer routes conversions through a background queue instead of
// running them inline.
func (l *Library) SetEnqueuer(e Enqueuer) {
	l.enqueuer = e
}

// Resolver returns the underlying directory resolver.
func (l *Library) Resolver() *Resolver {
	return l.resolver
}

// Format returns the canonical storage extension.
func (l *Library) Format() string {
	return l.format
}

// SaveAudio stores r as the clip for command, replacing any previous clip
// with the same name. Older files for the command are removed only once the
// new clip is in place, so a failed save leaves the library unchanged.
func (l *Library) SaveAudio(ctx context.Context, userID, command, ext string, r io.Reader) (SaveResult, error) {
	cmd, err := CleanCommand(command)
	if err != nil {
		return SaveResult{}, err
	}
	ext = NormalizeExt(ext)
	if !IsAudioExt(ext) {
		return SaveResult{}, fmt.Errorf("%w: .%s", ErrUnsupportedFormat, ext)
	}
	dirs, err := l.resolver.Resolve(userID)
	if err != nil {
		return SaveResult{}, err
	}

	if ext == l.format {
		dst := filepath.Join(dirs.Audio, cmd+"."+l.format)
		if err := writeAtomic(dst, r); err != nil {
			return SaveResult{}, err
		}
		if err := l.dropOthers(dirs, cmd, dst); err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Command: cmd, Path: dst}, nil
	}

	if l.transcoder != nil && l.enqueuer == nil {
		return l.saveConverted(ctx, dirs, cmd, r)
	}

	raw := filepath.Join(dirs.Upload, cmd+"."+ext)
	if err := writeAtomic(raw, r); err != nil {
		return SaveResult{}, err
	}
	if err := l.dropOthers(dirs, cmd, raw); err != nil {
		return SaveResult{}, err
	}

	if l.transcoder == nil {
		l.logger.Warn("no transcoder configured, keeping upload in source format", "command", cmd, "ext", ext)
		return SaveResult{Command: cmd, Path: raw}, nil
	}
	if err := l.enqueuer.EnqueueConversion(userID, cmd, raw); err != nil {
		// The raw clip is stored and playable; it just stays in its source format.
		l.logger.Warn("queueing conversion failed, keeping upload in source format", "command", cmd, "error", err)
		return SaveResult{Command: cmd, Path: raw}, nil
	}
	return SaveResult{Command: cmd, Path: raw, Queued: true}, nil
}

// saveConverted transcodes r inline and installs the result as the clip.
func (l *Library) saveConverted(ctx context.Context, dirs Dirs, cmd string, r io.Reader) (SaveResult, error) {
	src, err := writeTemp(dirs.Upload, r)
	if err != nil {
		return SaveResult{}, err
	}
	defer os.Remove(src)

	tmp, err := l.transcodeTemp(ctx, src, dirs.Audio, cmd)
	if err != nil {
		return SaveResult{}, err
	}
	dst := filepath.Join(dirs.Audio, cmd+"."+l.format)
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return SaveResult{}, fmt.Errorf("moving converted clip: %w", err)
	}
	if err := l.dropOthers(dirs, cmd, dst); err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Command: cmd, Path: dst}, nil
}

// transcodeTemp converts src into a temp file in dir and returns its path.
func (l *Library) transcodeTemp(ctx context.Context, src, dir, cmd string) (string, error) {
	tmp, err := os.CreateTemp(dir, ".convert-*."+l.format)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := l.transcoder.Transcode(ctx, src, tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("transcoding %s: %w", cmd, err)
	}
	return tmpPath, nil
}

// dropOthers removes every stored file for cmd except keep.
func (l *Library) dropOthers(dirs Dirs, cmd, keep string) error {
	for _, dir := range []string{dirs.Audio, dirs.Upload} {
		for ext := range audioMIMETypes {
			p := filepath.Join(dir, cmd+"."+ext)
			if p == keep {
				continue
			}
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("removing previous clip: %w", err)
			}
		}
	}
	return nil
}

// ConvertPending transcodes a raw upload into the canonical format and
// removes the raw file. A raw file that vanished or changed while converting
// means a newer upload superseded it; the result is discarded.
func (l *Library) ConvertPending(ctx context.Context, userID, command, rawPath string) error {
	cmd, err := CleanCommand(command)
	if err != nil {
		return err
	}
	dirs, err := l.resolver.Resolve(userID)
	if err != nil {
		return err
	}
	if filepath.Dir(filepath.Clean(rawPath)) != filepath.Clean(dirs.Upload) {
		return fmt.Errorf("%w: %s is outside the upload directory", ErrInvalidName, rawPath)
	}
	if l.transcoder == nil {
		return errors.New("no transcoder configured")
	}

	before, err := os.Stat(rawPath)
	if errors.Is(err, os.ErrNotExist) {
		l.logger.Debug("raw upload already gone, skipping conversion", "command", cmd)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat raw upload: %w", err)
	}

	tmpPath, err := l.transcodeTemp(ctx, rawPath, dirs.Audio, cmd)
	if err != nil {
		return err
	}

	after, err := os.Stat(rawPath)
	if err != nil || !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		os.Remove(tmpPath)
		l.logger.Debug("raw upload superseded during conversion", "command", cmd)
		return nil
	}

	dst := filepath.Join(dirs.Audio, cmd+"."+l.format)
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving converted clip: %w", err)
	}
	if err := os.Remove(rawPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing raw upload: %w", err)
	}
	return nil
}

// ListCommands returns the sorted, de-duplicated command names for userID
// across converted clips and pending uploads.
func (l *Library) ListCommands(userID string) ([]string, error) {
	dirs, err := l.resolver.Resolve(userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, dir := range []string{dirs.Audio, dirs.Upload} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			ext := filepath.Ext(name)
			if !IsAudioExt(ext) {
				continue
			}
			seen[strings.TrimSuffix(name, ext)] = true
		}
	}

	commands := make([]string, 0, len(seen))
	for c := range seen {
		commands = append(commands, c)
	}
	sort.Strings(commands)
	return commands, nil
}

// Lookup finds the clip stored for name, preferring converted audio over a
// pending raw upload.
func (l *Library) Lookup(userID, name string) (Clip, error) {
	cmd, err := CleanCommand(name)
	if err != nil {
		return Clip{}, err
	}
	dirs, err := l.resolver.Paths(userID)
	if err != nil {
		return Clip{}, err
	}

	exts := l.searchOrder()
	for _, dir := range []string{dirs.Audio, dirs.Upload} {
		for _, ext := range exts {
			p := filepath.Join(dir, cmd+"."+ext)
			info, err := os.Stat(p)
			if err != nil || info.IsDir() {
				continue
			}
			return Clip{
				Name:     cmd,
				Path:     p,
				MIMEType: AudioMIMEType(ext),
				Pending:  dir == dirs.Upload,
			}, nil
		}
	}
	return Clip{}, fmt.Errorf("%w: %s", ErrNotFound, cmd)
}

// Delete removes every stored file for name.
func (l *Library) Delete(userID, name string) error {
	cmd, err := CleanCommand(name)
	if err != nil {
		return err
	}
	dirs, err := l.resolver.Paths(userID)
	if err != nil {
		return err
	}

	removed := 0
	for _, dir := range []string{dirs.Audio, dirs.Upload} {
		for _, ext := range l.searchOrder() {
			err := os.Remove(filepath.Join(dir, cmd+"."+ext))
			if err == nil {
				removed++
				continue
			}
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("removing %s: %w", cmd, err)
			}
		}
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, cmd)
	}
	return nil
}

// SaveProfileImage replaces the user's avatar. Only one image is kept; the
// new file is fully written before older ones are removed.
func (l *Library) SaveProfileImage(userID, ext string, r io.Reader) (string, error) {
	ext = NormalizeExt(ext)
	if !IsImageExt(ext) {
		return "", fmt.Errorf("%w: .%s", ErrUnsupportedFormat, ext)
	}
	dirs, err := l.resolver.Resolve(userID)
	if err != nil {
		return "", err
	}

	tmp, err := writeTemp(dirs.Profile, r)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(dirs.Profile)
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("reading profile dir: %w", err)
	}
	for _, e := range entries {
		// Temp files belong to uploads in flight, ours included.
		if e.IsDir() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		p := filepath.Join(dirs.Profile, e.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			os.Remove(tmp)
			return "", fmt.Errorf("removing old profile image: %w", err)
		}
	}

	filename := "profile." + ext
	if err := os.Rename(tmp, filepath.Join(dirs.Profile, filename)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("saving profile image: %w", err)
	}
	return filename, nil
}

// ProfileImagePath returns the on-disk path of one of the user's images.
func (l *Library) ProfileImagePath(userID, filename string) (string, error) {
	dirs, err := l.resolver.Paths(userID)
	if err != nil {
		return "", err
	}
	if filename == "" || filepath.Base(filename) != filename || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	if !IsImageExt(filepath.Ext(filename)) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
	p := filepath.Join(dirs.Profile, filename)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return p, nil
}

// searchOrder lists audio extensions with the canonical format first.
func (l *Library) searchOrder() []string {
	exts := []string{l.format}
	rest := make([]string, 0, len(audioMIMETypes))
	for ext := range audioMIMETypes {
		if ext != l.format {
			rest = append(rest, ext)
		}
	}
	sort.Strings(rest)
	return append(exts, rest...)
}

func writeTemp(dir string, r io.Reader) (string, error) {
	f, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing upload: %w", err)
	}
	return f.Name(), nil
}

func writeAtomic(dst string, r io.Reader) error {
	tmp, err := writeTemp(filepath.Dir(dst), r)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saving %s: %w", filepath.Base(dst), err)
	}
	return nil
}
