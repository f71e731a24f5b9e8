package library

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrInvalidName is returned for user ids or command names that cannot
	// be used as path components.
	ErrInvalidName = errors.New("invalid name")
	// ErrUnsupportedFormat is returned for files whose extension is not in
	// the accepted set.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrNotFound is returned when a clip or image does not exist.
	ErrNotFound = errors.New("not found")
)

const (
	maxUserIDLen  = 64
	maxCommandLen = 100
)

// ValidateUserID accepts 1-64 characters of [A-Za-z0-9_-].
func ValidateUserID(id string) error {
	if id == "" || len(id) > maxUserIDLen {
		return fmt.Errorf("%w: user id must be 1-%d characters", ErrInvalidName, maxUserIDLen)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: user id contains %q", ErrInvalidName, r)
		}
	}
	return nil
}

// CleanCommand trims a command name and rejects anything that would escape
// or corrupt a filename stem. Unicode letters are kept as-is.
func CleanCommand(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: command is empty", ErrInvalidName)
	}
	// Dot-prefixed stems are hidden from listings and used for temp files.
	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: command %q may not start with a dot", ErrInvalidName, name)
	}
	if utf8.RuneCountInString(name) > maxCommandLen {
		return "", fmt.Errorf("%w: command longer than %d characters", ErrInvalidName, maxCommandLen)
	}
	for _, r := range name {
		if r == utf8.RuneError || unicode.IsControl(r) || strings.ContainsRune(`/\<>:"|?*`, r) {
			return "", fmt.Errorf("%w: command contains %q", ErrInvalidName, r)
		}
	}
	return name, nil
}

// Accepted source formats, keyed by lowercase extension without the dot.
var (
	audioMIMETypes = map[string]string{
		"m4a":  "audio/mp4",
		"mp3":  "audio/mpeg",
		"wav":  "audio/wav",
		"webm": "audio/webm",
		"ogg":  "audio/ogg",
	}
	imageExtensions = map[string]bool{
		"png":  true,
		"jpg":  true,
		"jpeg": true,
		"gif":  true,
		"webp": true,
	}
)

// NormalizeExt lowercases an extension and strips a leading dot.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAudioExt reports whether ext is an accepted audio upload format.
func IsAudioExt(ext string) bool {
	_, ok := audioMIMETypes[NormalizeExt(ext)]
	return ok
}

// IsImageExt reports whether ext is an accepted profile image format.
func IsImageExt(ext string) bool {
	return imageExtensions[NormalizeExt(ext)]
}

// AudioMIMEType returns the MIME type for an audio extension, defaulting to
// application/octet-stream.
func AudioMIMEType(ext string) string {
	if t, ok := audioMIMETypes[NormalizeExt(ext)]; ok {
		return t
	}
	return "application/octet-stream"
}
