package library

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_Idempotent(t *testing.T) {
	base := t.TempDir()
	r := NewResolver(base)

	first, err := r.Resolve("user-1")
	require.NoError(t, err)
	second, err := r.Resolve("user-1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	for _, dir := range []string{first.Upload, first.Audio, first.Profile, first.Config} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
		require.True(t, strings.HasPrefix(dir, base))
	}
	require.Equal(t, filepath.Join(base, "config", "user-1", "profile.json"), first.ConfigFile())
}

func TestResolve_UsersAreDisjoint(t *testing.T) {
	r := NewResolver(t.TempDir())

	a, err := r.Resolve("alice")
	require.NoError(t, err)
	b, err := r.Resolve("bob")
	require.NoError(t, err)
	require.NotEqual(t, a.Audio, b.Audio)
	require.NotEqual(t, a.Config, b.Config)
}

func TestValidateUserID(t *testing.T) {
	valid := []string{"default", "a", "3f2b9c1e-7d4a-4c4e-9a43-0b1f7d2b8e11", "user_01"}
	for _, id := range valid {
		require.NoError(t, ValidateUserID(id), id)
	}

	invalid := []string{"", "..", "../etc", "a/b", "a b", "ünïcode", strings.Repeat("x", 65)}
	for _, id := range invalid {
		require.ErrorIs(t, ValidateUserID(id), ErrInvalidName, id)
	}
}

func TestCleanCommand(t *testing.T) {
	got, err := CleanCommand("  早安 晨光  ")
	require.NoError(t, err)
	require.Equal(t, "早安 晨光", got)

	_, err = CleanCommand(strings.Repeat("長", 101))
	require.ErrorIs(t, err, ErrInvalidName)

	for _, bad := range []string{".", "..", ".hidden", ".upload-1.tmp", "a*b", "a?b", "a|b", "<tag>", "line\nbreak"} {
		_, err := CleanCommand(bad)
		require.ErrorIs(t, err, ErrInvalidName, bad)
	}
}

func TestExtensions(t *testing.T) {
	require.True(t, IsAudioExt(".MP3"))
	require.True(t, IsAudioExt("wav"))
	require.False(t, IsAudioExt("flac"))
	require.True(t, IsImageExt("JPEG"))
	require.False(t, IsImageExt("svg"))
	require.Equal(t, "audio/mp4", AudioMIMEType("m4a"))
	require.Equal(t, "application/octet-stream", AudioMIMEType("xyz"))
}
