package library

import (
	"fmt"
	"os"
	"path/filepath"
)

// Top-level folders under the data directory. Each is further partitioned
// by user id.
const (
	uploadsFolder  = "uploads"
	audioFolder    = "audio"
	profilesFolder = "profiles"
	configFolder   = "config"
)

// Dirs is the per-user directory tree.
type Dirs struct {
	Upload  string
	Audio   string
	Profile string
	Config  string
}

// ConfigFile returns the path of the user's profile JSON document.
func (d Dirs) ConfigFile() string {
	return filepath.Join(d.Config, "profile.json")
}

// Resolver maps user ids to their directory tree under a fixed base path.
type Resolver struct {
	base string
}

func NewResolver(base string) *Resolver {
	return &Resolver{base: base}
}

// Base returns the data directory the resolver partitions.
func (r *Resolver) Base() string {
	return r.base
}

// Paths computes the directory tree for userID without touching the disk.
func (r *Resolver) Paths(userID string) (Dirs, error) {
	if err := ValidateUserID(userID); err != nil {
		return Dirs{}, err
	}
	return Dirs{
		Upload:  filepath.Join(r.base, uploadsFolder, userID),
		Audio:   filepath.Join(r.base, audioFolder, userID),
		Profile: filepath.Join(r.base, profilesFolder, userID),
		Config:  filepath.Join(r.base, configFolder, userID),
	}, nil
}

// Resolve returns the directory tree for userID, creating any missing
// directories. Safe to call repeatedly.
func (r *Resolver) Resolve(userID string) (Dirs, error) {
	d, err := r.Paths(userID)
	if err != nil {
		return Dirs{}, err
	}
	for _, dir := range []string{d.Upload, d.Audio, d.Profile, d.Config} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Dirs{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return d, nil
}

// ConfigPath resolves userID and returns its profile document path.
func (r *Resolver) ConfigPath(userID string) (string, error) {
	d, err := r.Resolve(userID)
	if err != nil {
		return "", err
	}
	return d.ConfigFile(), nil
}
