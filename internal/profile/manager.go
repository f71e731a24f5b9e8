package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ErrInvalidColor is returned for color values that are not #rgb or #rrggbb.
var ErrInvalidColor = errors.New("invalid color")

// ErrUnknownField is returned by SetField for keys outside UserProfile.
var ErrUnknownField = errors.New("unknown profile field")

var colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ConfigLocator maps a user id to the path of its profile document,
// creating parent directories as needed. Implemented by library.Resolver.
type ConfigLocator interface {
	ConfigPath(userID string) (string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  UserProfile
	cachedAt time.Time
}

// Manager provides cached access to per-user profiles stored as JSON files.
// Writes for one user are serialized in-process and land via rename, so the
// document on disk is always a complete JSON object.
type Manager struct {
	locator ConfigLocator
	clock   Clock
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(locator ConfigLocator) *Manager {
	return NewManagerWithClock(locator, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(locator ConfigLocator, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		locator: locator,
		clock:   clock,
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Get returns the user's profile, creating and persisting the defaults on
// first access.
func (m *Manager) Get(userID string) (UserProfile, error) {
	if p, ok := m.cached(userID); ok {
		return p, nil
	}

	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	// Double-check after acquiring the user lock.
	if p, ok := m.cached(userID); ok {
		return p, nil
	}
	return m.load(userID)
}

// Save replaces the user's whole profile.
func (m *Manager) Save(userID string, p UserProfile) error {
	if err := validate(p); err != nil {
		return err
	}

	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	return m.write(userID, p)
}

// Apply merges u into the stored profile and persists the result.
func (m *Manager) Apply(userID string, u Update) (UserProfile, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	p, err := m.load(userID)
	if err != nil {
		return UserProfile{}, err
	}
	merge(&p, u)
	if err := validate(p); err != nil {
		return UserProfile{}, err
	}
	if err := m.write(userID, p); err != nil {
		return UserProfile{}, err
	}
	return p, nil
}

// Check reports whether applying u to the stored profile would be accepted,
// without persisting anything.
func (m *Manager) Check(userID string, u Update) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	p, err := m.load(userID)
	if err != nil {
		return err
	}
	merge(&p, u)
	return validate(p)
}

// SetField updates a single field addressed by its JSON key.
func (m *Manager) SetField(userID, key, value string) (UserProfile, error) {
	var u Update
	switch key {
	case "idol_name":
		u.IdolName = &value
	case "profile_image":
		u.ProfileImage = &value
	case "theme_color":
		u.ThemeColor = &value
	case "secondary_color":
		u.SecondaryColor = &value
	case "button_color":
		u.ButtonColor = &value
	default:
		return UserProfile{}, fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	return m.Apply(userID, u)
}

// Fields lists the keys accepted by SetField.
func Fields() []string {
	return []string{"idol_name", "profile_image", "theme_color", "secondary_color", "button_color"}
}

func (m *Manager) cached(userID string) (UserProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[userID]
	if !ok || !m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return UserProfile{}, false
	}
	return e.profile, true
}

func (m *Manager) remember(userID string, p UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// load reads the profile from disk. Caller holds the user lock.
func (m *Manager) load(userID string) (UserProfile, error) {
	path, err := m.locator.ConfigPath(userID)
	if err != nil {
		return UserProfile{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		p := Defaults()
		if err := m.writeFile(path, p); err != nil {
			return UserProfile{}, err
		}
		m.remember(userID, p)
		return p, nil
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("reading profile: %w", err)
	}

	// Keys missing from older documents keep their defaults.
	p := Defaults()
	if err := json.Unmarshal(data, &p); err != nil {
		return UserProfile{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	m.remember(userID, p)
	return p, nil
}

// write persists p. Caller holds the user lock.
func (m *Manager) write(userID string, p UserProfile) error {
	path, err := m.locator.ConfigPath(userID)
	if err != nil {
		return err
	}
	if err := m.writeFile(path, p); err != nil {
		return err
	}
	m.remember(userID, p)
	return nil
}

func (m *Manager) writeFile(path string, p UserProfile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling profile: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".profile-*.json")
	if err != nil {
		return fmt.Errorf("creating temp profile: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

func merge(p *UserProfile, u Update) {
	if u.IdolName != nil {
		p.IdolName = *u.IdolName
	}
	if u.ProfileImage != nil {
		p.ProfileImage = *u.ProfileImage
	}
	if u.ThemeColor != nil {
		p.ThemeColor = *u.ThemeColor
	}
	if u.SecondaryColor != nil {
		p.SecondaryColor = *u.SecondaryColor
	}
	if u.ButtonColor != nil {
		p.ButtonColor = *u.ButtonColor
	}
}

func validate(p UserProfile) error {
	colors := []struct{ name, value string }{
		{"theme_color", p.ThemeColor},
		{"secondary_color", p.SecondaryColor},
		{"button_color", p.ButtonColor},
	}
	for _, c := range colors {
		if !colorPattern.MatchString(c.value) {
			return fmt.Errorf("%w: %s = %q", ErrInvalidColor, c.name, c.value)
		}
	}
	return nil
}
