package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
)

// Store owns the persisted profile list. Every mutating method saves
// before returning, and list order is itself meaningful (display order ==
// disk order). Mutations operate on the list the caller passes in, so
// transient state on it (measured latencies, which are never written to
// disk) survives a mutation. The store assumes a single writing process;
// there is no cross-process locking.
type Store struct {
	path string
}

// NewStore returns a store bound to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the profile list from disk. Corruption never propagates to the
// caller: an unreadable or unparseable file yields an empty list, and
// malformed records are coerced to safe defaults by Profile.UnmarshalJSON.
func (s *Store) Load() []Profile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("profile store: read %s: %v", s.path, err)
		}
		return nil
	}

	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		log.Warnf("profile store: %s is not valid JSON, starting empty: %v", s.path, err)
		return nil
	}
	return profiles
}

// Save writes the full list, replacing any previous content. Latencies
// are transient and never reach the file.
func (s *Store) Save(profiles []Profile) error {
	persisted := make([]Profile, len(profiles))
	copy(persisted, profiles)
	for i := range persisted {
		persisted[i].LatencyMs = 0
	}

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Append adds a profile to the end of the given list and persists. The
// caller's list is the source of truth, not the file: transient state on
// it (measured latencies) must survive the mutation.
func (s *Store) Append(profiles []Profile, p Profile) ([]Profile, error) {
	updated := make([]Profile, 0, len(profiles)+1)
	updated = append(updated, profiles...)
	updated = append(updated, p)
	if err := s.Save(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveIndex deletes the profile at index i from the given list and
// persists.
func (s *Store) RemoveIndex(profiles []Profile, i int) ([]Profile, error) {
	if i < 0 || i >= len(profiles) {
		return nil, fmt.Errorf("profile index %d out of range", i)
	}
	updated := make([]Profile, 0, len(profiles)-1)
	updated = append(updated, profiles[:i]...)
	updated = append(updated, profiles[i+1:]...)
	if err := s.Save(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// ReplaceAll overwrites the whole list (used after sorting) and persists.
func (s *Store) ReplaceAll(profiles []Profile) error {
	return s.Save(profiles)
}

// BootstrapDefaults returns the seed profile set used when the store is
// empty on first run. Order matters: it is the initial display order.
func BootstrapDefaults() []Profile {
	return []Profile{
		{Name: "Cloudflare", Servers: []string{"1.1.1.1", "1.0.0.1"}},
		{Name: "Google", Servers: []string{"8.8.8.8", "8.8.4.4"}},
		{Name: "Quad9", Servers: []string{"9.9.9.9", "149.112.112.112"}},
		{Name: "OpenDNS", Servers: []string{"208.67.222.222", "208.67.220.220"}},
		{Name: "AdGuard", Servers: []string{"94.140.14.14", "94.140.15.15"}},
	}
}

// LoadOrBootstrap loads the persisted list, seeding and saving the defaults
// when nothing usable is on disk.
func (s *Store) LoadOrBootstrap() []Profile {
	profiles := s.Load()
	if len(profiles) > 0 {
		return profiles
	}

	profiles = BootstrapDefaults()
	if err := s.Save(profiles); err != nil {
		log.Warnf("profile store: save defaults: %v", err)
	}
	return profiles
}
