package memstore

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"devicecal/internal/provider"
)

// Snapshot is the serializable state of a Store.
type Snapshot struct {
	NextID map[provider.Collection]int64                     `yaml:"next_id"`
	Tables map[provider.Collection]map[int64]provider.Values `yaml:"tables"`
}

// Snapshot returns a deep copy of the store's state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		NextID: maps.Clone(s.nextID),
		Tables: make(map[provider.Collection]map[int64]provider.Values, len(s.tables)),
	}
	for t, recs := range s.tables {
		copied := make(map[int64]provider.Values, len(recs))
		for id, rec := range recs {
			copied[id] = maps.Clone(rec)
		}
		snap.Tables[t] = copied
	}
	return snap
}

// Restore replaces the store's state with snap.
func (s *Store) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	for t, recs := range snap.Tables {
		if _, ok := s.tables[t]; !ok {
			return fmt.Errorf("memstore: snapshot has unknown table %q", t)
		}
		for id, rec := range recs {
			restored := make(provider.Values, len(rec))
			for k, v := range rec {
				restored[k] = provider.Normalize(v)
			}
			restored[provider.ColID] = id
			s.tables[t][id] = restored
			if id > s.nextID[t] {
				s.nextID[t] = id
			}
		}
	}
	for t, next := range snap.NextID {
		if next > s.nextID[t] {
			s.nextID[t] = next
		}
	}
	return nil
}

// LoadFile restores the store from a YAML snapshot. A missing file leaves the
// store empty and is not an error.
func (s *Store) LoadFile(path string) error {
	if path == "" {
		return errors.New("snapshot path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("memstore: decode snapshot %s: %w", path, err)
	}
	return s.Restore(snap)
}

// SaveFile writes a YAML snapshot atomically via a temp file + rename, with
// 0600 permissions.
func (s *Store) SaveFile(path string) error {
	if path == "" {
		return errors.New("snapshot path is empty")
	}

	data, err := yaml.Marshal(s.Snapshot())
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".devicecal-store-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
