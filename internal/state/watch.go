// internal/state/watch.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/user/toolchat/internal/types"
)

// WatchStore is a JSON-file-backed store for price watches.
type WatchStore struct {
	path string
	mu   sync.RWMutex
}

// NewWatchStore creates a WatchStore at the given file path.
func NewWatchStore(path string) *WatchStore {
	return &WatchStore{path: path}
}

// Path returns the file path used by this store.
func (s *WatchStore) Path() string {
	return s.path
}

// List returns all watches. Returns an empty slice if the file doesn't exist.
func (s *WatchStore) List() ([]*types.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watches, err := s.load()
	if err != nil {
		return nil, err
	}
	if watches == nil {
		return []*types.Watch{}, nil
	}
	return watches, nil
}

// Get finds a watch by name.
func (s *WatchStore) Get(name string) (*types.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watches, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, w := range watches {
		if w.Name == name {
			return w, nil
		}
	}
	return nil, fmt.Errorf("watch not found: %s", name)
}

// Add appends a watch. Names are unique.
func (s *WatchStore) Add(w *types.Watch) error {
	if w.Name == "" {
		return fmt.Errorf("watch name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range watches {
		if existing.Name == w.Name {
			return fmt.Errorf("watch already exists: %s", w.Name)
		}
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	return s.save(append(watches, w))
}

// Remove deletes a watch by name.
func (s *WatchStore) Remove(name string) error {
	return s.update(name, func(watches []*types.Watch, i int) []*types.Watch {
		return append(watches[:i], watches[i+1:]...)
	})
}

// SetEnabled toggles the enabled flag of a watch.
func (s *WatchStore) SetEnabled(name string, enabled bool) error {
	return s.update(name, func(watches []*types.Watch, i int) []*types.Watch {
		watches[i].Enabled = enabled
		return watches
	})
}

// RecordRun stores the time and outcome of the latest check.
func (s *WatchStore) RecordRun(name string, at time.Time, runErr error) error {
	return s.update(name, func(watches []*types.Watch, i int) []*types.Watch {
		watches[i].LastRunAt = &at
		watches[i].LastError = ""
		if runErr != nil {
			watches[i].LastError = runErr.Error()
		}
		return watches
	})
}

func (s *WatchStore) update(name string, fn func([]*types.Watch, int) []*types.Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load()
	if err != nil {
		return err
	}
	for i, w := range watches {
		if w.Name == name {
			return s.save(fn(watches, i))
		}
	}
	return fmt.Errorf("watch not found: %s", name)
}

// load returns nil if the file doesn't exist.
func (s *WatchStore) load() ([]*types.Watch, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read watches file: %w", err)
	}

	var watches []*types.Watch
	if err := json.Unmarshal(data, &watches); err != nil {
		return nil, fmt.Errorf("unmarshal watches: %w", err)
	}
	return watches, nil
}

func (s *WatchStore) save(watches []*types.Watch) error {
	data, err := json.MarshalIndent(watches, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watches: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
