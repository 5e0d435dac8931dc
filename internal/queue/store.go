// Package queue provides queue persistence functionality.
package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// persistentState is the on-disk representation of a queue
type persistentState struct {
	State
	SavedAt time.Time `json:"savedAt"`
}

// Store handles queue persistence to disk, one file per profile
type Store struct {
	mu       sync.Mutex
	filePath string
}

// NewStore creates a new queue store
func NewStore(configDir, profile string) *Store {
	if profile == "" {
		profile = "default"
	}
	return &Store{
		filePath: filepath.Join(configDir, fmt.Sprintf("queue-%s.json", profile)),
	}
}

// Load reads the persisted queue. It returns nil when nothing was saved.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No saved state, that's fine
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}

	var saved persistentState
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse queue file: %w", err)
	}

	state := saved.State
	state.CurrentIndex = clampIndex(state.CurrentIndex, len(state.Songs))
	return &state, nil
}

// Save overwrites the persisted queue with state
func (s *Store) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(persistentState{State: state, SavedAt: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	// Write next to the target and rename so readers never see a partial file
	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp queue file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}

	return nil
}

// Path returns the path to the queue file
func (s *Store) Path() string {
	return s.filePath
}

// Flusher writes queue snapshots to a Store in the background. Submissions
// made while a write is in progress collapse into the latest one.
type Flusher struct {
	store *Store

	mu      sync.Mutex
	cond    *sync.Cond
	pending *State
	busy    bool
	closed  bool
	done    chan struct{}
}

// NewFlusher starts a background writer for store
func NewFlusher(store *Store) *Flusher {
	f := &Flusher{
		store: store,
		done:  make(chan struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	go f.run()
	return f
}

// Submit schedules state to be written. It never blocks on disk.
func (f *Flusher) Submit(state State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.pending = &state
	f.cond.Broadcast()
}

// Flush waits until every submitted state has been written
func (f *Flusher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.pending != nil || f.busy {
		f.cond.Wait()
	}
}

// Close writes any pending state and stops the writer
func (f *Flusher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return
	}
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()

	<-f.done
}

func (f *Flusher) run() {
	defer close(f.done)

	for {
		f.mu.Lock()
		for f.pending == nil && !f.closed {
			f.cond.Wait()
		}
		if f.pending == nil {
			f.mu.Unlock()
			return
		}
		state := *f.pending
		f.pending = nil
		f.busy = true
		f.mu.Unlock()

		if err := f.store.Save(state); err != nil {
			log.Printf("[QUEUE] Failed to save queue: %v", err)
		}

		f.mu.Lock()
		f.busy = false
		f.cond.Broadcast()
		f.mu.Unlock()
	}
}
