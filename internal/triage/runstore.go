package triage

import "sync"

// RunStore keeps run results in memory for the HTTP API. Runs are
// stored and returned as copies so readers never race the pipeline
// goroutine.
type RunStore struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	latest string
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*Run)}
}

// Put stores a snapshot of the run and marks it as the latest.
func (s *RunStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.clone()
	s.latest = run.ID
}

// Get retrieves a run by ID.
func (s *RunStore) Get(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return run.clone(), true
}

// Latest retrieves the most recently stored run.
func (s *RunStore) Latest() (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[s.latest]
	if !ok {
		return nil, false
	}
	return run.clone(), true
}
