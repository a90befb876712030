package tuner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ptcchamber/chamberlab/chamber"
)

// DefaultResultsFile is where results are checkpointed
const DefaultResultsFile = "./ptc_pid_results.json"

// Result is the best point found for one profile
type Result struct {
	TargetTemp float64       `json:"target_temp"`
	BestScore  float64       `json:"best_score"`
	BestParams chamber.Gains `json:"best_params"`
}

// Store is the on-disk collection of results, keyed by profile name
type Store struct {
	Path    string
	Results map[string]Result
}

// LoadStore reads path.  A missing file gives an empty store.
func LoadStore(path string) (*Store, error) {
	s := &Store{Path: path, Results: map[string]Result{}}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s.Results); err != nil {
		s.Results = map[string]Result{}
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.Results == nil {
		s.Results = map[string]Result{}
	}
	return s, nil
}

// Has reports whether a result exists for the profile name
func (s *Store) Has(name string) bool {
	_, ok := s.Results[name]
	return ok
}

// Put records a result; Save persists it
func (s *Store) Put(name string, r Result) {
	s.Results[name] = r
}

// Save writes the store with four-space indentation.  The file is replaced
// atomically so a crash mid-write never loses earlier checkpoints.
func (s *Store) Save() error {
	b, err := json.MarshalIndent(s.Results, "", "    ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".ptc_pid_results-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}
