package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pithecene-io/kiln/iox"
)

// AttemptSnapshot captures the working state and one persisted file before
// a retryable attempt so a failed attempt can be made invisible.
type AttemptSnapshot struct {
	state     *WorkingState
	saved     map[string]any
	path      string
	fileBytes []byte
	fileMode  fs.FileMode
	existed   bool
}

// Take snapshots state (deep copy) and the file at path. An empty path
// skips the file snapshot.
func Take(state *WorkingState, path string) (*AttemptSnapshot, error) {
	snap := &AttemptSnapshot{state: state, path: path}
	if state != nil {
		snap.saved = state.Copy()
	}
	if path == "" {
		return snap, nil
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return snap, nil
	case err != nil:
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	snap.fileBytes = data
	snap.fileMode = info.Mode().Perm()
	snap.existed = true
	return snap, nil
}

// Restore puts the working state and the file back exactly as captured.
// A file that did not exist at Take time is removed.
func (s *AttemptSnapshot) Restore() error {
	if s.state != nil {
		s.state.Replace(s.saved)
	}
	if s.path == "" {
		return nil
	}
	if !s.existed {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("restore %s: %w", s.path, err)
		}
		return nil
	}

	current, ok, err := iox.ReadFileIfExists(s.path)
	if err != nil {
		return fmt.Errorf("restore %s: %w", s.path, err)
	}
	if ok && bytes.Equal(current, s.fileBytes) {
		return nil
	}
	if err := iox.WriteFileAtomic(s.path, s.fileBytes, s.fileMode); err != nil {
		return fmt.Errorf("restore %s: %w", s.path, err)
	}
	return nil
}

// State returns the captured working state copy.
func (s *AttemptSnapshot) State() map[string]any { return Clone(s.saved) }

// FileExisted reports whether the file existed when the snapshot was taken.
func (s *AttemptSnapshot) FileExisted() bool { return s.existed }
