package sequence

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// Persistent is a sequence backed by a JSON file. Mutations happen in
// memory; Commit writes the current state durably.
type Persistent struct {
	*Sequence
	path string
}

// OpenPersistent loads the sequence stored at path, or returns one in
// its initial state when the file does not exist yet.
func OpenPersistent(path string, initial ...Range) (*Persistent, error) {
	seq := &Sequence{initial: initial}
	seq.Clear()
	p := &Persistent{Sequence: seq, path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, seq); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the backing file path.
func (p *Persistent) Path() string {
	return p.path
}

// Commit writes the sequence to its backing file and syncs the parent
// directory so the rename survives a crash.
func (p *Persistent) Commit() error {
	data, err := json.Marshal(p.Sequence)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	if err := atomic.WriteFile(p.path, bytes.NewReader(data)); err != nil {
		return err
	}
	dir, err := os.Open(filepath.Dir(p.path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
