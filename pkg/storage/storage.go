package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/log"
)

// Store is the record store of one document class. Records are fanned
// out by the first two GUID characters to cap per-directory entries.
type Store struct {
	root   string
	logger zerolog.Logger
}

// New opens (creating if needed) a record store rooted at root.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		root:   root,
		logger: log.WithComponent("storage"),
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Get returns the record handle for guid. It never fails; the handle
// reports Exists and Consistent.
func (s *Store) Get(guid string) *Record {
	return &Record{
		guid: guid,
		path: filepath.Join(s.root, fanout(guid), guid),
	}
}

// Delete removes the whole record subtree for guid.
func (s *Store) Delete(guid string) error {
	record := s.Get(guid)
	if err := os.RemoveAll(record.path); err != nil {
		return err
	}
	s.logger.Debug().Str("guid", guid).Msg("record removed")
	// Drop the fanout directory when it became empty
	os.Remove(filepath.Dir(record.path))
	return nil
}

// Walk calls fn for every consistent record whose guid marker changed
// after since. It is the repopulation source after crashes and layout
// bumps.
func (s *Store) Walk(ctx context.Context, since int64, fn func(guid string) error) error {
	fanouts, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, fan := range fanouts {
		if !fan.IsDir() || len(fan.Name()) != 2 {
			continue
		}
		records, err := os.ReadDir(filepath.Join(s.root, fan.Name()))
		if err != nil {
			return err
		}
		for _, entry := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !entry.IsDir() {
				continue
			}
			guid := entry.Name()
			marker, err := os.Stat(filepath.Join(s.root, fan.Name(), guid, "guid"))
			if err != nil {
				continue
			}
			if marker.ModTime().Unix() <= since {
				continue
			}
			if err := fn(guid); err != nil {
				return err
			}
		}
	}
	return nil
}

func fanout(guid string) string {
	if len(guid) < 2 {
		return guid
	}
	return guid[:2]
}
