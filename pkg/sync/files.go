package sync

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/packet"
	"github.com/sugar-network/node/pkg/sequence"
)

// tombstoneMtime marks a vanished path in the seeder index.
const tombstoneMtime = -1

type fileEntry struct {
	Seqno int64  `json:"seqno"`
	Path  string `json:"path"`
	Mtime int64  `json:"mtime"`
}

type seederState struct {
	Seqno   int64       `json:"seqno"`
	Stamp   int64       `json:"stamp"`
	Entries []fileEntry `json:"entries"`
}

// Seeder serves one watched file tree to pulling peers. It keeps a
// seqno-stamped index of relative paths and rescans lazily when the
// tree's mtime outruns the recorded scan stamp. Vanished paths stay
// in the index as tombstones so deletions propagate.
type Seeder struct {
	name      string
	root      string
	statePath string
	state     seederState
	byPath    map[string]int
	logger    zerolog.Logger
}

// NewSeeder opens the seeder for the tree at root, keeping its index
// at statePath.
func NewSeeder(name, root, statePath string) (*Seeder, error) {
	s := &Seeder{
		name:      name,
		root:      root,
		statePath: statePath,
		byPath:    make(map[string]int),
		logger:    log.WithComponent("files").With().Str("tree", name).Logger(),
	}
	data, err := os.ReadFile(statePath)
	if err == nil {
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	for i, entry := range s.state.Entries {
		s.byPath[entry.Path] = i
	}
	return s, nil
}

// Name returns the tree name used in packet records.
func (s *Seeder) Name() string {
	return s.name
}

// Sequence returns the full range of issued seqnos.
func (s *Seeder) Sequence() *sequence.Sequence {
	if s.state.Seqno == 0 {
		return sequence.New()
	}
	return sequence.New(sequence.Range{Start: 1, End: s.state.Seqno})
}

// scan refreshes the index when the tree changed since the last scan.
func (s *Seeder) scan() error {
	info, err := os.Stat(s.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	stamp := info.ModTime().Unix()
	if s.state.Stamp != 0 && stamp <= s.state.Stamp {
		return nil
	}

	seen := make(map[string]bool)
	err = filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		seen[rel] = true
		stat, err := entry.Info()
		if err != nil {
			return err
		}
		mtime := stat.ModTime().Unix()
		if i, ok := s.byPath[rel]; ok {
			if s.state.Entries[i].Mtime == mtime {
				return nil
			}
			s.state.Seqno++
			s.state.Entries[i].Seqno = s.state.Seqno
			s.state.Entries[i].Mtime = mtime
			return nil
		}
		s.state.Seqno++
		s.byPath[rel] = len(s.state.Entries)
		s.state.Entries = append(s.state.Entries, fileEntry{
			Seqno: s.state.Seqno,
			Path:  rel,
			Mtime: mtime,
		})
		return nil
	})
	if err != nil {
		return err
	}

	for i := range s.state.Entries {
		entry := &s.state.Entries[i]
		if entry.Mtime == tombstoneMtime || seen[entry.Path] {
			continue
		}
		s.state.Seqno++
		entry.Seqno = s.state.Seqno
		entry.Mtime = tombstoneMtime
	}

	s.state.Stamp = stamp
	s.logger.Debug().Int64("seqno", s.state.Seqno).Int("files", len(seen)).Msg("tree rescanned")
	return s.commit()
}

func (s *Seeder) commit() error {
	data, err := json.Marshal(&s.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(s.statePath, bytes.NewReader(data))
}

// Pull streams accepted tree changes into out: files_push records
// with content, files_delete for tombstones and one files_commit for
// the produced range. On DiskFull the commit covers only what landed.
func (s *Seeder) Pull(accept *sequence.Sequence, out *packet.OutPacket) (*sequence.Sequence, bool, error) {
	if err := s.scan(); err != nil {
		return nil, false, err
	}

	pending := make([]fileEntry, 0)
	for _, entry := range s.state.Entries {
		if accept.Contains(entry.Seqno) {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(a, b int) bool { return pending[a].Seqno < pending[b].Seqno })

	pushed := sequence.New()
	complete := true
	for _, entry := range pending {
		var err error
		if entry.Mtime == tombstoneMtime {
			err = out.Push(map[string]any{
				"cmd":       "files_delete",
				"directory": s.name,
				"path":      entry.Path,
			})
		} else {
			err = s.pushFile(out, entry)
		}
		if errs.IsKind(err, errs.DiskFull) {
			complete = false
			break
		}
		if err != nil {
			return nil, false, err
		}
		pushed.Include(entry.Seqno, entry.Seqno)
	}

	committed := pushed
	if complete {
		committed = accept.Clone()
		committed.Floor(s.state.Seqno)
	}
	err := out.PushTail(map[string]any{
		"cmd":       "files_commit",
		"directory": s.name,
		"sequence":  committed,
	})
	if err != nil {
		return nil, false, err
	}
	return committed, complete, nil
}

func (s *Seeder) pushFile(out *packet.OutPacket, entry fileEntry) error {
	file, err := os.Open(filepath.Join(s.root, filepath.FromSlash(entry.Path)))
	if os.IsNotExist(err) {
		// Raced with a deletion; the next rescan will tombstone it
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	return out.PushBlob(map[string]any{
		"cmd":       "files_push",
		"directory": s.name,
		"path":      entry.Path,
		"mtime":     entry.Mtime,
	}, file, info.Size())
}
