package document

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/index"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/schema"
)

// Seqno is the volume-wide write counter. Increments happen in memory;
// Commit makes the current value durable.
type Seqno struct {
	mu    sync.Mutex
	value int64
	path  string
}

func openSeqno(path string) (*Seqno, error) {
	s := &Seqno{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	value, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, err
	}
	s.value = value
	return s, nil
}

// Next returns the next seqno.
func (s *Seqno) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value++
	return s.value
}

// Value returns the last issued seqno.
func (s *Seqno) Value() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Commit persists the counter with a temp-file rename and a directory
// sync.
func (s *Seqno) Commit() error {
	s.mu.Lock()
	value := s.value
	s.mu.Unlock()
	data := []byte(strconv.FormatInt(value, 10) + "\n")
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return err
	}
	dir, err := os.Open(filepath.Dir(s.path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

// Volume is a named set of directories sharing one seqno counter, one
// index write queue and one event bus.
type Volume struct {
	root   string
	dirs   map[string]*Directory
	order  []string
	queue  *index.Queue
	seqno  *Seqno
	bus    *Broker
	logger zerolog.Logger
}

// OpenVolume opens the volume at root serving the given document
// classes.
func OpenVolume(root string, classes []*schema.Metadata, qcfg index.QueueConfig) (*Volume, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	seqno, err := openSeqno(filepath.Join(root, "seqno"))
	if err != nil {
		return nil, err
	}
	v := &Volume{
		root:   root,
		dirs:   make(map[string]*Directory),
		seqno:  seqno,
		bus:    NewBroker(),
		logger: log.WithComponent("volume"),
	}
	v.queue = index.NewQueue(qcfg, func(doc string) *index.Index {
		if dir, ok := v.dirs[doc]; ok {
			return dir.idx
		}
		return nil
	})
	for _, meta := range classes {
		dir, err := openDirectory(filepath.Join(root, meta.Name()), meta, v)
		if err != nil {
			return nil, err
		}
		v.dirs[meta.Name()] = dir
		v.order = append(v.order, meta.Name())
	}
	v.queue.Start()
	v.logger.Info().Str("root", root).Int("documents", len(classes)).Msg("volume opened")
	return v, nil
}

// Root returns the volume root directory.
func (v *Volume) Root() string {
	return v.root
}

// Directory returns the directory serving the named document class.
func (v *Volume) Directory(name string) (*Directory, error) {
	dir, ok := v.dirs[name]
	if !ok {
		return nil, errs.Newf(errs.BadRequest, "unknown document %q", name)
	}
	return dir, nil
}

// Directories returns every directory in registration order.
func (v *Volume) Directories() []*Directory {
	out := make([]*Directory, 0, len(v.order))
	for _, name := range v.order {
		out = append(out, v.dirs[name])
	}
	return out
}

// Seqno returns the shared counter.
func (v *Volume) Seqno() *Seqno {
	return v.seqno
}

// Queue returns the shared index write queue.
func (v *Volume) Queue() *index.Queue {
	return v.queue
}

// Subscribe registers an event listener with an optional condition.
func (v *Volume) Subscribe(condition Condition) (<-chan Event, func()) {
	return v.bus.Subscribe(condition)
}

// Notify publishes an event. A write that marks a document's layer as
// deleted is delivered as a delete event, hiding the logical-delete
// mechanics from subscribers.
func (v *Volume) Notify(event Event) {
	if event.Event == "update" {
		if layers, ok := event.Props["layer"].([]any); ok {
			for _, layer := range layers {
				if layer == "deleted" {
					event.Event = "delete"
					break
				}
			}
		}
	}
	v.bus.Publish(event)
}

// Populate rebuilds every directory's index from records written after
// the last commit checkpoint.
func (v *Volume) Populate(ctx context.Context) error {
	for _, dir := range v.Directories() {
		if err := dir.Populate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes pending index writes and the seqno counter.
func (v *Volume) Close() error {
	v.queue.Close()
	if err := v.seqno.Commit(); err != nil {
		return err
	}
	var firstErr error
	for _, dir := range v.Directories() {
		if err := dir.idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
