package index

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/metrics"
)

// Op is a queued index operation.
type Op int

const (
	// OpStore indexes a property map for a GUID.
	OpStore Op = iota
	// OpDelete removes a GUID's posting.
	OpDelete
	// OpCommit flushes a document class without touching any record.
	OpCommit
)

// entry is one queued operation. seqno is the cache page it belongs to;
// for committing entries it is the page being committed.
type entry struct {
	doc    string
	op     Op
	guid   string
	props  map[string]any
	commit bool
	seqno  int64
}

type docState struct {
	// pending is the seqno of the page collecting new writes, starts 1.
	pending   int64
	committed int64
	changes   int
	deadline  time.Time
}

// QueueConfig tunes the writer.
type QueueConfig struct {
	// Size bounds the in-flight queue; Push blocks when it is reached.
	Size int
	// FlushThreshold is the per-document change count that forces a
	// commit.
	FlushThreshold int
	// FlushTimeout is the longest a document's changes stay uncommitted.
	FlushTimeout time.Duration
}

func (c *QueueConfig) defaults() {
	if c.Size <= 0 {
		c.Size = 256
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = 32
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
}

// Resolver maps a document class name to its index.
type Resolver func(doc string) *Index

// Queue serializes all index mutations through one writer goroutine.
// Flush decisions are made at Push time: a per-document change counter
// and a per-document deadline decide which enqueued operation also
// carries a commit.
type Queue struct {
	cfg     QueueConfig
	resolve Resolver

	mu      sync.Mutex
	notFull *sync.Cond
	idle    *sync.Cond
	items   []entry
	docs    map[string]*docState
	closed  bool
	busy    bool

	wake chan struct{}
	done chan struct{}

	logger zerolog.Logger
}

// NewQueue builds a queue; call Start to launch the writer goroutine.
func NewQueue(cfg QueueConfig, resolve Resolver) *Queue {
	cfg.defaults()
	q := &Queue{
		cfg:     cfg,
		resolve: resolve,
		docs:    make(map[string]*docState),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  log.WithComponent("index-queue"),
	}
	q.notFull = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Start launches the writer goroutine.
func (q *Queue) Start() {
	go q.run()
}

// Push enqueues op and returns the cache-page seqno it belongs to.
// Push blocks while the queue is full.
func (q *Queue) Push(doc string, op Op, guid string, props map[string]any) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.cfg.Size && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return 0
	}

	st := q.state(doc)
	e := entry{doc: doc, op: op, guid: guid, props: props, seqno: st.pending}
	st.changes++
	if st.changes == 1 {
		st.deadline = time.Now().Add(q.cfg.FlushTimeout)
	}
	if st.changes >= q.cfg.FlushThreshold {
		e.commit = true
		q.openNextPage(st)
	}
	q.items = append(q.items, e)
	metrics.WriteQueueDepth.Set(float64(len(q.items)))
	q.kick()
	return e.seqno
}

// Commit enqueues an explicit flush for doc and returns the seqno of
// the page it commits.
func (q *Queue) Commit(doc string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	st := q.state(doc)
	seqno := st.pending
	q.items = append(q.items, entry{doc: doc, op: OpCommit, commit: true, seqno: seqno})
	q.openNextPage(st)
	q.kick()
	return seqno
}

// CommitSeqno returns the highest committed page seqno of doc.
func (q *Queue) CommitSeqno(doc string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state(doc).committed
}

// PendingSeqno returns the page new writes of doc will land in.
func (q *Queue) PendingSeqno(doc string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state(doc).pending
}

// Wait blocks until every queued operation has been applied.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 || q.busy {
		q.idle.Wait()
	}
}

// Close flushes every document with pending changes, drains the queue
// and stops the writer.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	for doc, st := range q.docs {
		if st.changes > 0 {
			q.items = append(q.items, entry{doc: doc, op: OpCommit, commit: true, seqno: st.pending})
			q.openNextPage(st)
		}
	}
	q.closed = true
	q.notFull.Broadcast()
	q.mu.Unlock()
	q.kick()
	<-q.done
}

func (q *Queue) state(doc string) *docState {
	st, ok := q.docs[doc]
	if !ok {
		st = &docState{pending: 1}
		q.docs[doc] = st
	}
	return st
}

func (q *Queue) openNextPage(st *docState) {
	st.pending++
	st.changes = 0
	st.deadline = time.Time{}
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		// Inject synthetic commits for documents whose deadline passed
		now := time.Now()
		var next time.Time
		for doc, st := range q.docs {
			if st.changes == 0 {
				continue
			}
			if !st.deadline.After(now) {
				q.items = append(q.items, entry{doc: doc, op: OpCommit, commit: true, seqno: st.pending})
				q.openNextPage(st)
			} else if next.IsZero() || st.deadline.Before(next) {
				next = st.deadline
			}
		}

		if len(q.items) == 0 {
			q.idle.Broadcast()
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			q.sleep(next)
			continue
		}

		e := q.items[0]
		q.items = q.items[1:]
		q.busy = true
		metrics.WriteQueueDepth.Set(float64(len(q.items)))
		q.notFull.Signal()
		q.mu.Unlock()

		q.apply(e)

		q.mu.Lock()
		q.busy = false
		if e.commit {
			st := q.state(e.doc)
			if e.seqno > st.committed {
				st.committed = e.seqno
			}
		}
		if len(q.items) == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()
	}
}

func (q *Queue) sleep(deadline time.Time) {
	if deadline.IsZero() {
		<-q.wake
		return
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-q.wake:
	case <-timer.C:
	}
}

func (q *Queue) apply(e entry) {
	idx := q.resolve(e.doc)
	if idx == nil {
		q.logger.Error().Str("document", e.doc).Msg("no index for queued operation")
		return
	}
	var err error
	switch e.op {
	case OpStore:
		err = idx.Store(e.guid, e.props)
	case OpDelete:
		err = idx.Delete(e.guid)
	}
	if err != nil {
		q.logger.Error().Err(err).Str("document", e.doc).Str("guid", e.guid).
			Msg("index operation failed")
	}
	if e.commit {
		if err := idx.Commit(); err != nil {
			q.logger.Error().Err(err).Str("document", e.doc).Msg("index commit failed")
		}
	}
}
