package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/metrics"
	"github.com/sugar-network/node/pkg/schema"
)

const (
	// findRetries bounds reopen-and-retry attempts on a failing find.
	findRetries = 10
	// termLimit truncates indexed term values, first line only.
	termLimit = 243

	docsBucket  = "docs"
	termsBucket = "terms"
)

// Index is the on-disk term and slot store of one document class. All
// mutations must come from a single goroutine; Find is safe to call
// concurrently with it.
type Index struct {
	root string
	meta *schema.Metadata

	mu     sync.RWMutex // guards db handle swaps on reopen
	db     *bolt.DB
	logger zerolog.Logger
}

// indexedDoc is the per-document state kept in the docs bucket, enough
// to undo term postings on replace or delete and to sort by slot.
type indexedDoc struct {
	Slots map[int][]byte `json:"slots,omitempty"`
	Terms []string       `json:"terms,omitempty"`
	Texts []string       `json:"texts,omitempty"`
}

// Open opens (creating if needed) the index under root. A database that
// cannot be opened is discarded and recreated empty; the next populate
// pass rebuilds it from records.
func Open(root string, meta *schema.Metadata) (*Index, error) {
	idx := &Index{
		root:   root,
		meta:   meta,
		logger: log.WithComponent("index").With().Str("document", meta.Name()).Logger(),
	}
	if err := idx.open(); err != nil {
		idx.logger.Warn().Err(err).Msg("cannot open index, recreating it empty")
		if err := os.RemoveAll(root); err != nil {
			return nil, err
		}
		if err := idx.open(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (i *Index) open() error {
	if err := os.MkdirAll(i.root, 0o755); err != nil {
		return err
	}
	db, err := bolt.Open(filepath.Join(i.root, "index.db"), 0o600, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{docsBucket, termsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	i.db = db
	return nil
}

// Close releases the database handle.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.db == nil {
		return nil
	}
	err := i.db.Close()
	i.db = nil
	return err
}

// Reopen drops the current handle and opens the database afresh. When
// even a fresh open fails the index directory is recreated empty.
func (i *Index) Reopen() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.db != nil {
		i.db.Close()
		i.db = nil
	}
	if err := i.open(); err == nil {
		return nil
	}
	i.logger.Warn().Msg("index is corrupted, recreating it empty")
	if err := os.RemoveAll(i.root); err != nil {
		return err
	}
	return i.open()
}

// Store indexes props for guid, replacing any previous posting.
func (i *Index) Store(guid string, props map[string]any) error {
	doc := i.project(guid, props)
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(docsBucket))
		terms := tx.Bucket([]byte(termsBucket))
		if err := unpostTerms(docs, terms, guid); err != nil {
			return err
		}
		for _, term := range doc.Terms {
			if err := terms.Put(termKey(term, guid), nil); err != nil {
				return err
			}
		}
		for _, word := range doc.Texts {
			if err := terms.Put(termKey(textPrefix+word, guid), nil); err != nil {
				return err
			}
		}
		return docs.Put([]byte(guid), data)
	})
}

// Delete removes guid's posting.
func (i *Index) Delete(guid string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(docsBucket))
		terms := tx.Bucket([]byte(termsBucket))
		if err := unpostTerms(docs, terms, guid); err != nil {
			return err
		}
		return docs.Delete([]byte(guid))
	})
}

// Commit syncs the database and records the checkpoint mtime file.
func (i *Index) Commit() error {
	i.mu.RLock()
	if err := i.db.Sync(); err != nil {
		i.mu.RUnlock()
		return err
	}
	i.mu.RUnlock()
	metrics.IndexCommits.WithLabelValues(i.meta.Name()).Inc()
	return i.Checkpoint()
}

// Checkpoint touches the mtime file without flushing; everything at or
// before this wall-clock moment is covered by the index.
func (i *Index) Checkpoint() error {
	path := i.MtimePath()
	now := time.Now()
	if err := os.Chtimes(path, now, now); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Mtime returns the last commit checkpoint, 0 when the index has never
// committed.
func (i *Index) Mtime() int64 {
	info, err := os.Stat(i.MtimePath())
	if err != nil {
		return 0
	}
	return info.ModTime().Unix()
}

// MtimePath returns the checkpoint file path.
func (i *Index) MtimePath() string {
	return filepath.Join(i.root, "mtime")
}

// Find runs a query against the committed state. Transient database
// errors are retried with a reopen in between.
func (i *Index) Find(q *Query) ([]string, int, error) {
	var guids []string
	var total int
	var err error
	for tries := 1; ; tries++ {
		guids, total, err = i.find(q)
		if err == nil {
			return guids, total, nil
		}
		if tries >= findRetries {
			break
		}
		metrics.IndexFindRetries.WithLabelValues(i.meta.Name()).Inc()
		i.logger.Warn().Err(err).Int("try", tries).Msg("index find failed, will reopen and retry")
		time.Sleep(time.Duration(tries) * 100 * time.Millisecond)
		if err := i.Reopen(); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, errs.Newf(errs.Internal, "index find failed after %d tries: %s", findRetries, err)
}

func (i *Index) find(q *Query) ([]string, int, error) {
	i.mu.RLock()
	var matched []string
	err := i.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(docsBucket))
		terms := tx.Bucket([]byte(termsBucket))

		candidates, constrained, err := i.candidates(docs, terms, q)
		if err != nil {
			return err
		}
		if !constrained {
			candidates = nil
			cursor := docs.Cursor()
			for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
				candidates = append(candidates, string(k))
			}
		}
		matched, err = i.filterRanges(docs, candidates, q)
		return err
	})
	i.mu.RUnlock()
	if err != nil {
		return nil, 0, err
	}

	if err := i.order(matched, q); err != nil {
		return nil, 0, err
	}
	if q.GroupBy != "" {
		var err error
		matched, err = i.collapse(matched, q.GroupBy)
		if err != nil {
			return nil, 0, err
		}
	}

	total := len(matched)
	if q.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[q.Offset:]
	if q.Limit >= 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

// candidates intersects the posting lists of every exact filter and
// every free-text token. The second return value is false when the
// query has no term predicates at all.
func (i *Index) candidates(docs, terms *bolt.Bucket, q *Query) ([]string, bool, error) {
	var sets []map[string]struct{}

	for prop, values := range q.Request {
		p, ok := i.meta.Property(prop)
		if !ok || p.Prefix == "" {
			return nil, false, errs.Newf(errs.BadRequest, "cannot filter by %q", prop)
		}
		// Values of one property are OR-ed
		union := make(map[string]struct{})
		for _, value := range values {
			scanTerm(terms, exactTerm(p.Prefix, value), func(guid string) {
				union[guid] = struct{}{}
			})
		}
		sets = append(sets, union)
	}

	include, exclude := parseText(q.Query)
	for _, token := range include {
		set := make(map[string]struct{})
		scanTerm(terms, textPrefix+token, func(guid string) {
			set[guid] = struct{}{}
		})
		sets = append(sets, set)
	}

	if len(sets) == 0 && len(exclude) == 0 {
		return nil, false, nil
	}
	var result map[string]struct{}
	if len(sets) == 0 {
		// Pure-not query starts from the whole directory
		result = make(map[string]struct{})
		cursor := docs.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			result[string(k)] = struct{}{}
		}
		sets = append(sets, result)
	}
	result = sets[0]
	for _, set := range sets[1:] {
		for guid := range result {
			if _, ok := set[guid]; !ok {
				delete(result, guid)
			}
		}
	}
	for _, token := range exclude {
		scanTerm(terms, textPrefix+token, func(guid string) {
			delete(result, guid)
		})
	}
	out := make([]string, 0, len(result))
	for guid := range result {
		out = append(out, guid)
	}
	sort.Strings(out)
	return out, true, nil
}

func (i *Index) filterRanges(docs *bolt.Bucket, candidates []string, q *Query) ([]string, error) {
	if len(q.Ranges) == 0 {
		return candidates, nil
	}
	var out []string
	for _, guid := range candidates {
		doc, err := loadDoc(docs, guid)
		if err != nil || doc == nil {
			continue
		}
		hit := true
		for prop, r := range q.Ranges {
			p, ok := i.meta.Property(prop)
			if !ok || (p.Slot <= 0 && p.Name != "guid") {
				return nil, errs.Newf(errs.BadRequest, "cannot range-filter by %q", prop)
			}
			value, ok := doc.Slots[p.Slot]
			if !ok {
				hit = false
				break
			}
			if bytes.Compare(value, encodeSlotFloat(r.Min)) < 0 ||
				bytes.Compare(value, encodeSlotFloat(r.Max)) > 0 {
				hit = false
				break
			}
		}
		if hit {
			out = append(out, guid)
		}
	}
	return out, nil
}

// order sorts guids in place by the OrderBy slot; a "-" prefix reverses.
func (i *Index) order(guids []string, q *Query) error {
	orderBy := q.OrderBy
	if orderBy == "" {
		return nil
	}
	reverse := false
	if strings.HasPrefix(orderBy, "-") {
		reverse = true
		orderBy = orderBy[1:]
	} else {
		orderBy = strings.TrimPrefix(orderBy, "+")
	}
	p, ok := i.meta.Property(orderBy)
	if !ok || (p.Slot <= 0 && p.Name != "guid") {
		return errs.Newf(errs.BadRequest, "cannot order by %q", orderBy)
	}

	keys := make(map[string][]byte, len(guids))
	i.mu.RLock()
	err := i.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(docsBucket))
		for _, guid := range guids {
			doc, err := loadDoc(docs, guid)
			if err != nil {
				return err
			}
			if doc != nil {
				keys[guid] = doc.Slots[p.Slot]
			}
		}
		return nil
	})
	i.mu.RUnlock()
	if err != nil {
		return err
	}

	sort.SliceStable(guids, func(a, b int) bool {
		cmp := bytes.Compare(keys[guids[a]], keys[guids[b]])
		if reverse {
			return cmp > 0
		}
		return cmp < 0
	})
	return nil
}

// collapse keeps the first document per distinct group slot value.
func (i *Index) collapse(guids []string, groupBy string) ([]string, error) {
	p, ok := i.meta.Property(groupBy)
	if !ok || (p.Slot <= 0 && p.Name != "guid") {
		return nil, errs.Newf(errs.BadRequest, "cannot group by %q", groupBy)
	}
	seen := make(map[string]struct{})
	var out []string
	i.mu.RLock()
	defer i.mu.RUnlock()
	err := i.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(docsBucket))
		for _, guid := range guids {
			doc, err := loadDoc(docs, guid)
			if err != nil {
				return err
			}
			key := ""
			if doc != nil {
				key = string(doc.Slots[p.Slot])
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, guid)
		}
		return nil
	})
	return out, err
}

// project computes the indexed form of a property map.
func (i *Index) project(guid string, props map[string]any) *indexedDoc {
	doc := &indexedDoc{Slots: make(map[int][]byte)}
	doc.Terms = append(doc.Terms, exactTerm(schema.GUIDPrefix, guid))
	doc.Slots[schema.GUIDSlot] = []byte(guid)

	for _, p := range i.meta.Properties() {
		value, ok := props[p.Name]
		if !ok || p.Name == "guid" {
			continue
		}
		if p.Slot > 0 {
			doc.Slots[p.Slot] = encodeSlot(p, value)
		}
		if p.Prefix != "" {
			for _, term := range p.Terms(value) {
				doc.Terms = append(doc.Terms, exactTerm(p.Prefix, term))
			}
		}
		if p.FullText {
			for _, term := range p.Terms(value) {
				doc.Texts = append(doc.Texts, tokenize(term)...)
			}
		}
	}
	return doc
}

func loadDoc(docs *bolt.Bucket, guid string) (*indexedDoc, error) {
	data := docs.Get([]byte(guid))
	if data == nil {
		return nil, nil
	}
	doc := &indexedDoc{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func unpostTerms(docs, terms *bolt.Bucket, guid string) error {
	old, err := loadDoc(docs, guid)
	if err != nil || old == nil {
		return err
	}
	for _, term := range old.Terms {
		if err := terms.Delete(termKey(term, guid)); err != nil {
			return err
		}
	}
	for _, word := range old.Texts {
		if err := terms.Delete(termKey(textPrefix+word, guid)); err != nil {
			return err
		}
	}
	return nil
}

func termKey(term, guid string) []byte {
	key := make([]byte, 0, len(term)+1+len(guid))
	key = append(key, term...)
	key = append(key, 0)
	key = append(key, guid...)
	return key
}

func scanTerm(terms *bolt.Bucket, term string, fn func(guid string)) {
	prefix := append([]byte(term), 0)
	cursor := terms.Cursor()
	for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		fn(string(k[len(prefix):]))
	}
}

// exactTerm builds the posting key value for an exact match, first line
// only and truncated.
func exactTerm(prefix string, value any) string {
	s := schema.ExactPrefix + prefix + normalizeTerm(value)
	return s
}

func normalizeTerm(value any) string {
	var s string
	switch x := value.(type) {
	case string:
		s = x
	default:
		repr := schema.DefaultRepr(value)
		if len(repr) > 0 {
			s = repr[0]
		}
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > termLimit {
		s = s[:termLimit]
	}
	return s
}

// encodeSlot renders a value into bytes whose lexicographic order
// matches the value order.
func encodeSlot(p *schema.Property, value any) []byte {
	if p.Repr != nil {
		repr := p.Repr(value)
		if len(repr) == 0 {
			return nil
		}
		return []byte(strings.ToLower(repr[0]))
	}
	if p.Localized {
		return []byte(strings.ToLower(schema.LocalizedValue(value, nil)))
	}
	switch x := value.(type) {
	case int64:
		return encodeSlotFloat(float64(x))
	case int:
		return encodeSlotFloat(float64(x))
	case float64:
		return encodeSlotFloat(x)
	case bool:
		if x {
			return encodeSlotFloat(1)
		}
		return encodeSlotFloat(0)
	default:
		repr := schema.DefaultRepr(value)
		if len(repr) == 0 {
			return nil
		}
		return []byte(strings.ToLower(repr[0]))
	}
}

// encodeSlotFloat maps float64 onto 8 bytes preserving order: positive
// values get the sign bit set, negative values are bit-inverted.
func encodeSlotFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, bits)
	return out
}
