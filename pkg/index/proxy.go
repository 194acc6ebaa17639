package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/sugar-network/node/pkg/schema"
)

// Result is one found document: its GUID plus any property overrides
// coming from the overlay rather than the record store.
type Result struct {
	GUID  string
	Props map[string]any
}

// cachedDoc is a document's overlay state within one cache page.
type cachedDoc struct {
	guid    string
	props   map[string]any
	isNew   bool
	deleted bool
	// terms maps property name to current exact-term values; origTerms
	// reflects the committed on-disk state, nil for brand new documents.
	terms     map[string][]string
	origTerms map[string][]string
}

type cachePage struct {
	docs  map[string]*cachedDoc
	order []string
}

// Proxy overlays queued-but-uncommitted writes on top of the on-disk
// index so every reader immediately sees its own changes.
type Proxy struct {
	idx   *Index
	queue *Queue
	doc   string
	meta  *schema.Metadata

	mu    sync.Mutex
	pages map[int64]*cachePage
}

// NewProxy couples an index with the write queue for one document
// class.
func NewProxy(idx *Index, queue *Queue, meta *schema.Metadata) *Proxy {
	return &Proxy{
		idx:   idx,
		queue: queue,
		doc:   meta.Name(),
		meta:  meta,
		pages: make(map[int64]*cachePage),
	}
}

// Index exposes the wrapped on-disk index.
func (p *Proxy) Index() *Index {
	return p.idx
}

// Store queues an index write. props must be the document's full
// property map; origProps is the previously stored map, nil on create.
func (p *Proxy) Store(guid string, props, origProps map[string]any, isNew bool) int64 {
	seqno := p.queue.Push(p.doc, OpStore, guid, props)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropCommitted()

	doc := &cachedDoc{
		guid:  guid,
		props: cloneProps(props),
		isNew: isNew,
		terms: p.exactTerms(props),
	}
	if prev := p.cachedLocked(guid); prev != nil {
		doc.isNew = doc.isNew || prev.isNew
		doc.origTerms = prev.origTerms
		for name, value := range prev.props {
			if _, ok := doc.props[name]; !ok {
				doc.props[name] = value
			}
		}
	} else if origProps != nil {
		doc.origTerms = p.exactTerms(origProps)
	}
	p.put(seqno, doc)
	return seqno
}

// Delete queues an index delete; origProps is the stored map being
// removed.
func (p *Proxy) Delete(guid string, origProps map[string]any) int64 {
	seqno := p.queue.Push(p.doc, OpDelete, guid, nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropCommitted()

	doc := &cachedDoc{guid: guid, deleted: true}
	if prev := p.cachedLocked(guid); prev != nil {
		doc.origTerms = prev.origTerms
	} else if origProps != nil {
		doc.origTerms = p.exactTerms(origProps)
	}
	p.put(seqno, doc)
	return seqno
}

// Commit forces a flush of this document class.
func (p *Proxy) Commit() int64 {
	return p.queue.Commit(p.doc)
}

// GetCached returns the overlay property map of guid. The second value
// is false when the overlay holds nothing for it; deleted is true when
// the newest overlay state is a delete.
func (p *Proxy) GetCached(guid string) (props map[string]any, deleted, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropCommitted()

	merged := make(map[string]any)
	found := false
	for _, seqno := range p.seqnosAsc() {
		doc, present := p.pages[seqno].docs[guid]
		if !present {
			continue
		}
		found = true
		if doc.deleted {
			deleted = true
			merged = make(map[string]any)
			continue
		}
		deleted = false
		for name, value := range doc.props {
			merged[name] = value
		}
	}
	if !found {
		return nil, false, false
	}
	return merged, deleted, true
}

// Find queries the committed index and corrects the result with the
// overlay: adds documents queued but not yet on disk, drops deleted
// ones, and attaches property overrides for updated ones.
func (p *Proxy) Find(q *Query) ([]Result, int, error) {
	p.mu.Lock()
	p.dropCommitted()
	noOverlay := len(p.pages) == 0 || q.NoCache

	if !noOverlay {
		if guid, ok := singleGUID(q); ok {
			defer p.mu.Unlock()
			return p.findGUID(q, guid)
		}
	}

	var adds []*cachedDoc
	deletes := make(map[string]struct{})
	updates := make(map[string]*cachedDoc)
	if !noOverlay {
		seen := make(map[string]struct{})
		for _, seqno := range p.seqnosDesc() {
			page := p.pages[seqno]
			for _, guid := range page.order {
				if _, ok := seen[guid]; ok {
					continue
				}
				seen[guid] = struct{}{}
				doc := page.docs[guid]
				curMatch := !doc.deleted && p.matches(q, doc)
				origMatch := doc.origTerms != nil && p.matchTerms(q, doc.origTerms)
				switch {
				case curMatch && doc.isNew:
					adds = append(adds, doc)
				case curMatch:
					updates[guid] = doc
				case origMatch:
					deletes[guid] = struct{}{}
				}
			}
		}
	}
	p.mu.Unlock()

	disk := *q
	if disk.Limit >= 0 {
		disk.Limit += len(deletes)
	}
	guids, total, err := p.idx.Find(&disk)
	if err != nil {
		return nil, 0, err
	}

	// The writer may have applied an add to the database before its
	// page was dropped, so disk results and adds can overlap.
	addSet := make(map[string]*cachedDoc, len(adds))
	for _, doc := range adds {
		addSet[doc.guid] = doc
	}

	drops := 0
	var out []Result
	for _, guid := range guids {
		if _, ok := deletes[guid]; ok {
			drops++
			continue
		}
		result := Result{GUID: guid}
		if doc, ok := addSet[guid]; ok {
			result.Props = cloneProps(doc.props)
			delete(addSet, guid)
		} else if doc, ok := updates[guid]; ok {
			result.Props = cloneProps(doc.props)
		}
		if q.Limit >= 0 && len(out) >= q.Limit {
			continue
		}
		out = append(out, result)
	}
	pending := 0
	for _, doc := range adds {
		if _, ok := addSet[doc.guid]; !ok {
			continue
		}
		pending++
		if q.Limit < 0 || len(out) < q.Limit {
			out = append(out, Result{GUID: doc.guid, Props: cloneProps(doc.props)})
		}
	}
	total += pending - drops
	return out, total, nil
}

// findGUID short-circuits a guid-filtered query to a direct lookup.
// Called with p.mu held.
func (p *Proxy) findGUID(q *Query, guid string) ([]Result, int, error) {
	var overlay map[string]any
	overlayDeleted := false
	for _, seqno := range p.seqnosAsc() {
		doc, ok := p.pages[seqno].docs[guid]
		if !ok {
			continue
		}
		if doc.deleted {
			overlayDeleted = true
			overlay = nil
			continue
		}
		overlayDeleted = false
		if overlay == nil {
			overlay = make(map[string]any)
		}
		for name, value := range doc.props {
			overlay[name] = value
		}
	}
	if overlayDeleted {
		return nil, 0, nil
	}

	guids, total, err := p.idx.Find(q)
	if err != nil {
		return nil, 0, err
	}
	if len(guids) == 0 {
		if overlay == nil {
			return nil, 0, nil
		}
		doc := p.cachedLocked(guid)
		if doc == nil || !p.matches(q, doc) {
			return nil, 0, nil
		}
		return []Result{{GUID: guid, Props: overlay}}, 1, nil
	}
	return []Result{{GUID: guid, Props: overlay}}, total, nil
}

func (p *Proxy) matches(q *Query, doc *cachedDoc) bool {
	if !p.matchTerms(q, doc.terms) {
		return false
	}
	include, _ := parseText(q.Query)
	if len(include) == 0 {
		return true
	}
	return textMatch(doc.props, include)
}

// matchTerms evaluates the query's exact predicates against a per-prop
// term map. Composite values use subset semantics: the predicate holds
// when either side is a non-empty subset of the other.
func (p *Proxy) matchTerms(q *Query, terms map[string][]string) bool {
	for prop, values := range q.Request {
		if prop == "guid" {
			continue
		}
		var want []string
		for _, value := range values {
			want = append(want, normalizeTerm(value))
		}
		have := terms[prop]
		if !subset(want, have) && !subset(have, want) {
			return false
		}
	}
	return true
}

// exactTerms projects props into per-property exact term values.
func (p *Proxy) exactTerms(props map[string]any) map[string][]string {
	out := make(map[string][]string)
	for _, prop := range p.meta.Properties() {
		if prop.Prefix == "" {
			continue
		}
		value, ok := props[prop.Name]
		if !ok {
			continue
		}
		var terms []string
		for _, term := range prop.Terms(value) {
			terms = append(terms, normalizeTerm(term))
		}
		out[prop.Name] = terms
	}
	return out
}

func (p *Proxy) put(seqno int64, doc *cachedDoc) {
	page, ok := p.pages[seqno]
	if !ok {
		page = &cachePage{docs: make(map[string]*cachedDoc)}
		p.pages[seqno] = page
	}
	if _, ok := page.docs[doc.guid]; !ok {
		page.order = append(page.order, doc.guid)
	}
	page.docs[doc.guid] = doc
}

// cachedLocked returns the newest overlay state of guid.
func (p *Proxy) cachedLocked(guid string) *cachedDoc {
	for _, seqno := range p.seqnosDesc() {
		if doc, ok := p.pages[seqno].docs[guid]; ok {
			return doc
		}
	}
	return nil
}

// dropCommitted removes pages the writer has flushed to disk.
func (p *Proxy) dropCommitted() {
	committed := p.queue.CommitSeqno(p.doc)
	for seqno := range p.pages {
		if seqno <= committed {
			delete(p.pages, seqno)
		}
	}
}

func (p *Proxy) seqnosAsc() []int64 {
	out := make([]int64, 0, len(p.pages))
	for seqno := range p.pages {
		out = append(out, seqno)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func (p *Proxy) seqnosDesc() []int64 {
	out := p.seqnosAsc()
	for a, b := 0, len(out)-1; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out
}

func singleGUID(q *Query) (string, bool) {
	values, ok := q.Request["guid"]
	if !ok || len(values) != 1 {
		return "", false
	}
	guid, ok := values[0].(string)
	return guid, ok
}

func cloneProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for name, value := range props {
		out[name] = value
	}
	return out
}

func subset(a, b []string) bool {
	if len(a) == 0 {
		return false
	}
	for _, item := range a {
		found := false
		for _, other := range b {
			if item == other {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func textMatch(props map[string]any, tokens []string) bool {
	var corpus []string
	for _, value := range props {
		corpus = append(corpus, schema.DefaultRepr(value)...)
	}
	joined := strings.ToLower(strings.Join(corpus, " "))
	for _, token := range tokens {
		if !strings.Contains(joined, token) {
			return false
		}
	}
	return true
}
