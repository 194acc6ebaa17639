package document

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/index"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/metrics"
	"github.com/sugar-network/node/pkg/schema"
	"github.com/sugar-network/node/pkg/sequence"
	"github.com/sugar-network/node/pkg/storage"
)

// layoutVersion guards the on-disk index format. Records survive a
// bump; the index is rebuilt from them.
const layoutVersion = 3

// PropDiff is one property's state on the sync wire.
type PropDiff struct {
	Value    any    `json:"value,omitempty"`
	Mtime    int64  `json:"mtime"`
	MimeType string `json:"mime_type,omitempty"`
	Digest   string `json:"digest,omitempty"`
	URL      string `json:"url,omitempty"`
	// Path points at the local BLOB bytes backing the diff; the packet
	// layer streams them as a companion record.
	Path string `json:"-"`
}

// Directory serves one document class: a record store coupled with an
// index behind the shared write queue.
type Directory struct {
	root   string
	meta   *schema.Metadata
	store  *storage.Store
	idx    *index.Index
	proxy  *index.Proxy
	volume *Volume
	logger zerolog.Logger
}

func openDirectory(root string, meta *schema.Metadata, volume *Volume) (*Directory, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	logger := log.WithDocument(meta.Name())
	if version := readLayout(root); version != 0 && version != layoutVersion {
		logger.Warn().
			Int("stored", version).Int("current", layoutVersion).
			Msg("layout version mismatch, index will be rebuilt")
		if err := os.RemoveAll(filepath.Join(root, "index")); err != nil {
			return nil, err
		}
	}
	store, err := storage.New(root)
	if err != nil {
		return nil, err
	}
	idx, err := index.Open(filepath.Join(root, "index"), meta)
	if err != nil {
		return nil, err
	}
	return &Directory{
		root:   root,
		meta:   meta,
		store:  store,
		idx:    idx,
		proxy:  index.NewProxy(idx, volume.queue, meta),
		volume: volume,
		logger: logger,
	}, nil
}

// Metadata returns the directory's document class.
func (d *Directory) Metadata() *schema.Metadata {
	return d.meta
}

// Name returns the document class name.
func (d *Directory) Name() string {
	return d.meta.Name()
}

// Mtime returns the index commit checkpoint.
func (d *Directory) Mtime() int64 {
	return d.idx.Mtime()
}

// Create validates props, fills defaults, writes the record and queues
// the index store. It returns the new document's GUID.
func (d *Directory) Create(props map[string]any) (string, error) {
	props, err := d.cast(props)
	if err != nil {
		return "", err
	}

	guid, _ := props["guid"].(string)
	if guid == "" {
		guid = schema.NewGUID()
	} else if err := schema.ValidateGUID(guid); err != nil {
		return "", err
	}
	record := d.store.Get(guid)
	if record.Exists() {
		return "", errs.Newf(errs.BadRequest, "document %q already exists in %q", guid, d.Name())
	}
	props["guid"] = guid

	now := time.Now().Unix()
	for _, p := range d.meta.Properties() {
		if p.Blob || p.Name == "guid" {
			continue
		}
		if _, ok := props[p.Name]; ok {
			continue
		}
		if p.Name == "ctime" || p.Name == "mtime" {
			props[p.Name] = now
			continue
		}
		if p.Default == nil {
			return "", errs.Newf(errs.BadRequest, "property %q is required in %q", p.Name, d.Name())
		}
		props[p.Name] = p.Default
	}

	seqno := d.volume.seqno.Next()
	if err := d.writeRecord(record, props, seqno, now); err != nil {
		return "", err
	}
	if err := d.volume.seqno.Commit(); err != nil {
		return "", err
	}

	indexed := cloneMap(props)
	indexed["seqno"] = seqno
	d.proxy.Store(guid, indexed, nil, true)
	metrics.DocumentsCreated.WithLabelValues(d.Name()).Inc()
	d.logger.Debug().Str("guid", guid).Int64("seqno", seqno).Msg("document created")
	d.volume.Notify(Event{Event: "create", Document: d.Name(), GUID: guid, Seqno: seqno, Props: props})
	return guid, nil
}

// Update writes the given properties of an existing document.
func (d *Directory) Update(guid string, props map[string]any) error {
	doc, err := d.Get(guid)
	if err != nil {
		return err
	}
	props, err = d.cast(props)
	if err != nil {
		return err
	}
	if len(props) == 0 {
		return nil
	}

	// Localized updates merge into the stored language map
	for name, value := range props {
		p, _ := d.meta.Property(name)
		if !p.Localized {
			continue
		}
		incoming, ok := value.(map[string]any)
		if !ok {
			continue
		}
		stored, err := doc.Get(name)
		if err != nil {
			return err
		}
		if storedMap, ok := stored.(map[string]any); ok {
			merged := cloneMap(storedMap)
			for lang, s := range incoming {
				merged[lang] = s
			}
			props[name] = merged
		}
	}

	origProps, err := doc.Properties()
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	seqno := d.volume.seqno.Next()
	record := d.store.Get(guid)
	for name, value := range props {
		if err := record.Set(name, &storage.Meta{Value: value, Seqno: seqno, Mtime: now}); err != nil {
			return err
		}
	}
	if err := record.Set("mtime", &storage.Meta{Value: now, Seqno: seqno, Mtime: now}); err != nil {
		return err
	}
	// Restamp the marker so the document seqno follows the write
	if err := record.Set("guid", &storage.Meta{Value: guid, Seqno: seqno, Mtime: now}); err != nil {
		return err
	}
	if err := d.volume.seqno.Commit(); err != nil {
		return err
	}

	merged := cloneMap(origProps)
	for name, value := range props {
		merged[name] = value
	}
	merged["mtime"] = now
	merged["seqno"] = seqno
	d.proxy.Store(guid, merged, origProps, false)
	d.logger.Debug().Str("guid", guid).Int64("seqno", seqno).Msg("document updated")
	d.volume.Notify(Event{Event: "update", Document: d.Name(), GUID: guid, Seqno: seqno, Props: props})
	return nil
}

// Delete removes the document physically: the index posting first,
// then the record subtree.
func (d *Directory) Delete(guid string) error {
	doc, err := d.Get(guid)
	if err != nil {
		return err
	}
	origProps, err := doc.Properties()
	if err != nil {
		return err
	}
	d.proxy.Delete(guid, origProps)
	if err := d.store.Delete(guid); err != nil {
		return err
	}
	metrics.DocumentsDeleted.WithLabelValues(d.Name()).Inc()
	d.logger.Debug().Str("guid", guid).Msg("document deleted")
	d.volume.Notify(Event{Event: "delete", Document: d.Name(), GUID: guid})
	return nil
}

// Get returns a document proxy; NotFound when neither the record store
// nor the overlay knows the GUID.
func (d *Directory) Get(guid string) (*Document, error) {
	record := d.store.Get(guid)
	cached, deleted, ok := d.proxy.GetCached(guid)
	if deleted {
		return nil, errs.Newf(errs.NotFound, "document %q is absent in %q", guid, d.Name())
	}
	if !ok && !record.Consistent() {
		return nil, errs.Newf(errs.NotFound, "document %q is absent in %q", guid, d.Name())
	}
	return &Document{guid: guid, dir: d, record: record, cached: cached}, nil
}

// Find runs a query through the reader overlay.
func (d *Directory) Find(q *index.Query) ([]*Document, int, error) {
	results, total, err := d.proxy.Find(q)
	if err != nil {
		return nil, 0, err
	}
	docs := make([]*Document, 0, len(results))
	for _, result := range results {
		docs = append(docs, &Document{
			guid:   result.GUID,
			dir:    d,
			record: d.store.Get(result.GUID),
			cached: result.Props,
		})
	}
	return docs, total, nil
}

// SetBlob streams BLOB content into prop. The index seqno is restamped
// when the record is consistent, so the change reaches sync diffs.
func (d *Directory) SetBlob(guid, prop string, src io.Reader, mimeType string) error {
	p, ok := d.meta.Property(prop)
	if !ok || !p.Blob {
		return errs.Newf(errs.BadRequest, "property %q in %q is not a BLOB", prop, d.Name())
	}
	if mimeType == "" {
		mimeType = p.MimeType
	}
	seqno := d.volume.seqno.Next()
	record := d.store.Get(guid)
	if err := record.SetBlob(prop, src, &storage.Meta{Seqno: seqno, MimeType: mimeType}); err != nil {
		return err
	}
	if err := d.volume.seqno.Commit(); err != nil {
		return err
	}
	if record.Consistent() {
		if err := record.Set("guid", &storage.Meta{Value: guid, Seqno: seqno}); err != nil {
			return err
		}
		doc, err := d.Get(guid)
		if err != nil {
			return err
		}
		props, err := doc.Properties()
		if err != nil {
			return err
		}
		props["seqno"] = seqno
		d.proxy.Store(guid, props, nil, false)
		d.volume.Notify(Event{Event: "update", Document: d.Name(), GUID: guid, Seqno: seqno,
			Props: map[string]any{prop: nil}})
	}
	return nil
}

// Commit forces an index flush for this directory.
func (d *Directory) Commit() {
	d.proxy.Commit()
	d.volume.Notify(Event{Event: "commit", Document: d.Name(), Seqno: d.volume.seqno.Value()})
}

// Populate reindexes records whose marker changed after the last
// commit checkpoint. Unreadable records are invalidated and skipped.
func (d *Directory) Populate(ctx context.Context) error {
	since := d.idx.Mtime()
	err := d.store.Walk(ctx, since, func(guid string) error {
		record := d.store.Get(guid)
		props, _, err := d.recordProps(record)
		if err != nil {
			d.logger.Warn().Err(err).Str("guid", guid).Msg("cannot read record, invalidating it")
			return record.Invalidate()
		}
		d.proxy.Store(guid, props, nil, false)
		return nil
	})
	if err != nil {
		return err
	}
	if err := writeLayout(d.root); err != nil {
		return err
	}
	d.Commit()
	return nil
}

// Diff yields per-document property diffs for every record whose seqno
// falls into accept, ordered by seqno. Only properties whose own seqno
// is accepted are emitted.
func (d *Directory) Diff(ctx context.Context, accept *sequence.Sequence,
	fn func(guid string, seqno int64, diff map[string]PropDiff) error) error {

	type candidate struct {
		guid  string
		seqno int64
	}
	var candidates []candidate
	err := d.store.Walk(ctx, -1, func(guid string) error {
		record := d.store.Get(guid)
		meta, err := record.Get("guid")
		if err != nil {
			return nil
		}
		if accept.Contains(meta.Seqno) {
			candidates = append(candidates, candidate{guid: guid, seqno: meta.Seqno})
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].seqno < candidates[b].seqno })

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		record := d.store.Get(c.guid)
		props, _, err := d.recordProps(record)
		if err != nil {
			continue
		}
		diff := make(map[string]PropDiff)
		for name := range props {
			meta, err := record.Get(name)
			if err != nil || !accept.Contains(meta.Seqno) {
				continue
			}
			diff[name] = PropDiff{
				Value:    meta.Value,
				Mtime:    meta.Mtime,
				MimeType: meta.MimeType,
				Digest:   meta.Digest,
				URL:      meta.URL,
				Path:     meta.Path,
			}
		}
		if len(diff) == 0 {
			continue
		}
		if err := fn(c.guid, c.seqno, diff); err != nil {
			return err
		}
	}
	return nil
}

// Merge applies an incoming diff with last-writer-wins per property
// mtime. It reports the stamped seqno and whether anything was
// accepted.
func (d *Directory) Merge(guid string, diff map[string]PropDiff, incrementSeqno bool) (int64, bool, error) {
	record := d.store.Get(guid)
	existed := record.Consistent()

	var seqno int64
	merged := false
	accept := func(name string, pd PropDiff) error {
		if incrementSeqno && seqno == 0 {
			seqno = d.volume.seqno.Next()
		}
		meta := &storage.Meta{
			Value:    pd.Value,
			Seqno:    seqno,
			Mtime:    pd.Mtime,
			MimeType: pd.MimeType,
			Digest:   pd.Digest,
			URL:      pd.URL,
		}
		if pd.Path != "" {
			return record.SetBlobFromFile(name, pd.Path, meta)
		}
		return record.Set(name, meta)
	}

	// The guid marker goes last so a crash mid-merge leaves an
	// inconsistent record for populate to discard
	names := make([]string, 0, len(diff))
	for name := range diff {
		if name != "guid" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := diff["guid"]; ok {
		names = append(names, "guid")
	}

	for _, name := range names {
		pd := diff[name]
		orig, err := record.Get(name)
		if err == nil && orig.Mtime >= pd.Mtime {
			continue
		}
		if err != nil && !errs.IsKind(err, errs.NotFound) {
			return 0, false, err
		}
		if err := accept(name, pd); err != nil {
			return 0, false, err
		}
		merged = true
	}
	if !merged {
		return 0, false, nil
	}
	if incrementSeqno {
		if err := d.volume.seqno.Commit(); err != nil {
			return 0, false, err
		}
	}

	if record.Consistent() {
		props, docSeqno, err := d.recordProps(record)
		if err != nil {
			return 0, false, err
		}
		if seqno == 0 {
			seqno = docSeqno
		}
		d.proxy.Store(guid, props, nil, !existed)
		kind := "update"
		if !existed {
			kind = "create"
		}
		d.volume.Notify(Event{Event: kind, Document: d.Name(), GUID: guid, Seqno: seqno})
	}
	return seqno, true, nil
}

// recordProps loads the full stored property map plus the document
// seqno.
func (d *Directory) recordProps(record *storage.Record) (map[string]any, int64, error) {
	names, err := record.Props()
	if err != nil {
		return nil, 0, err
	}
	props := make(map[string]any)
	var seqno int64
	for _, name := range names {
		meta, err := record.Get(name)
		if err != nil {
			return nil, 0, err
		}
		if _, ok := d.meta.Property(name); ok {
			props[name] = meta.Value
		}
		if meta.Seqno > seqno {
			seqno = meta.Seqno
		}
	}
	props["seqno"] = seqno
	return props, seqno, nil
}

// cast validates incoming properties against the schema. Access bits
// are the command dispatcher's concern; internal writers (sync merge,
// logical delete) pass through unchecked.
func (d *Directory) cast(props map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for name, value := range props {
		p, ok := d.meta.Property(name)
		if !ok {
			return nil, errs.Newf(errs.BadRequest, "unknown property %q in %q", name, d.Name())
		}
		if p.Blob {
			return nil, errs.Newf(errs.BadRequest, "BLOB property %q cannot be set inline", name)
		}
		cast, err := p.Cast(value)
		if err != nil {
			return nil, err
		}
		out[name] = cast
	}
	return out, nil
}

func (d *Directory) writeRecord(record *storage.Record, props map[string]any, seqno, mtime int64) error {
	for name, value := range props {
		if name == "guid" || name == "seqno" {
			continue
		}
		if err := record.Set(name, &storage.Meta{Value: value, Seqno: seqno, Mtime: mtime}); err != nil {
			return err
		}
	}
	// The guid marker lands last; its rename makes the record
	// consistent
	return record.Set("guid", &storage.Meta{Value: record.GUID(), Seqno: seqno, Mtime: mtime})
}

func readLayout(root string) int {
	data, err := os.ReadFile(filepath.Join(root, "layout"))
	if err != nil {
		return 0
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return version
}

func writeLayout(root string) error {
	data := []byte(strconv.Itoa(layoutVersion) + "\n")
	return os.WriteFile(filepath.Join(root, "layout"), data, 0o644)
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for name, value := range in {
		out[name] = value
	}
	return out
}
