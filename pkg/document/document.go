package document

import (
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/schema"
	"github.com/sugar-network/node/pkg/storage"
)

// Document is an in-memory view of one stored document, overlay pages
// included. It implements schema.Doc for getter and setter hooks.
type Document struct {
	guid   string
	dir    *Directory
	record *storage.Record
	// cached holds overlay property values not yet visible in the
	// record store.
	cached map[string]any
}

// GUID returns the document identifier.
func (d *Document) GUID() string {
	return d.guid
}

// Directory returns the owning directory.
func (d *Document) Directory() *Directory {
	return d.dir
}

// Get returns the current value of prop: overlay first, then the
// record, then the schema default.
func (d *Document) Get(prop string) (any, error) {
	p, ok := d.dir.meta.Property(prop)
	if !ok {
		return nil, errs.Newf(errs.NotFound, "property %q is absent in %q", prop, d.dir.meta.Name())
	}
	if value, ok := d.cached[prop]; ok {
		return value, nil
	}
	meta, err := d.record.Get(prop)
	if err != nil {
		if errs.IsKind(err, errs.NotFound) {
			return p.Default, nil
		}
		return nil, err
	}
	if p.Blob {
		return meta, nil
	}
	return meta.Value, nil
}

// GetLocalized resolves a localized property against an
// accept-language list.
func (d *Document) GetLocalized(prop string, accept []string) (string, error) {
	value, err := d.Get(prop)
	if err != nil {
		return "", err
	}
	return schema.LocalizedValue(value, accept), nil
}

// Meta returns the raw stored meta of prop, nil when the record does
// not hold it.
func (d *Document) Meta(prop string) (*storage.Meta, error) {
	meta, err := d.record.Get(prop)
	if errs.IsKind(err, errs.NotFound) {
		return nil, nil
	}
	return meta, err
}

// Seqno returns the document's version: the seqno stamped on its guid
// marker, or the overlay seqno when newer.
func (d *Document) Seqno() int64 {
	if value, ok := d.cached["seqno"]; ok {
		if seqno, ok := value.(int64); ok {
			return seqno
		}
	}
	meta, err := d.record.Get("guid")
	if err != nil {
		return 0
	}
	return meta.Seqno
}

// Exists reports whether the backing record is consistent or the
// document lives in the overlay.
func (d *Document) Exists() bool {
	return len(d.cached) > 0 || d.record.Consistent()
}

// Deleted reports whether the layer property carries the
// logical-delete marker.
func (d *Document) Deleted() bool {
	value, err := d.Get("layer")
	if err != nil {
		return false
	}
	layers, ok := value.([]any)
	if !ok {
		return false
	}
	for _, layer := range layers {
		if layer == "deleted" {
			return true
		}
	}
	return false
}

// Properties collects the document's full property map: stored values
// overlaid with cached ones, defaults for the rest.
func (d *Document) Properties() (map[string]any, error) {
	out := make(map[string]any)
	for _, p := range d.dir.meta.Properties() {
		if p.Blob {
			continue
		}
		value, err := d.Get(p.Name)
		if err != nil {
			return nil, err
		}
		if value != nil {
			out[p.Name] = value
		}
	}
	out["guid"] = d.guid
	if seqno := d.Seqno(); seqno > 0 {
		out["seqno"] = seqno
	}
	return out, nil
}
