package storage

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/sugar-network/node/pkg/errs"
)

// Meta is the serialized state of one property.
type Meta struct {
	Value    any    `json:"value,omitempty"`
	Seqno    int64  `json:"seqno"`
	Mtime    int64  `json:"mtime"`
	MimeType string `json:"mime_type,omitempty"`
	Digest   string `json:"digest,omitempty"`
	URL      string `json:"url,omitempty"`
	// Path points at the BLOB sidecar; it is filled on read, never
	// persisted.
	Path string `json:"-"`
}

// Record is a handle on one document's on-disk state. The handle is
// valid whether or not the record exists.
type Record struct {
	guid string
	path string
}

// GUID returns the record's document GUID.
func (r *Record) GUID() string {
	return r.guid
}

// Path returns the record directory.
func (r *Record) Path() string {
	return r.path
}

// Exists reports whether any property file has been written.
func (r *Record) Exists() bool {
	_, err := os.Stat(r.path)
	return err == nil
}

// Consistent reports whether the guid marker is present. Property files
// without the marker belong to an interrupted ingest.
func (r *Record) Consistent() bool {
	_, err := os.Stat(filepath.Join(r.path, "guid"))
	return err == nil
}

// Get reads the stored meta of prop. BLOB properties get Path filled
// when the sidecar exists.
func (r *Record) Get(prop string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(r.path, prop))
	if os.IsNotExist(err) {
		return nil, errs.Newf(errs.NotFound, "property %q is absent in %q record", prop, r.guid)
	}
	if err != nil {
		return nil, err
	}
	meta := &Meta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, err
	}
	blob := r.BlobPath(prop)
	if _, err := os.Stat(blob); err == nil {
		meta.Path = blob
	}
	return meta, nil
}

// Set writes prop's meta atomically. A zero Mtime is stamped with the
// current time. Writing the guid property also syncs the parent
// directory, making the consistency marker durable.
func (r *Record) Set(prop string, meta *Meta) error {
	if meta.Mtime == 0 {
		meta.Mtime = time.Now().Unix()
	}
	if err := os.MkdirAll(r.path, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(filepath.Join(r.path, prop), bytes.NewReader(data)); err != nil {
		return err
	}
	if prop == "guid" {
		return syncDir(r.path)
	}
	return nil
}

// SetBlob streams src into prop's sidecar, computing its SHA-1 digest,
// then writes the meta. The sidecar is renamed into place before the
// meta, so a meta with a digest always has its bytes.
func (r *Record) SetBlob(prop string, src io.Reader, meta *Meta) error {
	if err := os.MkdirAll(r.path, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(r.path, prop+".blob.*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	digest := sha1.New()
	if _, err := io.Copy(io.MultiWriter(tmp, digest), src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), r.BlobPath(prop)); err != nil {
		return err
	}

	if meta == nil {
		meta = &Meta{}
	}
	meta.Digest = hex.EncodeToString(digest.Sum(nil))
	return r.Set(prop, meta)
}

// SetBlobFromFile copies the file at src into prop's sidecar.
func (r *Record) SetBlobFromFile(prop, src string, meta *Meta) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.SetBlob(prop, f, meta)
}

// BlobPath returns the sidecar path for prop, whether or not it exists.
func (r *Record) BlobPath(prop string) string {
	return filepath.Join(r.path, prop+".blob")
}

// Invalidate removes the guid marker, flagging the record for the next
// populate pass.
func (r *Record) Invalidate() error {
	err := os.Remove(filepath.Join(r.path, "guid"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Props lists the property names present on disk, sidecars excluded.
func (r *Record) Props() ([]string, error) {
	entries, err := os.ReadDir(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.Contains(name, ".blob") {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
