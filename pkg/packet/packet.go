package packet

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/sugar-network/node/pkg/errs"
)

// Suffix is the file name extension of packet files.
const Suffix = ".packet"

const (
	// DefaultSizeLimit bounds an outgoing packet when no explicit
	// limit is given.
	DefaultSizeLimit = 100 << 20
	// reservedTail is withheld from the byte budget so the trailing
	// commit records, the header entry and the tar terminator always
	// fit.
	reservedTail = 4096

	headerName   = "header"
	recordSuffix = ".record"
	tarBlock     = 512
)

// Header is the packet-level metadata dictionary. The src field is
// mandatory; dst, filename and session are set where the protocol
// needs them.
type Header map[string]any

// String returns the named header field as a string, empty when
// absent or not a string.
func (h Header) String(name string) string {
	s, _ := h[name].(string)
	return s
}

// Record is one decoded packet record. Meta merges the row, the
// record metadata and the packet header, later sources losing to
// earlier ones. Blob is non-nil for blob records and is only valid
// until the iteration callback returns.
type Record struct {
	Meta     map[string]any
	Blob     io.Reader
	BlobSize int64
}

// String returns the named metadata field as a string.
func (r *Record) String(name string) string {
	s, _ := r.Meta[name].(string)
	return s
}

// InPacket reads records from a packet file. The header lives at the
// tail of the archive, so opening scans the file once for the header
// and Records makes a second pass for the payload.
type InPacket struct {
	path   string
	header Header
	temp   bool
}

// OpenInPacket opens a packet file and locates its header.
func OpenInPacket(path string) (*InPacket, error) {
	p := &InPacket{path: path}
	if err := p.readHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewInPacket spools a packet stream to a temporary file and opens
// it. Close removes the spool.
func NewInPacket(stream io.Reader) (*InPacket, error) {
	spool, err := os.CreateTemp("", "packet-in-*")
	if err != nil {
		return nil, errs.Newf(errs.Internal, "cannot spool packet: %s", err)
	}
	if _, err = io.Copy(spool, stream); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, errs.Newf(errs.BadRequest, "truncated packet stream: %s", err)
	}
	if err = spool.Close(); err != nil {
		os.Remove(spool.Name())
		return nil, errs.Newf(errs.Internal, "cannot spool packet: %s", err)
	}
	p, err := OpenInPacket(spool.Name())
	if err != nil {
		os.Remove(spool.Name())
		return nil, err
	}
	p.temp = true
	return p, nil
}

// Header returns the packet header.
func (p *InPacket) Header() Header {
	return p.header
}

// Path returns the packet file path.
func (p *InPacket) Path() string {
	return p.path
}

// Close releases the packet, removing the spool file when the packet
// was opened from a stream.
func (p *InPacket) Close() error {
	if p.temp {
		return os.Remove(p.path)
	}
	return nil
}

func (p *InPacket) openTar() (*tar.Reader, io.Closer, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return nil, nil, err
	}
	buffered := bufio.NewReader(file)
	magic, err := buffered.Peek(3)
	if err != nil {
		file.Close()
		return nil, nil, errs.Newf(errs.BadRequest, "packet too short: %s", err)
	}
	var payload io.Reader = buffered
	switch {
	case magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			file.Close()
			return nil, nil, errs.Newf(errs.BadRequest, "malformed gzip packet: %s", err)
		}
		payload = gz
	case bytes.Equal(magic, []byte("BZh")):
		payload = bzip2.NewReader(buffered)
	}
	return tar.NewReader(payload), file, nil
}

func (p *InPacket) readHeader() error {
	tr, closer, err := p.openTar()
	if err != nil {
		return err
	}
	defer closer.Close()
	for {
		entry, err := tr.Next()
		if err == io.EOF {
			return errs.New(errs.BadRequest, "packet has no header")
		}
		if err != nil {
			return errs.Newf(errs.BadRequest, "malformed packet: %s", err)
		}
		if entry.Name != headerName {
			continue
		}
		var header Header
		if err := json.NewDecoder(tr).Decode(&header); err != nil {
			return errs.Newf(errs.BadRequest, "malformed packet header: %s", err)
		}
		p.header = header
		return nil
	}
}

// Records walks the packet and calls fn for every record whose merged
// metadata matches all filters. Nested packets are descended into.
// Returning an error from fn stops the walk.
func (p *InPacket) Records(filters map[string]any, fn func(*Record) error) error {
	tr, closer, err := p.openTar()
	if err != nil {
		return err
	}
	defer closer.Close()

	for {
		entry, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.Newf(errs.BadRequest, "malformed packet: %s", err)
		}
		switch {
		case entry.Name == headerName:
			// trailer, payload is done
		case strings.HasSuffix(entry.Name, Suffix):
			if err := p.nested(tr, filters, fn); err != nil {
				return err
			}
		case strings.HasSuffix(entry.Name, recordSuffix):
			if err := p.record(tr, entry, filters, fn); err != nil {
				return err
			}
		}
	}
}

func (p *InPacket) record(tr *tar.Reader, entry *tar.Header, filters map[string]any, fn func(*Record) error) error {
	var meta map[string]any
	if err := json.NewDecoder(io.LimitReader(tr, entry.Size)).Decode(&meta); err != nil {
		return errs.Newf(errs.BadRequest, "malformed record %q: %s", entry.Name, err)
	}
	contentType, _ := meta["content_type"].(string)
	if contentType == "" {
		record := &Record{Meta: p.merge(meta, nil)}
		if matches(record.Meta, filters) {
			return fn(record)
		}
		return nil
	}

	companion, err := tr.Next()
	if err != nil || companion.Name != strings.TrimSuffix(entry.Name, recordSuffix) {
		return errs.Newf(errs.BadRequest, "record %q has no companion entry", entry.Name)
	}
	if contentType == "blob" {
		record := &Record{
			Meta:     p.merge(meta, nil),
			Blob:     io.LimitReader(tr, companion.Size),
			BlobSize: companion.Size,
		}
		if matches(record.Meta, filters) {
			return fn(record)
		}
		return nil
	}

	// content_type "records": a stream of JSON rows
	decoder := json.NewDecoder(io.LimitReader(tr, companion.Size))
	for {
		var row map[string]any
		if err := decoder.Decode(&row); err == io.EOF {
			return nil
		} else if err != nil {
			return errs.Newf(errs.BadRequest, "malformed rows in %q: %s", entry.Name, err)
		}
		record := &Record{Meta: p.merge(meta, row)}
		if matches(record.Meta, filters) {
			if err := fn(record); err != nil {
				return err
			}
		}
	}
}

func (p *InPacket) nested(tr *tar.Reader, filters map[string]any, fn func(*Record) error) error {
	inner, err := NewInPacket(tr)
	if err != nil {
		return err
	}
	defer inner.Close()
	return inner.Records(filters, fn)
}

// merge layers row over record metadata over the packet header. The
// content_type marker is internal to the codec and is dropped.
func (p *InPacket) merge(meta, row map[string]any) map[string]any {
	merged := make(map[string]any, len(p.header)+len(meta)+len(row))
	for name, value := range p.header {
		merged[name] = value
	}
	for name, value := range meta {
		merged[name] = value
	}
	for name, value := range row {
		merged[name] = value
	}
	delete(merged, "content_type")
	return merged
}

func matches(meta, filters map[string]any) bool {
	for name, want := range filters {
		if !reflect.DeepEqual(meta[name], want) {
			return false
		}
	}
	return true
}

// OutPacket writes a packet file. Every push is atomic with respect
// to the byte budget: it either lands whole or fails with DiskFull
// leaving the archive well formed. Close appends the header entry,
// which the budget always reserves room for.
type OutPacket struct {
	path   string
	file   *os.File
	gz     *gzip.Writer
	tw     *tar.Writer
	header Header
	limit  int64
	used   int64
	count  int
	closed bool
}

// NewOutPacket creates a gzip-compressed packet file. A limit of 0
// applies DefaultSizeLimit. The budget tracks uncompressed archive
// bytes.
func NewOutPacket(path string, limit int64, header Header) (*OutPacket, error) {
	if limit <= 0 {
		limit = DefaultSizeLimit
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, errs.Newf(errs.Internal, "cannot create packet: %s", err)
	}
	gz := gzip.NewWriter(file)
	return &OutPacket{
		path:   path,
		file:   file,
		gz:     gz,
		tw:     tar.NewWriter(gz),
		header: header,
		limit:  limit,
	}, nil
}

// Header returns the packet header; fields may be set any time before
// Close.
func (p *OutPacket) Header() Header {
	return p.header
}

// Path returns the packet file path.
func (p *OutPacket) Path() string {
	return p.path
}

// Size returns the uncompressed archive bytes used so far.
func (p *OutPacket) Size() int64 {
	return p.used
}

// Empty reports whether nothing has been pushed yet.
func (p *OutPacket) Empty() bool {
	return p.count == 0
}

func entryCost(size int64) int64 {
	return tarBlock + (size+tarBlock-1)/tarBlock*tarBlock
}

func (p *OutPacket) charge(cost int64) error {
	if p.used+cost > p.limit-reservedTail {
		return errs.Newf(errs.DiskFull, "packet limit of %d bytes reached", p.limit)
	}
	return nil
}

func (p *OutPacket) writeEntry(name string, data []byte) error {
	err := p.tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: time.Now(),
	})
	if err == nil {
		_, err = p.tw.Write(data)
	}
	if err != nil {
		return errs.Newf(errs.Internal, "cannot write packet entry: %s", err)
	}
	p.used += entryCost(int64(len(data)))
	return nil
}

func (p *OutPacket) nextName() string {
	p.count++
	return fmt.Sprintf("%08d", p.count)
}

// Push appends a single metadata record.
func (p *OutPacket) Push(meta map[string]any) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return errs.Newf(errs.Internal, "cannot encode record: %s", err)
	}
	if err := p.charge(entryCost(int64(len(encoded)))); err != nil {
		return err
	}
	return p.writeEntry(p.nextName()+recordSuffix, encoded)
}

// PushTail appends a single metadata record drawing on the reserved
// tail budget. Commit records use it so they land even after the
// packet reports DiskFull.
func (p *OutPacket) PushTail(meta map[string]any) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return errs.Newf(errs.Internal, "cannot encode record: %s", err)
	}
	return p.writeEntry(p.nextName()+recordSuffix, encoded)
}

// PushRecords appends a records block: one metadata record plus a
// companion entry of JSON rows.
func (p *OutPacket) PushRecords(meta map[string]any, rows []map[string]any) error {
	withType := make(map[string]any, len(meta)+1)
	for name, value := range meta {
		withType[name] = value
	}
	withType["content_type"] = "records"
	encodedMeta, err := json.Marshal(withType)
	if err != nil {
		return errs.Newf(errs.Internal, "cannot encode record: %s", err)
	}
	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return errs.Newf(errs.Internal, "cannot encode record row: %s", err)
		}
	}
	cost := entryCost(int64(len(encodedMeta))) + entryCost(int64(body.Len()))
	if err := p.charge(cost); err != nil {
		return err
	}
	name := p.nextName()
	if err := p.writeEntry(name+recordSuffix, encodedMeta); err != nil {
		return err
	}
	return p.writeEntry(name, body.Bytes())
}

// PushBlob appends a blob record of exactly size bytes read from
// blob.
func (p *OutPacket) PushBlob(meta map[string]any, blob io.Reader, size int64) error {
	withType := make(map[string]any, len(meta)+1)
	for name, value := range meta {
		withType[name] = value
	}
	withType["content_type"] = "blob"
	encodedMeta, err := json.Marshal(withType)
	if err != nil {
		return errs.Newf(errs.Internal, "cannot encode record: %s", err)
	}
	cost := entryCost(int64(len(encodedMeta))) + entryCost(size)
	if err := p.charge(cost); err != nil {
		return err
	}
	name := p.nextName()
	if err := p.writeEntry(name+recordSuffix, encodedMeta); err != nil {
		return err
	}
	err = p.tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    size,
		Mode:    0o644,
		ModTime: time.Now(),
	})
	if err == nil {
		_, err = io.CopyN(p.tw, blob, size)
	}
	if err != nil {
		return errs.Newf(errs.Internal, "cannot write blob entry: %s", err)
	}
	p.used += entryCost(size)
	return nil
}

// PushPacket embeds a complete packet file under the given name.
func (p *OutPacket) PushPacket(name string, packet io.Reader, size int64) error {
	if !strings.HasSuffix(name, Suffix) {
		name += Suffix
	}
	if err := p.charge(entryCost(size)); err != nil {
		return err
	}
	err := p.tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    size,
		Mode:    0o644,
		ModTime: time.Now(),
	})
	if err == nil {
		_, err = io.CopyN(p.tw, packet, size)
	}
	if err != nil {
		return errs.Newf(errs.Internal, "cannot embed packet: %s", err)
	}
	p.used += entryCost(size)
	return nil
}

// Close writes the header entry and finalizes the archive.
func (p *OutPacket) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	encoded, err := json.Marshal(p.header)
	if err != nil {
		return errs.Newf(errs.Internal, "cannot encode packet header: %s", err)
	}
	if err := p.writeEntry(headerName, encoded); err != nil {
		return err
	}
	if err := p.tw.Close(); err != nil {
		return errs.Newf(errs.Internal, "cannot finalize packet: %s", err)
	}
	if err := p.gz.Close(); err != nil {
		return errs.Newf(errs.Internal, "cannot finalize packet: %s", err)
	}
	if err := p.file.Sync(); err != nil {
		return errs.Newf(errs.Internal, "cannot sync packet: %s", err)
	}
	return p.file.Close()
}

// Clear aborts the packet and removes the partial file.
func (p *OutPacket) Clear() error {
	if !p.closed {
		p.closed = true
		p.tw.Close()
		p.gz.Close()
		p.file.Close()
	}
	return os.Remove(p.path)
}
