package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugar-network/node/pkg/errs"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "context"))
	require.NoError(t, err)
	return s
}

func TestSetGetRoundtrip(t *testing.T) {
	s := newStore(t)
	record := s.Get("guid-1")
	assert.False(t, record.Exists())
	assert.False(t, record.Consistent())

	require.NoError(t, record.Set("title", &Meta{Value: "Hi", Seqno: 1, Mtime: 100}))
	assert.True(t, record.Exists())
	assert.False(t, record.Consistent())

	require.NoError(t, record.Set("guid", &Meta{Value: "guid-1", Seqno: 1, Mtime: 100}))
	assert.True(t, record.Consistent())

	meta, err := record.Get("title")
	require.NoError(t, err)
	assert.Equal(t, "Hi", meta.Value)
	assert.Equal(t, int64(1), meta.Seqno)
	assert.Equal(t, int64(100), meta.Mtime)

	_, err = record.Get("absent")
	assert.True(t, errs.IsKind(err, errs.NotFound))
}

func TestFanoutLayout(t *testing.T) {
	s := newStore(t)
	record := s.Get("abcdef")
	require.NoError(t, record.Set("guid", &Meta{Value: "abcdef"}))

	_, err := os.Stat(filepath.Join(s.Root(), "ab", "abcdef", "guid"))
	assert.NoError(t, err)
}

func TestSetStampsMtime(t *testing.T) {
	s := newStore(t)
	record := s.Get("guid-1")
	require.NoError(t, record.Set("title", &Meta{Value: "Hi"}))

	meta, err := record.Get("title")
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), meta.Mtime, 5)
}

func TestBlobDigestAndPath(t *testing.T) {
	s := newStore(t)
	record := s.Get("guid-1")
	payload := []byte("blob bytes")

	require.NoError(t, record.SetBlob("preview", bytes.NewReader(payload), &Meta{
		Seqno:    2,
		MimeType: "image/png",
	}))

	meta, err := record.Get("preview")
	require.NoError(t, err)

	sum := sha1.Sum(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.Digest)
	assert.Equal(t, "image/png", meta.MimeType)
	assert.Equal(t, record.BlobPath("preview"), meta.Path)

	stored, err := os.ReadFile(meta.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestDeleteAndInvalidate(t *testing.T) {
	s := newStore(t)
	record := s.Get("guid-1")
	require.NoError(t, record.Set("guid", &Meta{Value: "guid-1"}))
	require.NoError(t, record.Set("title", &Meta{Value: "Hi"}))

	require.NoError(t, record.Invalidate())
	assert.False(t, record.Consistent())
	assert.True(t, record.Exists())

	require.NoError(t, s.Delete("guid-1"))
	assert.False(t, s.Get("guid-1").Exists())
}

func TestWalkSkipsInconsistent(t *testing.T) {
	s := newStore(t)

	first := s.Get("guid-1")
	require.NoError(t, first.Set("guid", &Meta{Value: "guid-1"}))

	second := s.Get("guid-2")
	require.NoError(t, second.Set("title", &Meta{Value: "no marker"}))

	var seen []string
	require.NoError(t, s.Walk(context.Background(), 0, func(guid string) error {
		seen = append(seen, guid)
		return nil
	}))
	assert.Equal(t, []string{"guid-1"}, seen)
}

func TestWalkSince(t *testing.T) {
	s := newStore(t)
	record := s.Get("guid-1")
	require.NoError(t, record.Set("guid", &Meta{Value: "guid-1"}))

	count := 0
	require.NoError(t, s.Walk(context.Background(), time.Now().Unix()+10, func(string) error {
		count++
		return nil
	}))
	assert.Zero(t, count)
}

func TestProps(t *testing.T) {
	s := newStore(t)
	record := s.Get("guid-1")
	require.NoError(t, record.Set("guid", &Meta{Value: "guid-1"}))
	require.NoError(t, record.Set("title", &Meta{Value: "Hi"}))
	require.NoError(t, record.SetBlob("preview", bytes.NewReader([]byte("x")), nil))

	props, err := record.Props()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"guid", "title", "preview"}, props)
}
