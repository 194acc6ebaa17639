package document

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/index"
	"github.com/sugar-network/node/pkg/schema"
	"github.com/sugar-network/node/pkg/sequence"
)

func testClass(t *testing.T) *schema.Metadata {
	t.Helper()
	meta, err := schema.New("context",
		&schema.Property{
			Name:     "type",
			Access:   schema.AccessPublic,
			Prefix:   "T",
			Typecast: schema.ListCast{Of: schema.StringCast{}},
		},
		&schema.Property{
			Name:      "title",
			Access:    schema.AccessPublic,
			Prefix:    "N",
			Slot:      1,
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:    "summary",
			Access:  schema.AccessPublic,
			Default: "",
		},
		&schema.Property{
			Name:     "preview",
			Access:   schema.AccessPublic,
			Blob:     true,
			MimeType: "image/png",
		},
	)
	require.NoError(t, err)
	return meta
}

func testVolume(t *testing.T) *Volume {
	t.Helper()
	v, err := OpenVolume(t.TempDir(), []*schema.Metadata{testClass(t)},
		index.QueueConfig{FlushThreshold: 1000, FlushTimeout: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestCreateGetRoundtrip(t *testing.T) {
	v := testVolume(t)
	dir, err := v.Directory("context")
	require.NoError(t, err)

	guid, err := dir.Create(map[string]any{
		"type":  []any{"activity"},
		"title": "Hi",
	})
	require.NoError(t, err)
	require.NoError(t, schema.ValidateGUID(guid))

	doc, err := dir.Get(guid)
	require.NoError(t, err)

	title, err := doc.GetLocalized("title", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi", title)

	summary, err := doc.Get("summary")
	require.NoError(t, err)
	assert.Equal(t, "", summary)

	ctime, err := doc.Get("ctime")
	require.NoError(t, err)
	mtime, err := doc.Get("mtime")
	require.NoError(t, err)
	assert.Equal(t, ctime, mtime)
	assert.InDelta(t, time.Now().Unix(), ctime, 5)

	assert.Equal(t, int64(1), doc.Seqno())
}

func TestCreateRequiresProps(t *testing.T) {
	v := testVolume(t)
	dir, _ := v.Directory("context")

	_, err := dir.Create(map[string]any{"title": "no type"})
	assert.True(t, errs.IsKind(err, errs.BadRequest))
}

func TestCreateRejectsDuplicateGUID(t *testing.T) {
	v := testVolume(t)
	dir, _ := v.Directory("context")

	_, err := dir.Create(map[string]any{
		"guid": "org.laptop.Chat", "type": []any{"activity"}, "title": "Chat",
	})
	require.NoError(t, err)

	_, err = dir.Create(map[string]any{
		"guid": "org.laptop.Chat", "type": []any{"activity"}, "title": "Again",
	})
	assert.True(t, errs.IsKind(err, errs.BadRequest))
}

func TestUpdateAdvancesSeqnoAndMtime(t *testing.T) {
	v := testVolume(t)
	dir, _ := v.Directory("context")

	guid, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "Old"})
	require.NoError(t, err)
	doc, _ := dir.Get(guid)
	before := doc.Seqno()

	require.NoError(t, dir.Update(guid, map[string]any{"title": "New"}))

	doc, err = dir.Get(guid)
	require.NoError(t, err)
	title, _ := doc.GetLocalized("title", nil)
	assert.Equal(t, "New", title)
	assert.Greater(t, doc.Seqno(), before)

	// Untouched properties survive
	value, err := doc.Get("type")
	require.NoError(t, err)
	assert.Equal(t, []any{"activity"}, value)
}

func TestLocalizedUpdateMergesLanguages(t *testing.T) {
	schema.SetDefaultLang("en")
	v := testVolume(t)
	dir, _ := v.Directory("context")

	guid, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "Hello"})
	require.NoError(t, err)
	require.NoError(t, dir.Update(guid, map[string]any{
		"title": map[string]any{"es": "Hola"},
	}))

	doc, _ := dir.Get(guid)
	value, err := doc.Get("title")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"en": "Hello", "es": "Hola"}, value)
}

func TestFindBeforeAndAfterCommit(t *testing.T) {
	v := testVolume(t)
	dir, _ := v.Directory("context")

	_, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "A"})
	require.NoError(t, err)
	_, err = dir.Create(map[string]any{"type": []any{"content"}, "title": "B"})
	require.NoError(t, err)

	q := &index.Query{Limit: -1}
	q.Filter("type", "activity")
	docs, total, err := dir.Find(q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	title, _ := docs[0].GetLocalized("title", nil)
	assert.Equal(t, "A", title)

	dir.Commit()
	v.Queue().Wait()

	docs, total, err = dir.Find(q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
}

func TestDelete(t *testing.T) {
	v := testVolume(t)
	dir, _ := v.Directory("context")

	guid, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "Gone"})
	require.NoError(t, err)
	require.NoError(t, dir.Delete(guid))

	_, err = dir.Get(guid)
	assert.True(t, errs.IsKind(err, errs.NotFound))

	_, total, err := dir.Find(&index.Query{Limit: -1})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSetBlob(t *testing.T) {
	v := testVolume(t)
	dir, _ := v.Directory("context")

	guid, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "Hi"})
	require.NoError(t, err)
	require.NoError(t, dir.SetBlob(guid, "preview", bytes.NewReader([]byte("png bytes")), ""))

	doc, _ := dir.Get(guid)
	meta, err := doc.Meta("preview")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "image/png", meta.MimeType)
	assert.NotEmpty(t, meta.Digest)
	assert.NotEmpty(t, meta.Path)
}

func TestDeletedLayerTranslatesToDeleteEvent(t *testing.T) {
	v := testVolume(t)
	dir, _ := v.Directory("context")

	guid, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "Hi"})
	require.NoError(t, err)

	events, cancel := v.Subscribe(Condition{"event": "delete"})
	defer cancel()

	require.NoError(t, dir.Update(guid, map[string]any{"layer": []any{"public", "deleted"}}))

	select {
	case event := <-events:
		assert.Equal(t, "delete", event.Event)
		assert.Equal(t, guid, event.GUID)
	case <-time.After(time.Second):
		t.Fatal("no delete event")
	}
}

func TestPopulateRebuildsIndex(t *testing.T) {
	root := t.TempDir()
	classes := []*schema.Metadata{testClass(t)}
	qcfg := index.QueueConfig{FlushThreshold: 1000, FlushTimeout: time.Hour}

	v, err := OpenVolume(root, classes, qcfg)
	require.NoError(t, err)
	dir, _ := v.Directory("context")
	guid, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "Hi"})
	require.NoError(t, err)
	require.NoError(t, v.Close())

	// Simulate index loss
	require.NoError(t, os.RemoveAll(root+"/context/index"))

	v, err = OpenVolume(root, classes, qcfg)
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, v.Populate(context.Background()))
	v.Queue().Wait()

	dir, _ = v.Directory("context")
	q := &index.Query{Limit: -1}
	q.Filter("type", "activity")
	docs, total, err := dir.Find(q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, guid, docs[0].GUID())
}

func TestStaleLayoutDropsIndex(t *testing.T) {
	root := t.TempDir()
	classes := []*schema.Metadata{testClass(t)}
	qcfg := index.QueueConfig{FlushThreshold: 1000, FlushTimeout: time.Hour}

	v, err := OpenVolume(root, classes, qcfg)
	require.NoError(t, err)
	dir, _ := v.Directory("context")
	guid, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "Hi"})
	require.NoError(t, err)
	require.NoError(t, v.Close())

	require.NoError(t, os.WriteFile(root+"/context/layout", []byte("1\n"), 0o644))

	v, err = OpenVolume(root, classes, qcfg)
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, v.Populate(context.Background()))
	v.Queue().Wait()

	dir, _ = v.Directory("context")
	doc, err := dir.Get(guid)
	require.NoError(t, err)
	assert.Equal(t, guid, doc.GUID())
	_, total, err := dir.Find(&index.Query{Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestDiffMergeConvergence(t *testing.T) {
	qcfg := index.QueueConfig{FlushThreshold: 1000, FlushTimeout: time.Hour}
	a, err := OpenVolume(t.TempDir(), []*schema.Metadata{testClass(t)}, qcfg)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenVolume(t.TempDir(), []*schema.Metadata{testClass(t)}, qcfg)
	require.NoError(t, err)
	defer b.Close()

	dirA, _ := a.Directory("context")
	dirB, _ := b.Directory("context")

	guid, err := dirA.Create(map[string]any{"type": []any{"activity"}, "title": "From A"})
	require.NoError(t, err)

	accept := sequence.NewInitial(1, sequence.Open)
	count := 0
	err = dirA.Diff(context.Background(), accept,
		func(diffGUID string, seqno int64, diff map[string]PropDiff) error {
			count++
			assert.Equal(t, guid, diffGUID)
			_, merged, err := dirB.Merge(diffGUID, diff, false)
			require.NoError(t, err)
			assert.True(t, merged)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	doc, err := dirB.Get(guid)
	require.NoError(t, err)
	title, _ := doc.GetLocalized("title", nil)
	assert.Equal(t, "From A", title)

	// Merging the same diff again is a no-op
	err = dirA.Diff(context.Background(), accept,
		func(diffGUID string, seqno int64, diff map[string]PropDiff) error {
			_, merged, err := dirB.Merge(diffGUID, diff, false)
			require.NoError(t, err)
			assert.False(t, merged)
			return nil
		})
	require.NoError(t, err)
}

func TestDiffHonorsAcceptRange(t *testing.T) {
	v := testVolume(t)
	dir, _ := v.Directory("context")

	_, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "first"})
	require.NoError(t, err)
	second, err := dir.Create(map[string]any{"type": []any{"activity"}, "title": "second"})
	require.NoError(t, err)

	accept := sequence.New(sequence.Range{Start: 2, End: 2})
	var guids []string
	err = dir.Diff(context.Background(), accept,
		func(guid string, seqno int64, diff map[string]PropDiff) error {
			guids = append(guids, guid)
			assert.Equal(t, int64(2), seqno)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{second}, guids)
}
