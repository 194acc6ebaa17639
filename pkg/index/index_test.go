package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugar-network/node/pkg/schema"
)

func testMeta(t *testing.T) *schema.Metadata {
	t.Helper()
	meta, err := schema.New("context",
		&schema.Property{
			Name:     "type",
			Access:   schema.AccessPublic,
			Prefix:   "T",
			Typecast: schema.ListCast{Of: schema.StringCast{}},
		},
		&schema.Property{
			Name:     "title",
			Access:   schema.AccessPublic,
			Prefix:   "N",
			Slot:     1,
			FullText: true,
		},
		&schema.Property{
			Name:     "rating",
			Access:   schema.AccessPublic,
			Slot:     2,
			Typecast: schema.IntCast{},
		},
	)
	require.NoError(t, err)
	return meta
}

func testIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index"), testMeta(t))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestStoreAndFindByExactTerm(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Store("guid-1", map[string]any{
		"type": []any{"activity"}, "title": "First",
	}))
	require.NoError(t, idx.Store("guid-2", map[string]any{
		"type": []any{"content"}, "title": "Second",
	}))

	q := &Query{Limit: -1}
	q.Filter("type", "activity")
	guids, total, err := idx.Find(q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"guid-1"}, guids)
}

func TestReplaceDocument(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Store("guid-1", map[string]any{"type": []any{"activity"}}))
	require.NoError(t, idx.Store("guid-1", map[string]any{"type": []any{"content"}}))

	q := &Query{Limit: -1}
	q.Filter("type", "activity")
	_, total, err := idx.Find(q)
	require.NoError(t, err)
	assert.Zero(t, total)

	q = &Query{Limit: -1}
	q.Filter("type", "content")
	guids, total, err := idx.Find(q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"guid-1"}, guids)
}

func TestDelete(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Store("guid-1", map[string]any{"title": "Gone"}))
	require.NoError(t, idx.Delete("guid-1"))

	guids, total, err := idx.Find(&Query{Limit: -1})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, guids)
}

func TestFullTextQuery(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Store("guid-1", map[string]any{"title": "Chat with friends"}))
	require.NoError(t, idx.Store("guid-2", map[string]any{"title": "Paint pictures"}))

	guids, total, err := idx.Find(&Query{Limit: -1, Query: "chat"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"guid-1"}, guids)

	// Exclusion drops matching documents
	guids, total, err = idx.Find(&Query{Limit: -1, Query: "-paint"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"guid-1"}, guids)
}

func TestOrderBySlot(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Store("guid-1", map[string]any{"rating": int64(3)}))
	require.NoError(t, idx.Store("guid-2", map[string]any{"rating": int64(1)}))
	require.NoError(t, idx.Store("guid-3", map[string]any{"rating": int64(2)}))

	guids, _, err := idx.Find(&Query{Limit: -1, OrderBy: "rating"})
	require.NoError(t, err)
	assert.Equal(t, []string{"guid-2", "guid-3", "guid-1"}, guids)

	guids, _, err = idx.Find(&Query{Limit: -1, OrderBy: "-rating"})
	require.NoError(t, err)
	assert.Equal(t, []string{"guid-1", "guid-3", "guid-2"}, guids)
}

func TestRangeFilter(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Store("guid-1", map[string]any{"rating": int64(1)}))
	require.NoError(t, idx.Store("guid-2", map[string]any{"rating": int64(4)}))

	q := &Query{Limit: -1, Query: "rating:2..5"}
	q.Parse()
	guids, total, err := idx.Find(q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"guid-2"}, guids)
}

func TestGroupBy(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Store("guid-1", map[string]any{"rating": int64(1)}))
	require.NoError(t, idx.Store("guid-2", map[string]any{"rating": int64(1)}))
	require.NoError(t, idx.Store("guid-3", map[string]any{"rating": int64(2)}))

	_, total, err := idx.Find(&Query{Limit: -1, GroupBy: "rating"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestOffsetLimit(t *testing.T) {
	idx := testIndex(t)
	for _, guid := range []string{"a", "b", "c", "d"} {
		require.NoError(t, idx.Store(guid, map[string]any{"title": "doc " + guid}))
	}

	guids, total, err := idx.Find(&Query{Offset: 1, Limit: 2, OrderBy: "guid"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"b", "c"}, guids)
}

func TestCommitCheckpointMtime(t *testing.T) {
	idx := testIndex(t)
	assert.Zero(t, idx.Mtime())

	require.NoError(t, idx.Store("guid-1", map[string]any{"title": "Hi"}))
	require.NoError(t, idx.Commit())
	assert.NotZero(t, idx.Mtime())
}

func TestQueryParse(t *testing.T) {
	q := &Query{Query: `type:=activity rating:1..5 title:="Nice One" chat`}
	q.Parse()

	assert.Equal(t, []any{"activity"}, q.Request["type"])
	assert.Equal(t, []any{"Nice One"}, q.Request["title"])
	assert.Equal(t, Range{Min: 1, Max: 5}, q.Ranges["rating"])
	assert.Equal(t, "chat", q.Query)
}
