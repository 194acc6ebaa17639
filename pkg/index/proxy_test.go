package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProxy(t *testing.T) (*Proxy, *Queue) {
	t.Helper()
	meta := testMeta(t)
	idx, err := Open(filepath.Join(t.TempDir(), "index"), meta)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	q := NewQueue(QueueConfig{FlushThreshold: 1000, FlushTimeout: time.Hour},
		func(string) *Index { return idx })
	q.Start()
	t.Cleanup(q.Close)
	return NewProxy(idx, q, meta), q
}

func TestOverlayVisibleBeforeCommit(t *testing.T) {
	proxy, q := testProxy(t)

	proxy.Store("guid-1", map[string]any{"title": "First", "type": []any{"activity"}}, nil, true)
	proxy.Store("guid-2", map[string]any{"title": "Second", "type": []any{"activity"}}, nil, true)

	results, total, err := proxy.Find(&Query{Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)
	found := map[string]string{}
	for _, r := range results {
		found[r.GUID], _ = r.Props["title"].(string)
	}
	assert.Equal(t, map[string]string{"guid-1": "First", "guid-2": "Second"}, found)

	// The same result after the writer commits and the overlay drops
	proxy.Commit()
	q.Wait()
	results, total, err = proxy.Find(&Query{Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)
}

func TestOverlayExactTermMatch(t *testing.T) {
	proxy, _ := testProxy(t)

	proxy.Store("guid-1", map[string]any{"type": []any{"activity", "game"}}, nil, true)
	proxy.Store("guid-2", map[string]any{"type": []any{"content"}}, nil, true)

	q := &Query{Limit: -1}
	q.Filter("type", "activity")
	results, total, err := proxy.Find(q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "guid-1", results[0].GUID)
}

func TestOverlayDelete(t *testing.T) {
	proxy, q := testProxy(t)

	proxy.Store("guid-1", map[string]any{"title": "Keep"}, nil, true)
	proxy.Store("guid-2", map[string]any{"title": "Drop"}, nil, true)
	proxy.Commit()
	q.Wait()

	orig := map[string]any{"title": "Drop"}
	proxy.Delete("guid-2", orig)

	results, total, err := proxy.Find(&Query{Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "guid-1", results[0].GUID)
}

func TestOverlayUpdateOverridesProps(t *testing.T) {
	proxy, q := testProxy(t)

	proxy.Store("guid-1", map[string]any{"title": "Old", "type": []any{"activity"}}, nil, true)
	proxy.Commit()
	q.Wait()

	orig := map[string]any{"title": "Old", "type": []any{"activity"}}
	proxy.Store("guid-1", map[string]any{"title": "New", "type": []any{"activity"}}, orig, false)

	fq := &Query{Limit: -1}
	fq.Filter("type", "activity")
	results, total, err := proxy.Find(fq)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "New", results[0].Props["title"])
}

func TestOverlayUpdateRemovesFromOldTermResults(t *testing.T) {
	proxy, q := testProxy(t)

	proxy.Store("guid-1", map[string]any{"type": []any{"activity"}}, nil, true)
	proxy.Commit()
	q.Wait()

	orig := map[string]any{"type": []any{"activity"}}
	proxy.Store("guid-1", map[string]any{"type": []any{"content"}}, orig, false)

	fq := &Query{Limit: -1}
	fq.Filter("type", "activity")
	_, total, err := proxy.Find(fq)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetCached(t *testing.T) {
	proxy, _ := testProxy(t)

	_, _, ok := proxy.GetCached("guid-1")
	assert.False(t, ok)

	proxy.Store("guid-1", map[string]any{"title": "Hi"}, nil, true)
	props, deleted, ok := proxy.GetCached("guid-1")
	assert.True(t, ok)
	assert.False(t, deleted)
	assert.Equal(t, "Hi", props["title"])

	proxy.Delete("guid-1", nil)
	_, deleted, ok = proxy.GetCached("guid-1")
	assert.True(t, ok)
	assert.True(t, deleted)
}

func TestFindByGUIDShortCircuit(t *testing.T) {
	proxy, _ := testProxy(t)

	proxy.Store("guid-1", map[string]any{"title": "Cached only"}, nil, true)

	q := &Query{Limit: -1}
	q.Filter("guid", "guid-1")
	results, total, err := proxy.Find(q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "Cached only", results[0].Props["title"])
}
