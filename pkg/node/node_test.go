package node

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugar-network/node/pkg/commands"
	"github.com/sugar-network/node/pkg/document"
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/index"
	"github.com/sugar-network/node/pkg/schema"
	"github.com/sugar-network/node/pkg/storage"
)

func testClasses(t *testing.T) []*schema.Metadata {
	t.Helper()
	user, err := schema.New("user",
		&schema.Property{
			Name:      "name",
			Access:    schema.AccessPublic,
			Prefix:    "N",
			FullText:  true,
			Localized: true,
		},
	)
	require.NoError(t, err)
	context, err := schema.New("context",
		&schema.Property{
			Name:     "type",
			Access:   schema.AccessPublic,
			Prefix:   "T",
			Typecast: schema.ListCast{Of: schema.StringCast{}},
		},
		&schema.Property{
			Name:      "title",
			Access:    schema.AccessPublic,
			Prefix:    "D",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:     "preview",
			Access:   schema.AccessPublic,
			Blob:     true,
			MimeType: "image/png",
		},
	)
	require.NoError(t, err)
	return []*schema.Metadata{user, context}
}

type testNode struct {
	volume   *document.Volume
	registry *commands.Registry
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	v, err := document.OpenVolume(t.TempDir(), testClasses(t),
		index.QueueConfig{FlushThreshold: 1000, FlushTimeout: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	registry := commands.NewRegistry()
	New(v, registry, Config{GUID: "node-1", Master: "master-1"})
	return &testNode{volume: v, registry: registry}
}

func (n *testNode) call(t *testing.T, request *commands.Request) (any, *commands.Response) {
	t.Helper()
	if request.AccessLevel == 0 {
		request.AccessLevel = schema.AccessLocal
	}
	response := commands.NewResponse()
	result, err := n.registry.Call(request, response)
	require.NoError(t, err)
	return result, response
}

func TestInfo(t *testing.T) {
	n := newTestNode(t)
	result, _ := n.call(t, &commands.Request{Method: "GET", Cmd: "info"})
	info := result.(map[string]any)
	assert.Equal(t, "node-1", info["guid"])
	assert.Equal(t, "master-1", info["master"])
	documents := info["documents"].(map[string]any)
	assert.Contains(t, documents, "user")
	assert.Contains(t, documents, "context")
}

func TestCreateStampsAuthor(t *testing.T) {
	n := newTestNode(t)
	_, _ = n.call(t, &commands.Request{
		Method: "POST", Document: "user", Principal: "user-1",
		Content: map[string]any{"guid": "user-1", "name": "Alice"},
	})

	result, _ := n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "user-1",
		Content: map[string]any{"type": []any{"activity"}, "title": "Chat"},
	})
	guid := result.(map[string]any)["guid"].(string)

	dir, _ := n.volume.Directory("context")
	doc, err := dir.Get(guid)
	require.NoError(t, err)
	value, err := doc.Get("author")
	require.NoError(t, err)
	authors := value.(map[string]any)
	entry := authors["user-1"].(map[string]any)
	role := entry["role"]
	assert.EqualValues(t, AuthorOriginal|AuthorInsystem, role)
	assert.EqualValues(t, 0, entry["order"])
	assert.Equal(t, "Alice", entry["name"])
}

func TestCreateRequiresPrincipal(t *testing.T) {
	n := newTestNode(t)
	_, err := n.registry.Call(&commands.Request{
		Method: "POST", Document: "context", AccessLevel: schema.AccessLocal,
		Content: map[string]any{"type": []any{"activity"}, "title": "Chat"},
	}, commands.NewResponse())
	assert.True(t, errs.IsKind(err, errs.Unauthorized))
}

func TestFindWithFilterAndReply(t *testing.T) {
	n := newTestNode(t)
	n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "A"},
	})
	n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"content"}, "title": "B"},
	})

	result, _ := n.call(t, &commands.Request{
		Method: "GET", Document: "context",
		Args: map[string]any{"type": "activity", "reply": "title,type"},
	})
	found := result.(map[string]any)
	assert.Equal(t, 1, found["total"])
	rows := found["result"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["title"])
	assert.Equal(t, []any{"activity"}, rows[0]["type"])
}

func TestFindWithExactTermInQuery(t *testing.T) {
	n := newTestNode(t)
	n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "A"},
	})
	n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"content"}, "title": "B"},
	})

	result, _ := n.call(t, &commands.Request{
		Method: "GET", Document: "context",
		Args: map[string]any{"query": "type:=activity", "reply": "title"},
	})
	found := result.(map[string]any)
	assert.Equal(t, 1, found["total"])
	rows := found["result"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["title"])
}

func TestFindExcludesDeleted(t *testing.T) {
	n := newTestNode(t)
	n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "Kept"},
	})
	result, _ := n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "Gone"},
	})
	guid := result.(map[string]any)["guid"].(string)

	n.call(t, &commands.Request{
		Method: "DELETE", Document: "context", GUID: guid, Principal: "u",
	})

	found, _ := n.call(t, &commands.Request{
		Method: "GET", Document: "context",
		Args: map[string]any{"reply": "guid,title"},
	})
	listing := found.(map[string]any)
	assert.Equal(t, 1, listing["total"])
	rows := listing["result"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Kept", rows[0]["title"])

	// An explicit layer filter cannot resurrect hidden documents.
	found, _ = n.call(t, &commands.Request{
		Method: "GET", Document: "context",
		Args: map[string]any{"layer": "deleted", "reply": "guid"},
	})
	assert.Equal(t, 0, found.(map[string]any)["total"])
}

func TestDeleteReplacesLayer(t *testing.T) {
	n := newTestNode(t)
	result, _ := n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "X"},
	})
	guid := result.(map[string]any)["guid"].(string)

	n.call(t, &commands.Request{
		Method: "DELETE", Document: "context", GUID: guid, Principal: "u",
	})

	dir, _ := n.volume.Directory("context")
	doc, err := dir.Get(guid)
	require.NoError(t, err)
	value, err := doc.Get("layer")
	require.NoError(t, err)
	assert.Equal(t, []any{"deleted"}, value)
}

func TestFindLimitClamped(t *testing.T) {
	n := newTestNode(t)
	for i := 0; i < defaultFindLimit+8; i++ {
		n.call(t, &commands.Request{
			Method: "POST", Document: "context", Principal: "u",
			Content: map[string]any{"type": []any{"activity"}, "title": "Doc"},
		})
	}

	found, _ := n.call(t, &commands.Request{
		Method: "GET", Document: "context",
		Args: map[string]any{"limit": 100000},
	})
	listing := found.(map[string]any)
	assert.Equal(t, defaultFindLimit+8, listing["total"])
	assert.Len(t, listing["result"], defaultFindLimit)
}

func TestSoftDelete(t *testing.T) {
	n := newTestNode(t)
	result, _ := n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "Gone"},
	})
	guid := result.(map[string]any)["guid"].(string)

	n.call(t, &commands.Request{
		Method: "DELETE", Document: "context", GUID: guid, Principal: "u",
	})

	_, err := n.registry.Call(&commands.Request{
		Method: "GET", Document: "context", GUID: guid, AccessLevel: schema.AccessLocal,
	}, commands.NewResponse())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.NotFound))
	assert.Contains(t, err.Error(), "Document deleted")

	deleted, _ := n.call(t, &commands.Request{
		Method: "GET", Cmd: "deleted", Document: "context", GUID: guid,
	})
	assert.Equal(t, true, deleted)

	exists, _ := n.call(t, &commands.Request{
		Method: "GET", Cmd: "exists", Document: "context", GUID: guid,
	})
	assert.Equal(t, true, exists)
}

func TestGetReply(t *testing.T) {
	n := newTestNode(t)
	result, _ := n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "Hi"},
	})
	guid := result.(map[string]any)["guid"].(string)

	row, _ := n.call(t, &commands.Request{
		Method: "GET", Document: "context", GUID: guid,
		Args: map[string]any{"reply": "title,ctime,mtime"},
	})
	reply := row.(map[string]any)
	assert.Equal(t, "Hi", reply["title"])
	assert.Equal(t, reply["ctime"], reply["mtime"])
	assert.Len(t, reply, 3)
}

func TestPropertyRoundtrip(t *testing.T) {
	n := newTestNode(t)
	result, _ := n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "Old"},
	})
	guid := result.(map[string]any)["guid"].(string)

	n.call(t, &commands.Request{
		Method: "PUT", Document: "context", GUID: guid, Prop: "title",
		Principal: "u", Content: "New",
	})

	value, _ := n.call(t, &commands.Request{
		Method: "GET", Document: "context", GUID: guid, Prop: "title",
	})
	assert.Equal(t, "New", value)
}

func TestBlobRoundtrip(t *testing.T) {
	n := newTestNode(t)
	result, _ := n.call(t, &commands.Request{
		Method: "POST", Document: "context", Principal: "u",
		Content: map[string]any{"type": []any{"activity"}, "title": "Hi"},
	})
	guid := result.(map[string]any)["guid"].(string)

	blob := []byte("png bytes")
	request := &commands.Request{
		Method: "PUT", Document: "context", GUID: guid, Prop: "preview",
		Principal: "u", AccessLevel: schema.AccessLocal,
	}
	request.SetStream(bytes.NewReader(blob), int64(len(blob)))
	_, err := n.registry.Call(request, commands.NewResponse())
	require.NoError(t, err)

	value, response := n.call(t, &commands.Request{
		Method: "GET", Document: "context", GUID: guid, Prop: "preview",
	})
	meta, ok := value.(*storage.Meta)
	require.True(t, ok)
	assert.Equal(t, "image/png", meta.MimeType)
	assert.NotEmpty(t, meta.Path)
	assert.Equal(t, "image/png", response.ContentType)
}
