package httpd_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugar-network/node/pkg/commands"
	"github.com/sugar-network/node/pkg/document"
	"github.com/sugar-network/node/pkg/httpd"
	"github.com/sugar-network/node/pkg/index"
	"github.com/sugar-network/node/pkg/node"
	"github.com/sugar-network/node/pkg/resources"
)

type env struct {
	ts     *httptest.Server
	volume *document.Volume
}

func newEnv(t *testing.T) *env {
	t.Helper()
	v, err := document.OpenVolume(t.TempDir(), resources.Classes(),
		index.QueueConfig{FlushThreshold: 1000, FlushTimeout: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	registry := commands.NewRegistry()
	node.New(v, registry, node.Config{GUID: "node-1", Master: "master-1"})
	server := httpd.New(v, registry, nil, httpd.Config{})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	e := &env{ts: ts, volume: v}
	status, _ := e.call(t, http.MethodPost, "/user", "user-1",
		map[string]any{"guid": "user-1", "name": "Alice", "pubkey": "ssh-rsa AAAA"})
	require.Equal(t, http.StatusOK, status)
	return e
}

// call issues a JSON request and decodes a JSON reply when one comes
// back.
func (e *env) call(t *testing.T, method, path, principal string, body any) (int, map[string]any) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(data)
	}
	request, err := http.NewRequest(method, e.ts.URL+path, payload)
	require.NoError(t, err)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if principal != "" {
		request.Header.Set("sugar_user", principal)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	var decoded map[string]any
	if strings.HasPrefix(response.Header.Get("Content-Type"), "application/json") {
		data, err := io.ReadAll(response.Body)
		require.NoError(t, err)
		if len(data) > 0 {
			require.NoError(t, json.Unmarshal(data, &decoded), string(data))
		}
	}
	return response.StatusCode, decoded
}

func (e *env) create(t *testing.T, doc string, props map[string]any) string {
	t.Helper()
	status, reply := e.call(t, http.MethodPost, "/"+doc, "user-1", props)
	require.Equal(t, http.StatusOK, status)
	guid, _ := reply["guid"].(string)
	require.NotEmpty(t, guid)
	return guid
}

func TestCreateGetDeleteRoundTrip(t *testing.T) {
	e := newEnv(t)
	guid := e.create(t, "context", map[string]any{
		"type":        []any{"activity"},
		"title":       "Hi",
		"summary":     "s",
		"description": "d",
	})

	status, reply := e.call(t, http.MethodGet,
		"/context/"+guid+"?reply=title,ctime,mtime", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hi", reply["title"])
	assert.Equal(t, reply["ctime"], reply["mtime"])

	status, _ = e.call(t, http.MethodDelete, "/context/"+guid, "user-1", nil)
	require.Equal(t, http.StatusOK, status)

	status, reply = e.call(t, http.MethodGet, "/context/"+guid, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Document deleted", reply["error"])
}

func TestConditionalBlobGet(t *testing.T) {
	e := newEnv(t)
	guid := e.create(t, "context", map[string]any{
		"type": []any{"activity"}, "title": "Hi",
	})

	blob := []byte("png bytes")
	request, err := http.NewRequest(http.MethodPut,
		e.ts.URL+"/context/"+guid+"/preview", bytes.NewReader(blob))
	require.NoError(t, err)
	request.Header.Set("Content-Type", "image/png")
	request.Header.Set("sugar_user", "user-1")
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	response, err = http.Get(e.ts.URL + "/context/" + guid + "/preview")
	require.NoError(t, err)
	body, err := io.ReadAll(response.Body)
	response.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, blob, body)
	assert.Equal(t, "image/png", response.Header.Get("Content-Type"))
	assert.Contains(t, response.Header.Get("Content-Disposition"), "attachment")
	lastModified := response.Header.Get("Last-Modified")
	require.NotEmpty(t, lastModified)

	request, err = http.NewRequest(http.MethodGet,
		e.ts.URL+"/context/"+guid+"/preview", nil)
	require.NoError(t, err)
	request.Header.Set("If-Modified-Since", lastModified)
	response, err = http.DefaultClient.Do(request)
	require.NoError(t, err)
	body, _ = io.ReadAll(response.Body)
	response.Body.Close()
	assert.Equal(t, http.StatusNotModified, response.StatusCode)
	assert.Empty(t, body)
}

func TestFindWithExactTermInQuery(t *testing.T) {
	e := newEnv(t)
	e.create(t, "context", map[string]any{"type": []any{"activity"}, "title": "A"})
	e.create(t, "context", map[string]any{"type": []any{"content"}, "title": "B"})

	status, reply := e.call(t, http.MethodGet,
		"/context?query=type:=activity&reply=title,type", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, reply["total"])
	rows := reply["result"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "A", row["title"])
	assert.Equal(t, []any{"activity"}, row["type"])
}

func TestUnknownPrincipalRejected(t *testing.T) {
	e := newEnv(t)
	status, reply := e.call(t, http.MethodPost, "/context", "ghost",
		map[string]any{"type": []any{"activity"}, "title": "x"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, reply["error"], "ghost")
}

func TestUserCreationSkipsProbe(t *testing.T) {
	e := newEnv(t)
	status, _ := e.call(t, http.MethodPost, "/user", "user-2",
		map[string]any{"guid": "user-2", "name": "Bob", "pubkey": "ssh-rsa BBBB"})
	assert.Equal(t, http.StatusOK, status)
}

func TestNodeInfo(t *testing.T) {
	e := newEnv(t)
	status, reply := e.call(t, http.MethodGet, "/?cmd=info", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "node-1", reply["guid"])
	assert.Equal(t, "master-1", reply["master"])
	documents := reply["documents"].(map[string]any)
	assert.Contains(t, documents, "context")
	assert.Contains(t, documents, "implementation")
}

func TestRobots(t *testing.T) {
	e := newEnv(t)
	response, err := http.Get(e.ts.URL + "/robots.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Contains(t, string(body), "Disallow: /")
}

func TestCORSPreflightFromLocalPage(t *testing.T) {
	e := newEnv(t)
	request, err := http.NewRequest(http.MethodOptions, e.ts.URL+"/context", nil)
	require.NoError(t, err)
	request.Header.Set("Origin", "null")
	request.Header.Set("Access-Control-Request-Method", "POST")
	request.Header.Set("Access-Control-Request-Headers", "Content-Type")
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	assert.Equal(t, "null", response.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST", response.Header.Get("Access-Control-Allow-Methods"))
}

func TestSubscribeStreamsEvents(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.ts.URL+"/?cmd=subscribe", nil)
	require.NoError(t, err)
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, "text/event-stream", response.Header.Get("Content-Type"))

	frames := bufio.NewReader(response.Body)
	handshake := readFrame(t, frames)
	assert.Equal(t, "handshake", handshake["event"])

	guid := e.create(t, "context", map[string]any{
		"type": []any{"activity"}, "title": "Hi",
	})
	for {
		frame := readFrame(t, frames)
		if frame["event"] != "create" {
			continue
		}
		assert.Equal(t, "context", frame["document"])
		assert.Equal(t, guid, frame["guid"])
		return
	}
}

func readFrame(t *testing.T, r *bufio.Reader) map[string]any {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		return frame
	}
}

func TestBadJSONBody(t *testing.T) {
	e := newEnv(t)
	request, err := http.NewRequest(http.MethodPost, e.ts.URL+"/context",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("sugar_user", "user-1")
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestErrorBodyNamesRequest(t *testing.T) {
	e := newEnv(t)
	status, reply := e.call(t, http.MethodGet, "/context/absent", "", nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, reply["error"])
	assert.Equal(t, fmt.Sprintf("%s %s", http.MethodGet, "/context/absent"), reply["request"])
}
