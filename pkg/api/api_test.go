package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/bus"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/database"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/services"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/sessionlock"
)

type testServer struct {
	root  string
	bus   *bus.Bus
	hub   *Hub
	token string
	ts    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()

	client, err := database.NewClient(context.Background(), database.Config{
		Path:        filepath.Join(root, ".gao-dev", "state.db"),
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	token, err := LoadOrCreateToken(root)
	require.NoError(t, err)

	b := bus.New()
	hub := NewHub(events.NewReplayBuffer(100, time.Minute), 8)
	b.SubscribeAll(hub.HandleEvent)

	srv := NewServer("127.0.0.1:0", hub, sessionlock.New(root),
		services.NewThreadService(client.DB()), b, token, "1.0.0-test")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{root: root, bus: b, hub: hub, token: token, ts: ts}
}

// lockByOtherProcess writes a lock file held by the parent process, which is
// alive and is not this process.
func lockByOtherProcess(t *testing.T, root string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(sessionlock.LockFileName))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	raw, err := json.Marshal(map[string]any{
		"interface": "cli",
		"mode":      "write",
		"pid":       os.Getppid(),
		"timestamp": time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func postJSON(t *testing.T, url string, payload any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	code, body := getJSON(t, s.ts.URL+"/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0-test", body["version"])
}

func TestSessionTokenEndpoint(t *testing.T) {
	s := newTestServer(t)
	code, body := getJSON(t, s.ts.URL+"/api/session/token")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, s.token, body["token"])
}

func TestLoadOrCreateToken_Persists(t *testing.T) {
	root := t.TempDir()
	first, err := LoadOrCreateToken(root)
	require.NoError(t, err)
	second, err := LoadOrCreateToken(root)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(TokenFileName)))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLockStateEndpoint(t *testing.T) {
	s := newTestServer(t)

	code, body := getJSON(t, s.ts.URL+"/api/session/lock-state")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["isReadOnly"])
	assert.Equal(t, "", body["mode"])

	lockByOtherProcess(t, s.root)
	code, body = getJSON(t, s.ts.URL+"/api/session/lock-state")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isReadOnly"])
	assert.Equal(t, "write", body["mode"])
	assert.Equal(t, "cli", body["holder"])
}

func TestReadOnlyMiddlewareRejectsWrites(t *testing.T) {
	s := newTestServer(t)
	lockByOtherProcess(t, s.root)

	code, body := postJSON(t, s.ts.URL+"/api/messages", map[string]any{
		"conversation_id":   "conv-1",
		"conversation_type": "channel",
		"content":           "hello",
		"role":              "user",
	})
	assert.Equal(t, http.StatusLocked, code)
	assert.Equal(t, "read-only", body["mode"])

	// Reads still pass.
	readCode, _ := getJSON(t, s.ts.URL+"/api/health")
	assert.Equal(t, http.StatusOK, readCode)

	// Releasing the lock restores writes.
	require.NoError(t, os.Remove(filepath.Join(s.root, filepath.FromSlash(sessionlock.LockFileName))))
	code, _ = postJSON(t, s.ts.URL+"/api/messages", map[string]any{
		"conversation_id":   "conv-1",
		"conversation_type": "channel",
		"content":           "hello",
		"role":              "user",
	})
	assert.Equal(t, http.StatusCreated, code)
}

func TestThreadFlow(t *testing.T) {
	s := newTestServer(t)

	code, msg := postJSON(t, s.ts.URL+"/api/messages", map[string]any{
		"conversation_id":   "conv-1",
		"conversation_type": "channel",
		"content":           "parent",
		"role":              "user",
	})
	require.Equal(t, http.StatusCreated, code)
	parentID := msg["id"].(string)

	code, thread := postJSON(t, s.ts.URL+"/api/messages/"+parentID+"/thread", nil)
	require.Equal(t, http.StatusCreated, code)
	threadID := thread["id"].(string)

	code, _ = postJSON(t, s.ts.URL+"/api/messages", map[string]any{
		"conversation_id":   "conv-1",
		"conversation_type": "channel",
		"content":           "reply",
		"role":              "assistant",
		"thread_id":         threadID,
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := getJSON(t, s.ts.URL+"/api/threads/"+threadID)
	require.Equal(t, http.StatusOK, code)
	got := body["thread"].(map[string]any)
	assert.Equal(t, float64(1), got["reply_count"], "reply count is trigger-maintained")
	assert.Len(t, body["messages"], 1)
}

func TestThreadNotFound(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.ts.URL + "/api/threads/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func wsURL(ts *httptest.Server, query string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws?" + query
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var e events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &e))
	return e
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(s.ts, "token=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_WelcomeAndLiveEvents(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx,
		wsURL(s.ts, "token="+s.token+"&client_id=obs-1"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	welcome := readEvent(t, conn)
	assert.Equal(t, events.TypeSystemHeartbeat, welcome.Type)
	assert.Equal(t, "connected", welcome.Data["status"])
	assert.Equal(t, "obs-1", welcome.Data["client_id"])

	s.bus.Publish(events.New(events.TypeSequenceStarted, map[string]any{
		"sequence_id": "seq-1",
	}))

	live := readEvent(t, conn)
	assert.Equal(t, events.TypeSequenceStarted, live.Type)
	assert.Equal(t, uint64(1), live.SequenceNumber)
}

func TestWebSocket_ReplayOnReconnect(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx,
		wsURL(s.ts, "token="+s.token+"&client_id=obs-2"), nil)
	require.NoError(t, err)
	readEvent(t, conn) // welcome

	for i := 1; i <= 3; i++ {
		s.bus.Publish(events.New(events.TypeStepCompleted, map[string]any{
			"workflow_name": fmt.Sprintf("wf-%d", i),
		}))
	}
	first := readEvent(t, conn)
	assert.Equal(t, uint64(1), first.SequenceNumber)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	// Reconnect having seen sequence 1; events 2 and 3 replay in order.
	conn2, _, err := websocket.Dial(ctx,
		wsURL(s.ts, "token="+s.token+"&client_id=obs-2&last_sequence=1"), nil)
	require.NoError(t, err)
	defer conn2.Close(websocket.StatusNormalClosure, "")

	readEvent(t, conn2) // welcome
	replayed := readEvent(t, conn2)
	assert.Equal(t, uint64(2), replayed.SequenceNumber)
	assert.Equal(t, "wf-2", replayed.Data["workflow_name"])
	replayed = readEvent(t, conn2)
	assert.Equal(t, uint64(3), replayed.SequenceNumber)
}
