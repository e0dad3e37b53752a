package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"review-collab/internal/logger"
	"review-collab/internal/models"
	"review-collab/internal/services/collaboration"
	"review-collab/internal/transport"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotStore struct {
	ids     []string
	deleted []string
	err     error
}

func (f *fakeSnapshotStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	return f.ids, f.err
}

func (f *fakeSnapshotStore) Delete(ctx context.Context, sessionID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, sessionID)
	return nil
}

const testOrigin = "http://localhost:3000"

func newTestServer(t *testing.T, snapshots SnapshotStore) *httptest.Server {
	t.Helper()
	log := logger.Discard()

	sm := collaboration.NewSessionManager(log, collaboration.Options{})
	sm.Start()

	h := NewHandler(sm, snapshots, collaboration.NewWebSocketHandler(sm, testOrigin, log), log)
	srv := httptest.NewServer(SetupRoutes(h, testOrigin, log))
	t.Cleanup(func() {
		sm.Shutdown()
		srv.Close()
	})
	return srv
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, wantStatus, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	body := getJSON(t, srv.URL+"/api/health", http.StatusOK)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["persistence"])
}

func TestSessionsReflectLiveConnections(t *testing.T) {
	srv := newTestServer(t, nil)

	getJSON(t, srv.URL+"/api/sessions/s1", http.StatusNotFound)
	getJSON(t, srv.URL+"/api/sessions/s1/presence", http.StatusNotFound)

	c := transport.New()
	require.NoError(t, c.Connect(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?user_id=alice"))
	defer c.Disconnect()

	c.Emit(models.JoinSession{SessionID: "s1", User: models.CollaborationUser{ID: "alice", Name: "Alice"}})
	c.Emit(models.AddComment{Comment: models.Comment{ID: "c1", Time: 4, Text: "hello"}})
	_, err := c.Ping(context.Background())
	require.NoError(t, err)

	body := getJSON(t, srv.URL+"/api/sessions", http.StatusOK)
	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	summary := sessions[0].(map[string]any)
	assert.Equal(t, "s1", summary["id"])
	assert.Equal(t, 1.0, summary["members"])
	assert.Equal(t, 1.0, summary["comments"])

	body = getJSON(t, srv.URL+"/api/sessions/s1", http.StatusOK)
	state := body["state"].(map[string]any)
	assert.Len(t, state["comments"], 1)
	assert.Len(t, state["users"], 1)

	body = getJSON(t, srv.URL+"/api/sessions/s1/presence", http.StatusOK)
	assert.Len(t, body["presence"], 1)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{}
	header.Set("Origin", "http://evil.test")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", testOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestMalformedFrameGetsErrorEvent(t *testing.T) {
	srv := newTestServer(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport","payload":{}}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	ev, _, err := models.Decode(data)
	require.NoError(t, err)
	errEv, ok := ev.(models.ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEv.Message, "unknown event type")
}

func TestSnapshots(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, nil)
		getJSON(t, srv.URL+"/api/snapshots", http.StatusNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		store := &fakeSnapshotStore{ids: []string{"s2", "s1"}}
		srv := newTestServer(t, store)

		body := getJSON(t, srv.URL+"/api/snapshots", http.StatusOK)
		assert.Equal(t, []any{"s2", "s1"}, body["sessions"])

		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/snapshots/s1", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, []string{"s1"}, store.deleted)
	})

	t.Run("storage failure", func(t *testing.T) {
		srv := newTestServer(t, &fakeSnapshotStore{err: errors.New("db down")})
		body := getJSON(t, srv.URL+"/api/snapshots", http.StatusInternalServerError)
		assert.Equal(t, "failed to list snapshots", body["error"])
	})
}
