package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"review-collab/internal/auth"
	"review-collab/internal/logger"
	"review-collab/internal/models"
	"review-collab/internal/services/collaboration"
	"review-collab/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is written by transport handlers while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newCollabServer(t *testing.T) string {
	t.Helper()
	log := logger.Discard()

	sm := collaboration.NewSessionManager(log, collaboration.Options{})
	sm.Start()
	ws := collaboration.NewWebSocketHandler(sm, "*", log)
	srv := httptest.NewServer(http.HandlerFunc(ws.HandleConnection))
	t.Cleanup(func() {
		sm.Shutdown()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "s1", "alice", "--secret", "shh"})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	token := strings.TrimSpace(out.String())
	assert.NoError(t, auth.NewSigner("shh").Verify(token, "s1", "alice"))
}

func TestPingCommand(t *testing.T) {
	url := newCollabServer(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"ping", "--server", url, "--count", "2"})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "ping 1: ")
	assert.Contains(t, out.String(), "ping 2: ")
	assert.Contains(t, out.String(), "avg: ")
}

func TestPingCommandUnreachable(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"ping", "--server", "ws://127.0.0.1:1/ws"})

	assert.Error(t, rootCmd.ExecuteContext(context.Background()))
}

func TestWatchCommandPrintsSessionEvents(t *testing.T) {
	url := newCollabServer(t)

	out := &syncBuffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"watch", "s1", "--server", url, "--user", "watcher"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"type":"initialState"`)
	}, 2*time.Second, 10*time.Millisecond)

	alice := transport.New()
	require.NoError(t, alice.Connect(context.Background(), url))
	defer alice.Disconnect()
	alice.Emit(models.JoinSession{SessionID: "s1", User: models.CollaborationUser{ID: "alice", Name: "Alice"}})
	alice.Emit(models.AddComment{Comment: models.Comment{ID: "c1", Time: 4, Text: "too loud"}})

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, `"type":"userJoined"`) && strings.Contains(s, `"type":"commentAdded"`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "too loud")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
