package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/live-presence/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/presence"
	if query != "" {
		url += "?query=" + query
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, cond func(models.Snapshot) bool) models.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var snap models.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		if cond(snap) {
			return snap
		}
	}
}

func TestWebSocketHandler_StreamsSnapshots(t *testing.T) {
	env := newTestEnv(t, 0)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dial(t, srv, "active")
	first := readUntil(t, conn, func(models.Snapshot) bool { return true })
	assert.Equal(t, models.QueryActive, first.Query)
	assert.Empty(t, first.Rows)

	require.NoError(t, env.store.Upsert(context.Background(), sample("a")))
	snap := readUntil(t, conn, func(s models.Snapshot) bool { return len(s.Rows) == 1 })
	assert.Equal(t, "a", snap.Rows[0].UserID)
	assert.Equal(t, models.LivenessActive, snap.Rows[0].Liveness)
	assert.Greater(t, snap.Version, first.Version)

	// Time-driven expiry reaches the socket with no further writes.
	env.clock.Set(301000)
	snap = readUntil(t, conn, func(s models.Snapshot) bool { return len(s.Rows) == 0 })
	assert.Equal(t, 1, snap.TotalCount)
}

func TestWebSocketHandler_DefaultsToAll(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.store.Upsert(context.Background(), sample("a")))
	require.NoError(t, env.store.Deactivate(context.Background(), "a"))
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dial(t, srv, "")
	snap := readUntil(t, conn, func(s models.Snapshot) bool { return s.TotalCount == 1 })
	assert.Equal(t, models.QueryAll, snap.Query)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, models.LivenessInactive, snap.Rows[0].Liveness)
}

func TestWebSocketHandler_InvalidQuery(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(http.MethodGet, "/ws/presence?query=nearby", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketHandler_UnsubscribesOnClose(t *testing.T) {
	env := newTestEnv(t, 0)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dial(t, srv, "all")
	readUntil(t, conn, func(models.Snapshot) bool { return true })
	assert.Equal(t, 1, env.hub.SubscriberCount())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	assert.Eventually(t, func() bool { return env.hub.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
