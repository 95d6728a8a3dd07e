package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aausmartlab/btorchestrator/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func newTestServer(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	router := gin.New()
	NewHandler(hub, newTestLogger()).RegisterRoutes(router, "/ws/monitor")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/monitor"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClientCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == n
	}, time.Second, 5*time.Millisecond)
}

func TestHubBroadcastsToConnectedViewer(t *testing.T) {
	hub, url := newTestServer(t)
	conn := dial(t, url)
	waitForClientCount(t, hub, 1)

	hub.Broadcast(TickEvent("orch-1", "root", "SUCCESS"))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, "tick", evt.Type)
	assert.Equal(t, "orch-1", evt.ClientID)
	assert.Equal(t, "root", evt.NodeID)
	assert.Equal(t, "SUCCESS", evt.Status)
}

func TestHubBroadcastsToEveryViewer(t *testing.T) {
	hub, url := newTestServer(t)
	conn1 := dial(t, url)
	conn2 := dial(t, url)
	waitForClientCount(t, hub, 2)

	hub.Broadcast(StateEvent("orch-1", "EXECUTE"))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var evt Event
		require.NoError(t, json.Unmarshal(data, &evt))
		assert.Equal(t, "state", evt.Type)
		assert.Equal(t, "EXECUTE", evt.State)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, url := newTestServer(t)
	conn := dial(t, url)
	waitForClientCount(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClientCount(t, hub, 0)
}
