//go:build integration

package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-realtime-service/internal/auth"
	"github.com/tinywideclouds/go-realtime-service/internal/notify"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/membus"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/persistence"
	"github.com/tinywideclouds/go-realtime-service/internal/realtime"
	pkgrealtime "github.com/tinywideclouds/go-realtime-service/pkg/realtime"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice/config"
)

const testSecret = "e2e-secret"

// --- Test Helpers ---

type frame map[string]any

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func makeAPIRequest(t *testing.T, method, url, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// --- Main Test ---

func TestFullNotificationFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// --- 1. Arrange: auth, connection layer, API ---
	verifier, err := auth.NewHS256Verifier(testSecret)
	require.NoError(t, err)
	instructorToken, err := verifier.Issue("1", "instructor", time.Hour)
	require.NoError(t, err)
	studentToken, err := verifier.Issue("7", "student", time.Hour)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := realtime.NewMetrics(reg)
	registry := realtime.NewRegistry()
	bridge := realtime.NewBridge(registry, metrics, logger)
	connManager, err := realtime.NewConnectionManager(
		realtime.Config{SendQueueSize: 16},
		auth.AttributionGate(verifier, logger),
		registry, bridge, nil, metrics, logger,
	)
	require.NoError(t, err)
	wsServer := httptest.NewServer(connManager.Handler())
	t.Cleanup(wsServer.Close)

	store := persistence.NewMemoryStore()
	bus := membus.New(16, 3, logger)
	notifier, err := notify.New(store, bridge, logger)
	require.NoError(t, err)

	cfg := &config.AppConfig{APIPort: "0", NumPipelineWorkers: 2}
	deps := &pkgrealtime.ServiceDependencies{
		EventProducer:     bus,
		EventConsumer:     bus.Consumer(),
		NotificationStore: store,
	}
	apiService, err := realtimeservice.New(cfg, deps, notifier, registry, auth.RequireBearer(verifier, logger), reg, logger)
	require.NoError(t, err)
	apiServer := httptest.NewServer(apiService.Handler())
	t.Cleanup(apiServer.Close)

	go func() { _ = apiService.Start(ctx) }()
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = apiService.Shutdown(shutdownCtx)
		_ = connManager.Shutdown(shutdownCtx)
	})
	require.Eventually(t, func() bool {
		resp, err := http.Get(apiServer.URL + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// --- 2. Act: the student connects and logs in ---
	wsURL := "ws" + strings.TrimPrefix(wsServer.URL, "http") + "/ws/connection/?token=" + studentToken
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	assert.Equal(t, "connection_established", readFrame(t, ws)["type"])
	require.NoError(t, ws.WriteJSON(frame{"type": "login", "user_id": 7}))
	confirmed := readFrame(t, ws)
	assert.Equal(t, "login_confirmed", confirmed["type"])
	assert.Equal(t, "7", confirmed["user_id"])

	// --- 3. Act: the instructor posts a domain event ---
	event := []byte(`{"type":"comment","recipient_id":"7","title":"New Comment","message":"Great question","related_item_type":"comment","related_item_id":"c-9"}`)
	resp := makeAPIRequest(t, http.MethodPost, apiServer.URL+"/api/events", instructorToken, event)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// --- 4. Assert: the student receives it live ---
	pushed := readFrame(t, ws)
	require.Equal(t, "notification", pushed["type"])
	data, ok := pushed["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "New Comment", data["title"])
	assert.Equal(t, "instructor", data["sender_name"])
	notificationID, _ := data["id"].(string)
	require.NotEmpty(t, notificationID)

	// --- 5. Assert: the durable record is listed and can be marked read ---
	resp = makeAPIRequest(t, http.MethodGet, apiServer.URL+"/api/notifications", studentToken, nil)
	var list struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	_ = resp.Body.Close()
	require.Len(t, list.Data, 1)
	assert.Equal(t, notificationID, list.Data[0]["id"])
	assert.Equal(t, false, list.Data[0]["is_read"])

	markBody := []byte(`{"notification_ids":["` + notificationID + `"]}`)
	resp = makeAPIRequest(t, http.MethodPut, apiServer.URL+"/api/notifications", studentToken, markBody)
	var marked map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&marked))
	_ = resp.Body.Close()
	assert.Equal(t, 1.0, marked["updated"])

	// --- 6. Assert: presence reflects the live connection ---
	resp = makeAPIRequest(t, http.MethodGet, apiServer.URL+"/api/presence/7", instructorToken, nil)
	var presence map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presence))
	_ = resp.Body.Close()
	assert.Equal(t, true, presence["connected_here"])

	// --- 7. Disconnect releases the identity ---
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return !registry.IsConnected("7") }, 5*time.Second, 20*time.Millisecond)
}
