package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldping/internal/config"
	"github.com/worldping/internal/metrics"
	"github.com/worldping/internal/ranking"
	"github.com/worldping/internal/types"
)

func testServer(t *testing.T, rateLimit int) (*Server, *ranking.Board) {
	t.Helper()
	cfg := &config.Config{
		API:     config.APIConfig{Addr: "127.0.0.1:0", RateLimitPerMinute: rateLimit},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
	board := ranking.NewBoard()
	return NewServer(cfg, board, metrics.NewCollector("worldping")), board
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleHealth(t *testing.T) {
	s, _ := testServer(t, 0)

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandleRanking(t *testing.T) {
	s, board := testServer(t, 0)
	board.Incorporate(10, []float64{5.0})
	board.Incorporate(20, []float64{3.0})
	board.Incorporate(30, []float64{4.0})

	var body struct {
		Total   int                 `json:"total"`
		Results []types.WorldResult `json:"results"`
	}

	rec := get(t, s, "/ranking")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, []types.WorldResult{
		{WorldID: 20, AveragePing: 3.0},
		{WorldID: 30, AveragePing: 4.0},
		{WorldID: 10, AveragePing: 5.0},
	}, body.Results)

	rec = get(t, s, "/ranking?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Len(t, body.Results, 2)

	rec = get(t, s, "/ranking?limit=50")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Results, 3)

	for _, bad := range []string{"0", "-1", "abc"} {
		rec = get(t, s, "/ranking?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestHandleStat(t *testing.T) {
	s, board := testServer(t, 0)
	board.SetTargets(2)

	rec := get(t, s, "/stat")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2.0, body["targets_total"])
	assert.NotContains(t, body, "best")

	board.Incorporate(7, []float64{12.5})
	board.Incorporate(8, nil)

	rec = get(t, s, "/stat")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2.0, body["targets_probed"])
	assert.Equal(t, 1.0, body["targets_unmatched"])
	best, ok := body["best"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 7.0, best["world_id"])
	assert.Equal(t, "World 7 (12.5ms)", best["display"])
}

func TestHandleMetrics(t *testing.T) {
	s, _ := testServer(t, 0)
	get(t, s, "/health")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `worldping_api_requests_total{endpoint="/health",method="GET",status="200"} 1`)
}

func TestRateLimit(t *testing.T) {
	// 10 per minute allows a burst of one
	s, _ := testServer(t, 10)

	assert.Equal(t, http.StatusOK, get(t, s, "/ranking").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s, "/ranking").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code, "health is never limited")
}

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(60)
	a := rl.GetLimiter("10.0.0.1")
	assert.Same(t, a, rl.GetLimiter("10.0.0.1"))
	assert.NotSame(t, a, rl.GetLimiter("10.0.0.2"))
}

func TestWebSocketStream(t *testing.T) {
	s, board := testServer(t, 0)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap types.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Empty(t, snap.Results)

	board.Incorporate(42, []float64{8.5})

	require.NoError(t, conn.ReadJSON(&snap))
	require.Len(t, snap.Results, 1)
	assert.Equal(t, types.WorldResult{WorldID: 42, AveragePing: 8.5}, snap.Results[0])
	assert.Equal(t, 1, snap.Stats.RecordsTotal)
}
