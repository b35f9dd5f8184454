package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"depthwatch/config"
	"depthwatch/internal/models"
	"depthwatch/internal/store"
)

type staticSpans struct {
	spans []models.OutlierSpan
}

func (s *staticSpans) Active(now int64) []models.OutlierSpan { return s.spans }

func testServer(t *testing.T, basePath string) (*Server, *store.Stores) {
	t.Helper()

	cfg := &config.Config{
		Monitor: config.MonitorConfig{
			Symbols:        []string{"BTCUSDT"},
			Depth:          50,
			BaseMmNotional: 30000,
			SizeBins:       []float64{500, 1000},
			LiveMonitoring: true,
		},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 3000, BasePath: basePath},
	}
	stores, err := store.Open(config.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	return NewServer(cfg, stores, NewBroadcaster(), &staticSpans{}), stores
}

func TestConfigAndStatusEndpoints(t *testing.T) {
	srv, _ := testServer(t, "")
	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("build router: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("config status = %d", w.Code)
	}
	var cfgResp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &cfgResp); err != nil {
		t.Fatalf("config body: %v", err)
	}
	for _, key := range []string{"symbols", "depth", "baseMmNotional", "largeMoveNotional", "sizeBins"} {
		if _, ok := cfgResp[key]; !ok {
			t.Fatalf("config missing %q: %v", key, cfgResp)
		}
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if !strings.Contains(w.Body.String(), "liveMonitoring") {
		t.Fatalf("status body: %s", w.Body.String())
	}
}

func TestHistoryEndpointReturnsTail(t *testing.T) {
	srv, stores := testServer(t, "")
	router, _ := srv.buildRouter()

	now := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		stores.Metrics.Append(models.MetricsPoint{Ts: now + int64(i), Symbol: "BTCUSDT", Mid: 100})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil))
	var points []models.MetricsPoint
	if err := json.Unmarshal(w.Body.Bytes(), &points); err != nil {
		t.Fatalf("history body: %v", err)
	}
	if len(points) != 2 || points[1].Ts != now+2 {
		t.Fatalf("history tail wrong: %+v", points)
	}
}

func TestBasePathPrefix(t *testing.T) {
	srv, _ := testServer(t, "/monitor")
	router, _ := srv.buildRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/monitor/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("prefixed status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code == http.StatusOK {
		t.Fatal("unprefixed route must not resolve when BASE_PATH is set")
	}
}

func TestReportEndpointsDeferred(t *testing.T) {
	srv, _ := testServer(t, "")
	router, _ := srv.buildRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/outliers/report.pdf", nil))
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("report endpoint = %d, want 501", w.Code)
	}
}

func TestWebsocketBroadcast(t *testing.T) {
	srv, _ := testServer(t, "")
	router, _ := srv.buildRouter()

	ts := httptest.NewServer(router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Connection registration races the dial return; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for srv.broadcaster.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.broadcaster.ClientCount() != 1 {
		t.Fatal("client not registered")
	}

	srv.broadcaster.Broadcast("metrics", map[string]string{"symbol": "BTCUSDT"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.Type != "metrics" {
		t.Fatalf("envelope type = %q", env.Type)
	}
}

func TestBroadcastDropsDeadClient(t *testing.T) {
	srv, _ := testServer(t, "")
	router, _ := srv.buildRouter()

	ts := httptest.NewServer(router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	alive, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial alive: %v", err)
	}
	defer alive.Close()

	dead, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial dead: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.broadcaster.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	dead.Close()
	// Give the read loop a moment to notice, then broadcast twice: the
	// first send may be the one that surfaces the error.
	time.Sleep(50 * time.Millisecond)
	srv.broadcaster.Broadcast("metrics", map[string]string{"n": "1"})
	srv.broadcaster.Broadcast("metrics", map[string]string{"n": "2"})

	deadline = time.Now().Add(2 * time.Second)
	for srv.broadcaster.ClientCount() > 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.broadcaster.ClientCount(); got != 1 {
		t.Fatalf("dead client not dropped, clients = %d", got)
	}

	// The surviving client still receives messages.
	alive.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := alive.ReadMessage(); err != nil {
		t.Fatalf("surviving client read: %v", err)
	}
}
