package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/mec-geofence-alert/internal/config"
	"github.com/skypro1111/mec-geofence-alert/internal/mec"
	"github.com/skypro1111/mec-geofence-alert/internal/metrics"
)

type fakeMonitor struct {
	current *mec.SessionInfo
	recent  []mec.SessionInfo
	stats   mec.ServerStats
}

func (f *fakeMonitor) CurrentSession() (mec.SessionInfo, bool) {
	if f.current == nil {
		return mec.SessionInfo{}, false
	}
	return *f.current, true
}

func (f *fakeMonitor) RecentSessions() []mec.SessionInfo {
	return f.recent
}

func (f *fakeMonitor) GetStatistics() mec.ServerStats {
	return f.stats
}

func newTestAPI(t *testing.T, monitor Monitor) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0}, logger, config.Default(), monitor, m, reg)
	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSessionsEndpoints(t *testing.T) {
	current := mec.SessionInfo{ID: "a1", UE: "10.0.0.7:4022", State: "SUBSCRIBED", StartTime: time.Now()}
	monitor := &fakeMonitor{
		current: &current,
		recent: []mec.SessionInfo{
			{ID: "b2", State: "DONE", Outcome: mec.OutcomeCompleted},
		},
	}
	ts, _ := newTestAPI(t, monitor)

	var sessions struct {
		Current *mec.SessionInfo  `json:"current"`
		Recent  []mec.SessionInfo `json:"recent"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/sessions", &sessions))
	require.NotNil(t, sessions.Current)
	assert.Equal(t, "a1", sessions.Current.ID)
	require.Len(t, sessions.Recent, 1)
	assert.Equal(t, mec.OutcomeCompleted, sessions.Recent[0].Outcome)

	tests := []struct {
		name   string
		path   string
		status int
		id     string
	}{
		{name: "current session", path: "/sessions/a1", status: http.StatusOK, id: "a1"},
		{name: "finished session", path: "/sessions/b2", status: http.StatusOK, id: "b2"},
		{name: "unknown session", path: "/sessions/zz", status: http.StatusNotFound},
		{name: "missing id", path: "/sessions/", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var info mec.SessionInfo
			assert.Equal(t, tt.status, getJSON(t, ts.URL+tt.path, &info))
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.id, info.ID)
			}
		})
	}
}

func TestHealthAndStats(t *testing.T) {
	monitor := &fakeMonitor{stats: mec.ServerStats{Datagrams: 7, SessionsCompleted: 2, AlertSource: "subscription"}}
	ts, _ := newTestAPI(t, monitor)

	var health map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &health))
	assert.Equal(t, "healthy", health["status"])
	mecApp := health["components"].(map[string]interface{})["mec_app"].(map[string]interface{})
	assert.Equal(t, "LISTENING", mecApp["state"])
	assert.Equal(t, float64(7), mecApp["datagrams"])

	var stats struct {
		MEC mec.ServerStats `json:"mec"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/stats", &stats))
	assert.Equal(t, uint64(2), stats.MEC.SessionsCompleted)
}

func TestConfigEndpoint(t *testing.T) {
	ts, _ := newTestAPI(t, &fakeMonitor{})

	var cfg map[string]map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/config", &cfg))
	assert.Equal(t, "subscription", cfg["mec"]["alert_source"])
	assert.Equal(t, "flag-after-length", cfg["mec"]["alert_layout"])
	assert.Equal(t, "/example/location/v2", cfg["location"]["base_path"])
	assert.NotContains(t, cfg["location"], "callback_data")
}

func TestRequestMetricsAndMethodCheck(t *testing.T) {
	ts, m := newTestAPI(t, &fakeMonitor{})

	resp, err := http.Post(ts.URL+"/stats", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/nope", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/", &map[string]interface{}{}))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPErrors.WithLabelValues(http.MethodPost, "/stats", "client_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/", "404")))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mec_http_requests_total")
}
