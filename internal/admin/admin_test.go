package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlagent/nlagent/internal/events"
	"github.com/nlagent/nlagent/internal/metrics"
	"github.com/nlagent/nlagent/internal/registry"
	"github.com/nlagent/nlagent/internal/tracing"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Options{MaxAddresses: -1})
	reg.UpsertByIndex(1, "lo")
	require.True(t, reg.SetStatus(1, true))
	reg.UpsertByIndex(2, "eth0")
	require.NoError(t, reg.AddAddress(2, registry.Address{Family: registry.FamilyIPv4, Addr: "10.0.0.5", PrefixLen: 24}))
	return reg
}

func newTestServer(t *testing.T, hub *events.Hub, opts Options) *AdminServer {
	t.Helper()
	opts.Logger = zerolog.Nop()
	s := NewAdminServer(testRegistry(t), hub, opts)
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func get(t *testing.T, s *AdminServer, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get("http://" + s.Addr().String() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestStopBeforeStart(t *testing.T) {
	s := NewAdminServer(testRegistry(t), nil, Options{})
	assert.Nil(t, s.Addr())
	assert.NoError(t, s.Stop())
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Options{InstanceID: "abc", Version: "1.0.0"})

	resp, body := get(t, s, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var h healthResponse
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "abc", h.Instance)
	assert.Equal(t, "1.0.0", h.Version)
	assert.Equal(t, 2, h.Interfaces)
}

func TestMetricsEndpoint(t *testing.T) {
	oldRegistry := metrics.Registry
	metrics.Registry = prometheus.NewRegistry()
	defer func() { metrics.Registry = oldRegistry }()

	metrics.Registry.MustRegister(collectors.NewGoCollector())
	m := metrics.InitMetrics("1.0.0", "abc")
	m.Interfaces.Set(2)

	s := newTestServer(t, nil, Options{})
	resp, body := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "nlagent_interfaces 2")
	assert.Contains(t, string(body), "nlagent_info")
}

func TestInterfacesEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	resp, body := get(t, s, "/interfaces")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ifaces []registry.Interface
	require.NoError(t, json.Unmarshal(body, &ifaces))
	require.Len(t, ifaces, 2)
	assert.Equal(t, "lo", ifaces[0].Name)
	assert.True(t, ifaces[0].Up)
	assert.Equal(t, "eth0", ifaces[1].Name)
	assert.Equal(t, "10.0.0.5/24", ifaces[1].Addresses[0].String())
}

func TestInterfacesEndpointEmpty(t *testing.T) {
	s := NewAdminServer(registry.New(registry.Options{}), nil, Options{Logger: zerolog.Nop()})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/interfaces", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewAdminServer(testRegistry(t), nil, Options{Logger: zerolog.Nop()})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestEventsNotServedWithoutHub(t *testing.T) {
	s := NewAdminServer(testRegistry(t), nil, Options{Logger: zerolog.Nop()})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventStream(t *testing.T) {
	hub := events.NewHub()
	s := newTestServer(t, hub, Options{})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/events", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(registry.Event{
		Type:    registry.ChangeAddressAdded,
		Index:   2,
		Name:    "eth0",
		Address: &registry.Address{Family: registry.FamilyIPv4, Addr: "10.0.0.6", PrefixLen: 24},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "address_added", got["type"])
	assert.Equal(t, "eth0", got["name"])
	addr, ok := got["address"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.6", addr["address"])

	// Closing the hub ends the stream with a close frame.
	hub.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestEventStreamClientDisconnect(t *testing.T) {
	hub := events.NewHub()
	s := newTestServer(t, hub, Options{})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/events", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTraceEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, nil, Options{})
		resp, body := get(t, s, "/debug/trace")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.True(t, strings.Contains(string(body), "tracing not enabled"))
	})

	t.Run("enabled", func(t *testing.T) {
		rec, err := tracing.Start(tracing.Config{})
		require.NoError(t, err)
		defer rec.Stop()

		s := newTestServer(t, nil, Options{Trace: rec})
		resp, body := get(t, s, "/debug/trace")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
		assert.NotEmpty(t, body)
	})
}

func TestEventStreamRejectsCrossOrigin(t *testing.T) {
	hub := events.NewHub()
	s := newTestServer(t, hub, Options{})
	url := "ws://" + s.Addr().String() + "/events"

	header := http.Header{"Origin": []string{"http://attacker.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.Subscribers())

	header = http.Header{"Origin": []string{"http://" + s.Addr().String()}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}
