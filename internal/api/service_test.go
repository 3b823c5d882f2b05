package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
	"github.com/dmdmdm-nz/netreachd/internal/errhandler"
	"github.com/dmdmdm-nz/netreachd/internal/reachability"
)

// mockSource is a test double for ConnectivitySource
type mockSource struct {
	mu      sync.Mutex
	current connectivity.Snapshot
	subs    []chan connectivity.Snapshot
}

func newMockSource(current connectivity.Snapshot) *mockSource {
	return &mockSource{current: current}
}

func (m *mockSource) Current() connectivity.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *mockSource) Subscribe() (<-chan connectivity.Snapshot, func()) {
	ch := make(chan connectivity.Snapshot, 8)
	m.mu.Lock()
	ch <- m.current
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch, func() {}
}

func (m *mockSource) publish(s connectivity.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
	for _, ch := range m.subs {
		ch <- s
	}
}

func (m *mockSource) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// mockStrategy answers every check and observation with fixed results.
type mockStrategy struct {
	results []bool
	host    string
}

func (m *mockStrategy) DefaultHost() string { return reachability.DefaultHost }

func (m *mockStrategy) Observe(ctx context.Context, initialDelay, interval time.Duration, host string, port int,
	timeout time.Duration, handler errhandler.ErrorHandler) (<-chan bool, func(), error) {
	if interval <= 0 {
		return nil, nil, reachability.ErrInvalidArgument
	}
	ch := make(chan bool, len(m.results))
	for _, r := range m.results {
		ch <- r
	}
	return ch, func() {}, nil
}

func (m *mockStrategy) Check(ctx context.Context, host string, port int, timeout time.Duration,
	handler errhandler.ErrorHandler) (bool, error) {
	if port <= 0 {
		return false, reachability.ErrInvalidArgument
	}
	m.host = host
	return m.results[0], nil
}

func wifi() connectivity.Snapshot {
	return connectivity.NewBuilder().
		State(connectivity.Connected).
		DetailedState(connectivity.DetailedConnected).
		Type(connectivity.TypeWifi).
		TypeName("WIFI").
		Available(true).
		ExtraInfo("wlan0").
		Build()
}

func newTestService(source ConnectivitySource, strategy reachability.Strategy) *Service {
	settings := reachability.DefaultSettings()
	settings.Strategy = strategy
	settings.ErrorHandler = errhandler.Discard
	return NewService("127.0.0.1", 0, source, settings)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestService(newMockSource(wifi()), &mockStrategy{results: []bool{true}})
	handler := s.Handler()

	for _, path := range []string{"/health", "/ready"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)

			rec = httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
}

func TestConnectivityEndpoint(t *testing.T) {
	s := newTestService(newMockSource(wifi()), &mockStrategy{results: []bool{true}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connectivity", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info ConnectivityInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "CONNECTED", info.State)
	assert.Equal(t, "WIFI", info.TypeName)
	assert.Equal(t, connectivity.TypeWifi, info.Type)
	assert.Equal(t, "wlan0", info.ExtraInfo)
	assert.True(t, info.Available)
}

func TestInternetEndpoint(t *testing.T) {
	strategy := &mockStrategy{results: []bool{true}}
	s := newTestService(newMockSource(wifi()), strategy)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internet?host=example.com", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info InternetInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Connected)
	assert.Equal(t, "example.com", info.Host)
	assert.Equal(t, 80, info.Port)
	assert.Equal(t, "example.com", strategy.host)
}

func TestInternetEndpoint_BadArguments(t *testing.T) {
	s := newTestService(newMockSource(wifi()), &mockStrategy{results: []bool{true}})
	handler := s.Handler()

	for _, query := range []string{"port=abc", "port=0", "timeout=soon"} {
		t.Run(query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internet?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestService(newMockSource(wifi()), &mockStrategy{results: []bool{true}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func readJSON(t *testing.T, ctx context.Context, c *websocket.Conn, v any) {
	t.Helper()
	_, b, err := c.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestConnectivityWebSocket(t *testing.T) {
	source := newMockSource(wifi())
	s := newTestService(source, &mockStrategy{results: []bool{true}})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(server, "/ws/connectivity"), nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	var info ConnectivityInfo
	readJSON(t, ctx, c, &info)
	assert.Equal(t, "WIFI", info.TypeName)

	require.Eventually(t, func() bool {
		return source.subscriberCount() == 1
	}, time.Second, 5*time.Millisecond)
	source.publish(connectivity.Default())

	readJSON(t, ctx, c, &info)
	assert.Equal(t, "DISCONNECTED", info.State)
	assert.Equal(t, "NONE", info.TypeName)
}

func TestInternetWebSocket(t *testing.T) {
	s := newTestService(newMockSource(wifi()), &mockStrategy{results: []bool{true, false}})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(server, "/ws/internet"), nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	var info InternetInfo
	readJSON(t, ctx, c, &info)
	assert.True(t, info.Connected)
	readJSON(t, ctx, c, &info)
	assert.False(t, info.Connected)
}

func TestInternetWebSocket_InvalidSettingsClosesSocket(t *testing.T) {
	s := newTestService(newMockSource(wifi()), &mockStrategy{results: []bool{true}})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(server, "/ws/internet?interval=0s"), nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestStartStopsOnCancel(t *testing.T) {
	s := newTestService(newMockSource(wifi()), &mockStrategy{results: []bool{true}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
