// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablebuzz/tablebuzz/internal/bus"
	"github.com/tablebuzz/tablebuzz/internal/config"
	"github.com/tablebuzz/tablebuzz/internal/health"
	"github.com/tablebuzz/tablebuzz/internal/session"
	"github.com/tablebuzz/tablebuzz/internal/transition"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *bus.Hub) {
	t.Helper()
	cfg := config.Config{
		JWTSecret:      testSecret,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	engine := transition.NewEngine(transition.NewDefaultRuleSource())
	store := session.NewMemoryStore(time.Minute, time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	hub := bus.NewHub()
	t.Cleanup(hub.Shutdown)
	return NewServer(cfg, engine, store, hub, health.NewManager("test")), hub
}

func mintToken(t *testing.T, sid, wid, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	if sid != "" {
		claims["sid"] = sid
	}
	if wid != "" {
		claims["wid"] = wid
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, srv *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestAuth_MissingTokenIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/transitions?status=new", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_BadSignatureIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "waiter",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/transitions?status=new", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_UnknownRoleIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/transitions?status=new", mintToken(t, "", "", "intruder"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransitions_ClientAtNew(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/transitions?status=new", mintToken(t, "sess-1", "", "client"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp transitionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	labels := make([]string, len(resp.Options))
	for i, opt := range resp.Options {
		labels[i] = opt.Label
	}
	assert.Equal(t, []string{"New", "Cancel"}, labels)
}

func TestTransitions_UnknownStatusIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/transitions?status=teleported", mintToken(t, "sess-1", "", "client"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitions_ClientCannotQueryOtherRoles(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/transitions?status=new&role=manager", mintToken(t, "sess-1", "", "client"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTransitions_ManagerMayQueryAnyRole(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/transitions?status=new&role=client", mintToken(t, "", "", "manager"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp transitionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, transition.RoleClient, resp.Role)
}

func TestStats_ClientForbidden(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/stats", mintToken(t, "sess-1", "", "client"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStats_WaiterSeesCounts(t *testing.T) {
	srv, hub := newTestServer(t)

	sub := hub.SubscribeSession("sess-9")
	defer sub.Close()

	rec := doRequest(t, srv, http.MethodGet, "/api/stats", mintToken(t, "", "w-1", "waiter"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Connections.Sessions)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusHealthy, resp.Status)
}

// streamClient drives an SSE endpoint over a real HTTP server so the
// response body streams incrementally.
type streamClient struct {
	resp    *http.Response
	scanner *bufio.Scanner
}

func openStream(t *testing.T, ts *httptest.Server, path, token string) *streamClient {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	t.Cleanup(func() { _ = resp.Body.Close() })
	return &streamClient{resp: resp, scanner: bufio.NewScanner(resp.Body)}
}

// nextEvent reads SSE frames until one with a data line arrives and decodes it.
func (c *streamClient) nextEvent(t *testing.T) bus.Event {
	t.Helper()
	for c.scanner.Scan() {
		line := c.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev bus.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		return ev
	}
	t.Fatalf("stream ended before an event arrived: %v", c.scanner.Err())
	return bus.Event{}
}

func TestSessionStream_DeliversEvents(t *testing.T) {
	srv, hub := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client := openStream(t, ts, "/api/events/sessions/sess-1", mintToken(t, "sess-1", "", "client"))

	opening := client.nextEvent(t)
	assert.Equal(t, bus.KindConnected, opening.Kind)
	// No replay across reconnects, so the opening event demands a resync.
	assert.True(t, opening.RequiresRefresh)

	// Wait for the subscription to register before publishing.
	require.Eventually(t, func() bool {
		return hub.HasSessionConns("sess-1")
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishToSession("sess-1", bus.NewSessionEvent("sess-1", bus.KindOrderUpdate, "Order ready", "Your order is ready"))

	ev := client.nextEvent(t)
	assert.Equal(t, bus.KindOrderUpdate, ev.Kind)
	assert.Equal(t, "Order ready", ev.Title)
	assert.Equal(t, "sess-1", ev.SessionID)
}

func TestSessionStream_ClientCannotWatchOtherSession(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/events/sessions/sess-2", mintToken(t, "sess-1", "", "client"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionStream_WaiterMayWatchAnySession(t *testing.T) {
	srv, hub := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client := openStream(t, ts, "/api/events/sessions/sess-7", mintToken(t, "", "w-1", "waiter"))
	assert.Equal(t, bus.KindConnected, client.nextEvent(t).Kind)

	require.Eventually(t, func() bool {
		return hub.HasSessionConns("sess-7")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWaiterStream_IdentityMismatchForbidden(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/events/waiters/w-2", mintToken(t, "", "w-1", "waiter"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWaiterStream_DeliversEvents(t *testing.T) {
	srv, hub := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client := openStream(t, ts, "/api/events/waiters/w-1", mintToken(t, "", "w-1", "waiter"))
	assert.Equal(t, bus.KindConnected, client.nextEvent(t).Kind)

	require.Eventually(t, func() bool {
		return hub.HasWaiterConns("w-1")
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishToWaiter("w-1", bus.NewWaiterEvent("w-1", bus.KindRequestUpdate, "Table 4", "Needs attention"))

	ev := client.nextEvent(t)
	assert.Equal(t, bus.KindRequestUpdate, ev.Kind)
	assert.Equal(t, "w-1", ev.WaiterID)
}

func TestStream_HubShutdownReleasesClient(t *testing.T) {
	srv, hub := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client := openStream(t, ts, "/api/events/sessions/sess-1", mintToken(t, "sess-1", "", "client"))
	assert.Equal(t, bus.KindConnected, client.nextEvent(t).Kind)

	require.Eventually(t, func() bool {
		return hub.HasSessionConns("sess-1")
	}, 2*time.Second, 10*time.Millisecond)

	hub.Shutdown()

	done := make(chan struct{})
	go func() {
		for client.scanner.Scan() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not terminate after hub shutdown")
	}
}

func TestRequestID_EchoedBack(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
}
