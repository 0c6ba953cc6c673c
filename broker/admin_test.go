package broker

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startAdminServer(t *testing.T) *Server {
	t.Helper()
	return startServer(t, func(cfg *Config) {
		cfg.AdminAddr = "127.0.0.1:0"
	})
}

func adminGet(t *testing.T, srv *Server, path string) (int, []byte) {
	t.Helper()
	client := &http.Client{
		Timeout:   ioTimeout,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Get("http://" + srv.AdminAddr().String() + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func adminJSON(t *testing.T, srv *Server, path string, out any) int {
	t.Helper()
	status, body := adminGet(t, srv, path)
	require.NoError(t, json.Unmarshal(body, out), "body %s", body)
	return status
}

func TestAdminRouterServesWithoutListener(t *testing.T) {
	srv, err := New(DefaultConfig())
	require.NoError(t, err)
	router := srv.adminRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/topics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"topics":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "plain GET must not upgrade")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRouterKeepsGinMode(t *testing.T) {
	require.Equal(t, gin.TestMode, gin.Mode())

	for i := 0; i < 2; i++ {
		srv, err := New(DefaultConfig())
		require.NoError(t, err)
		_ = srv.adminRouter()
	}
	assert.Equal(t, gin.TestMode, gin.Mode())
}

func TestAdminDisabledByDefault(t *testing.T) {
	srv := startServer(t, nil)
	assert.Nil(t, srv.AdminAddr())
}

func TestAdminHealthAndStatus(t *testing.T) {
	srv := startAdminServer(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, adminJSON(t, srv, "/healthz", &health))
	assert.Equal(t, "ok", health["status"])

	c := dialClient(t, srv)
	assert.Equal(t, "PUBLISHED:t", c.roundTrip("PUBLISH:t:x:0:s1"))

	var status struct {
		Server      string `json:"server"`
		Connections struct {
			Current int64 `json:"current"`
		} `json:"connections"`
		Store struct {
			Topics    int `json:"topics"`
			Entries   int `json:"entries"`
			DedupeIDs int `json:"dedupe_ids"`
		} `json:"store"`
	}
	assert.Equal(t, http.StatusOK, adminJSON(t, srv, "/admin/status", &status))
	assert.Equal(t, "minibroker", status.Server)
	assert.Equal(t, int64(1), status.Connections.Current)
	assert.Equal(t, 1, status.Store.Topics)
	assert.Equal(t, 1, status.Store.Entries)
	assert.Equal(t, 1, status.Store.DedupeIDs)
}

func TestAdminTopics(t *testing.T) {
	srv := startAdminServer(t)
	a := dialClient(t, srv)
	b := dialClient(t, srv)

	assert.Equal(t, "SUBSCRIBED:sensors", a.roundTrip("SUBSCRIBE:sensors"))
	assert.Equal(t, "PUBLISHED:sensors", b.roundTrip("PUBLISH:sensors:temp=21:0:u1"))
	assert.Equal(t, "MESSAGE:sensors:temp=21:u1", a.readLine())
	assert.Equal(t, "PUBLISHED:sensors", b.roundTrip("PUBLISH:sensors:temp=22:0:u2"))
	assert.Equal(t, "MESSAGE:sensors:temp=22:u2", a.readLine())
	b.send("GET_MESSAGES:sensors")
	assert.Equal(t, "MESSAGE:sensors:temp=21:u1", b.readLine())
	assert.Equal(t, "MESSAGE:sensors:temp=22:u2", b.readLine())

	var list struct {
		Count  int            `json:"count"`
		Topics []topicSummary `json:"topics"`
	}
	assert.Equal(t, http.StatusOK, adminJSON(t, srv, "/admin/topics", &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, topicSummary{Name: "sensors", Subscribers: 1, LogLength: 0, Cursors: 1}, list.Topics[0])

	var detail struct {
		Name        string       `json:"name"`
		Subscribers []uint64     `json:"subscribers"`
		LogLength   int          `json:"log_length"`
		Cursors     []cursorView `json:"cursors"`
	}
	assert.Equal(t, http.StatusOK, adminJSON(t, srv, "/admin/topics/sensors", &detail))
	assert.Equal(t, "sensors", detail.Name)
	assert.Equal(t, []uint64{1}, detail.Subscribers)
	require.Len(t, detail.Cursors, 1)
	assert.Equal(t, 0, detail.Cursors[0].Offset)

	status, _ := adminGet(t, srv, "/admin/topics/missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminConnections(t *testing.T) {
	srv := startAdminServer(t)
	a := dialClient(t, srv)
	b := dialClient(t, srv)
	assert.Equal(t, "SUBSCRIBED:x", a.roundTrip("SUBSCRIBE:x"))
	assert.Equal(t, "SUBSCRIBED:y", b.roundTrip("SUBSCRIBE:y"))

	var list struct {
		Count       int              `json:"count"`
		Connections []connectionView `json:"connections"`
	}
	assert.Equal(t, http.StatusOK, adminJSON(t, srv, "/admin/connections", &list))
	require.Equal(t, 2, list.Count)
	assert.EqualValues(t, 1, list.Connections[0].ID)
	assert.EqualValues(t, 2, list.Connections[1].ID)
	assert.Equal(t, networkTCP, list.Connections[0].Network)
	assert.Equal(t, uint64(1), list.Connections[0].RequestsIn)
	assert.Equal(t, a.conn.LocalAddr().String(), list.Connections[0].RemoteAddr)
}

func TestAdminMetrics(t *testing.T) {
	srv := startAdminServer(t)
	c := dialClient(t, srv)
	assert.Equal(t, "PUBLISHED:t", c.roundTrip("PUBLISH:t:x:0:m1"))
	assert.Equal(t, "PUBLISHED:t", c.roundTrip("PUBLISH:t:x:0:m1"))

	status, body := adminGet(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "minibroker_connections_accepted_total 1")
	assert.Contains(t, string(body), "minibroker_publish_accepted_total 1")
	assert.Contains(t, string(body), "minibroker_publish_duplicates_total 1")
	assert.Contains(t, string(body), `minibroker_requests_total{command="PUBLISH"} 2`)
	assert.Contains(t, string(body), "minibroker_dedupe_ids 1")
}

func dialWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, resp, err := dialer.Dial("ws://"+srv.AdminAddr().String()+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wsRoundTrip(t *testing.T, conn *websocket.Conn, request string) string {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(request)))
	return wsRead(t, conn)
}

func wsRead(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

func TestWebSocketTransport(t *testing.T) {
	srv := startAdminServer(t)
	ws := dialWebSocket(t, srv)
	tcp := dialClient(t, srv)

	assert.Equal(t, "SUBSCRIBED:ws\n", wsRoundTrip(t, ws, "SUBSCRIBE:ws"))

	assert.Equal(t, "PUBLISHED:ws", tcp.roundTrip("PUBLISH:ws:hello:0:w1"))
	assert.Equal(t, "MESSAGE:ws:hello:w1\n", wsRead(t, ws))

	assert.Equal(t, "PUBLISHED:ws", tcp.roundTrip("PUBLISH:ws:again:0:w2"))
	assert.Equal(t, "MESSAGE:ws:again:w2\n", wsRead(t, ws))

	assert.Equal(t, "MESSAGE:ws:hello:w1\nMESSAGE:ws:again:w2\n", wsRoundTrip(t, ws, "GET_MESSAGES:ws"))
	assert.Equal(t, "INVALID_COMMAND\n", wsRoundTrip(t, ws, "NOPE"))

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return len(srv.store.Subscribers("ws")) == 0
	}, ioTimeout, 10*time.Millisecond)
}
