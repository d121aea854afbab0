package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wefthq/weft/internal/approval"
	"github.com/wefthq/weft/internal/auth/jwt"
	"github.com/wefthq/weft/internal/catchup"
	"github.com/wefthq/weft/internal/common/config"
	"github.com/wefthq/weft/internal/realtime/bridge"
	"github.com/wefthq/weft/internal/realtime/bus"
	"github.com/wefthq/weft/internal/realtime/conn"
	"github.com/wefthq/weft/internal/realtime/event"
	"github.com/wefthq/weft/internal/realtime/room"
	"github.com/wefthq/weft/internal/storage"
	"github.com/wefthq/weft/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type testServer struct {
	srv       *Server
	http      *httptest.Server
	store     storage.Store
	bus       bus.Bus
	rooms     *room.Index
	registry  *conn.Registry
	approvals *approval.Table
	jwt       *jwt.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{}
	cfg.Auth.JWT = config.JWTConfig{
		SecretKey: strings.Repeat("k", 32),
		Duration:  time.Hour,
	}
	cfg.Realtime = config.RealtimeConfig{
		SendBufferSize:    16,
		HeartbeatInterval: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		ApprovalTimeout:   time.Minute,
	}
	cfg.Metrics = config.MetricsConfig{Namespace: "weft_test"}

	store, err := storage.NewStore(&config.DatabaseConfig{Type: "sqlite", DBName: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New(cfg.Metrics)
	b := bus.NewMemoryBus(logger)
	registry := conn.NewRegistry(logger)
	rooms := room.NewIndex()
	registry.OnRemove(rooms.LeaveAll)

	br, err := bridge.New(logger, b, rooms, registry, m)
	require.NoError(t, err)
	cu := catchup.New(logger, store, registry, m)
	approvals := approval.NewTable(logger, b, m, cfg.Realtime.ApprovalTimeout)

	jwtSvc, err := jwt.NewService(jwt.Config{
		SecretKey: cfg.Auth.JWT.SecretKey,
		Duration:  cfg.Auth.JWT.Duration,
	})
	require.NoError(t, err)

	srv, err := New(logger, cfg, Deps{
		JWT:       jwtSvc,
		Registry:  registry,
		Rooms:     rooms,
		Bridge:    br,
		Catchup:   cu,
		Approvals: approvals,
		Metrics:   m,
	})
	require.NoError(t, err)

	br.Start()
	t.Cleanup(br.Stop)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{
		srv:       srv,
		http:      ts,
		store:     store,
		bus:       b,
		rooms:     rooms,
		registry:  registry,
		approvals: approvals,
		jwt:       jwtSvc,
	}
}

func (ts *testServer) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (ts *testServer) dial(t *testing.T, userID, projectID string) *websocket.Conn {
	t.Helper()
	token, err := ts.jwt.GenerateToken(userID, projectID)
	require.NoError(t, err)

	ws, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(token), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, id, typ string, payload any) {
	t.Helper()
	f := inboundFrame{ID: id, Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		f.Payload = raw
	}
	require.NoError(t, ws.WriteJSON(f))
}

// readFrame returns the next frame's type, echoed id, and raw bytes.
func readFrame(t *testing.T, ws *websocket.Conn) (string, string, []byte) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return gjson.GetBytes(data, "type").String(), gjson.GetBytes(data, "id").String(), data
}

func requireAck(t *testing.T, ws *websocket.Conn, id string) {
	t.Helper()
	typ, got, data := readFrame(t, ws)
	require.Equal(t, frameAck, typ, "frame: %s", data)
	require.Equal(t, id, got)
}

func requireErrorFrame(t *testing.T, ws *websocket.Conn, id, code string) {
	t.Helper()
	typ, got, data := readFrame(t, ws)
	require.Equal(t, frameError, typ, "frame: %s", data)
	require.Equal(t, id, got)
	require.Equal(t, code, gjson.GetBytes(data, "payload.code").String())
}

// requireSilence asserts no frame arrives within the window. The read
// deadline poisons the connection, so this must be the last read.
func requireSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
}

func TestWS_RejectsMissingOrBadToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(ts.wsURL("not-a-token"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestWS_AcceptsBearerHeader(t *testing.T) {
	ts := newTestServer(t)
	token, err := ts.jwt.GenerateToken("u1", "p1")
	require.NoError(t, err)

	header := http.Header{"Authorization": {"Bearer " + token}}
	ws, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(""), header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer ws.Close()

	typ, _, data := readFrame(t, ws)
	require.Equal(t, frameConnected, typ)
	require.Equal(t, "u1", gjson.GetBytes(data, "payload.userId").String())
}

func TestWS_ConnectedHello(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")

	typ, _, data := readFrame(t, ws)
	require.Equal(t, frameConnected, typ)
	require.Equal(t, "u1", gjson.GetBytes(data, "payload.userId").String())
	require.Equal(t, "p1", gjson.GetBytes(data, "payload.projectId").String())
	require.NotEmpty(t, gjson.GetBytes(data, "payload.connectionId").String())
	require.Equal(t, 1, ts.registry.Len())
}

func TestWS_SubscribeAndReceiveEvents(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "1", opSubscribe, channelPayload{Channel: "session:s1"})
	requireAck(t, ws, "1")

	err := ts.bus.Publish(context.Background(), "p1", event.New(&event.MessageTextDelta{
		Session:   "s1",
		MessageID: "m1",
		PartID:    "pt1",
		Delta:     "hi",
	}))
	require.NoError(t, err)

	typ, _, data := readFrame(t, ws)
	require.Equal(t, string(event.KindMessageTextDelta), typ)
	require.Equal(t, "hi", gjson.GetBytes(data, "payload.delta").String())
	require.Equal(t, "s1", gjson.GetBytes(data, "payload.sessionId").String())
}

func TestWS_ProjectScopeIsolation(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "1", opSubscribe, channelPayload{Channel: "session:s1"})
	requireAck(t, ws, "1")

	// Same session name, different tenant scope: must not arrive.
	err := ts.bus.Publish(context.Background(), "p2", event.New(&event.MessageTextDelta{
		Session:   "s1",
		MessageID: "m1",
		PartID:    "pt1",
		Delta:     "secret",
	}))
	require.NoError(t, err)

	requireSilence(t, ws)
}

func TestWS_SubscribeAnotherProjectIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	_, _, data := readFrame(t, ws) // connected
	connID := gjson.GetBytes(data, "payload.connectionId").String()

	sendFrame(t, ws, "1", opSubscribe, channelPayload{Channel: "project:p2"})
	requireErrorFrame(t, ws, "1", "E3001")
	require.False(t, ts.rooms.IsMember("project:p2", connID))

	// The caller's own project is fine.
	sendFrame(t, ws, "2", opSubscribe, channelPayload{Channel: "project:p1"})
	requireAck(t, ws, "2")
	require.True(t, ts.rooms.IsMember("project:p1", connID))
}

func TestWS_BadFrames(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "1", opSubscribe, channelPayload{Channel: "steam:s1"})
	requireErrorFrame(t, ws, "1", "E1001")

	sendFrame(t, ws, "2", "message.telepathy", nil)
	requireErrorFrame(t, ws, "2", "E1003")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	requireErrorFrame(t, ws, "", "E1002")
}

func TestWS_PingPong(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "9", opPing, nil)
	typ, id, _ := readFrame(t, ws)
	require.Equal(t, framePong, typ)
	require.Equal(t, "9", id)
}

func TestWS_UnsubscribeStopsDelivery(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "1", opSubscribe, channelPayload{Channel: "session:s1"})
	requireAck(t, ws, "1")
	sendFrame(t, ws, "2", opUnsubscribe, channelPayload{Channel: "session:s1"})
	requireAck(t, ws, "2")

	err := ts.bus.Publish(context.Background(), "p1", event.New(&event.MessageTextDelta{
		Session:   "s1",
		MessageID: "m1",
		PartID:    "pt1",
		Delta:     "gone",
	}))
	require.NoError(t, err)

	requireSilence(t, ws)
}

func TestWS_SessionSync(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.store.CreateSession(ctx, &storage.Session{
		ID: "s1", ProjectID: "p1", Title: "hello", Status: "idle",
	}))
	require.NoError(t, ts.store.CreateMessage(ctx, &storage.Message{
		ID: "m1", ProjectID: "p1", SessionID: "s1", Role: "user",
	}))
	require.NoError(t, ts.store.CreateMessage(ctx, &storage.Message{
		ID: "m2", ProjectID: "p1", SessionID: "s1", Role: "assistant",
	}))
	require.NoError(t, ts.store.CreatePart(ctx, &storage.Part{
		ID: "pt1", ProjectID: "p1", SessionID: "s1", MessageID: "m2",
		Kind: "text", Content: "hi", Seq: 0,
	}))

	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "1", opSessionSync, syncPayload{SessionID: "s1"})

	typ, _, data := readFrame(t, ws)
	require.Equal(t, string(event.KindSessionSync), typ)
	require.Equal(t, "s1", gjson.GetBytes(data, "payload.session.id").String())
	messages := gjson.GetBytes(data, "payload.messages")
	require.Len(t, messages.Array(), 2)
	require.Equal(t, "hi", gjson.GetBytes(data, "payload.messages.1.parts.0.content").String())

	requireAck(t, ws, "1")
}

func TestWS_SessionSyncUnknownSessionJustAcks(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "1", opSessionSync, syncPayload{SessionID: "nope"})
	requireAck(t, ws, "1")
}

func TestWS_ApprovalRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "1", opSubscribe, channelPayload{Channel: "session:s1"})
	requireAck(t, ws, "1")

	decisions := make(chan approval.Decision, 1)
	err := ts.approvals.Register(context.Background(), approval.Request{
		CallID:    "call-1",
		SessionID: "s1",
		ProjectID: "p1",
		Tool:      "bash",
		Input:     json.RawMessage(`{"command":"ls"}`),
	}, func(d approval.Decision) { decisions <- d })
	require.NoError(t, err)

	typ, _, data := readFrame(t, ws)
	require.Equal(t, string(event.KindApprovalRequested), typ)
	require.Equal(t, "call-1", gjson.GetBytes(data, "payload.callId").String())
	require.Equal(t, "bash", gjson.GetBytes(data, "payload.tool").String())

	sendFrame(t, ws, "2", opApprovalRespond, approvalRespondPayload{
		CallID:   "call-1",
		Approved: true,
	})

	// The resolved event is published inside Resolve, so it lands ahead
	// of the ack.
	typ, _, data = readFrame(t, ws)
	require.Equal(t, string(event.KindApprovalResolved), typ)
	require.True(t, gjson.GetBytes(data, "payload.approved").Bool())

	requireAck(t, ws, "2")

	select {
	case d := <-decisions:
		require.True(t, d.Approved)
		require.Equal(t, approval.StatusApproved, d.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("release was never invoked")
	}
}

func TestWS_ApprovalRespondUnknownCall(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	readFrame(t, ws) // connected

	sendFrame(t, ws, "1", opApprovalRespond, approvalRespondPayload{
		CallID:   "ghost",
		Approved: true,
	})
	requireErrorFrame(t, ws, "1", "E4002")
}

func TestWS_DisconnectCleansUp(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "u1", "p1")
	_, _, data := readFrame(t, ws) // connected
	connID := gjson.GetBytes(data, "payload.connectionId").String()

	sendFrame(t, ws, "1", opSubscribe, channelPayload{Channel: "session:s1"})
	requireAck(t, ws, "1")
	require.True(t, ts.rooms.IsMember("session:s1", connID))

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		return ts.registry.Len() == 0 && !ts.rooms.Exists("session:s1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, body["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidateOps(t *testing.T) {
	require.NoError(t, validateOps(wsOps))

	partial := map[string]opFunc{}
	for op, fn := range wsOps {
		if op != opApprovalRespond {
			partial[op] = fn
		}
	}
	require.Error(t, validateOps(partial))
}
