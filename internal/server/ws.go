package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wefthq/weft/internal/auth/jwt"
	"github.com/wefthq/weft/internal/common/errorx"
	"github.com/wefthq/weft/internal/realtime/conn"
	"github.com/wefthq/weft/internal/realtime/room"
	"github.com/wefthq/weft/pkg/version"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 64 * 1024
)

// opFunc handles one inbound client op. The id is the client's request
// id, echoed on whatever frame answers it.
type opFunc func(c *wsClient, id string, payload []byte)

var wsOps = map[string]opFunc{
	opSubscribe:       (*wsClient).subscribe,
	opUnsubscribe:     (*wsClient).unsubscribe,
	opPing:            (*wsClient).ping,
	opSessionSync:     (*wsClient).sessionSync,
	opApprovalRespond: (*wsClient).approvalRespond,
}

// validateOps checks that every declared client op has a handler, so a
// new op constant without a table entry fails at startup instead of
// surfacing as "unknown message type" to clients.
func validateOps(table map[string]opFunc) error {
	for _, op := range []string{opSubscribe, opUnsubscribe, opPing, opSessionSync, opApprovalRespond} {
		if _, ok := table[op]; !ok {
			return fmt.Errorf("no handler registered for client op %q", op)
		}
	}
	return nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// wsClient ties one websocket to its registry entry. All socket writes
// go through the sink and the write pump; the read pump is the only
// reader. ctx is cancelled at teardown so in-flight work for a dead
// connection can stop early.
type wsClient struct {
	srv    *Server
	logger *zap.Logger
	conn   *conn.Conn
	ws     *websocket.Conn
	sink   *wsSink
	ctx    context.Context
	cancel context.CancelFunc
}

// handleWS authenticates the handshake, upgrades it, and runs the
// connection until the peer goes away. Tokens arrive either as a
// ?token= query parameter (browser WebSocket API cannot set headers)
// or as a bearer Authorization header.
func (s *Server) handleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		s.errors.HandleError(c, errorx.ErrUnauthorized)
		return
	}

	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			s.errors.HandleError(c, errorx.ErrTokenExpired)
		} else {
			s.errors.HandleError(c, errorx.ErrUnauthorized)
		}
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the handshake failure response
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Error(err))
		return
	}

	id := uuid.NewString()
	sink := newWSSink(s.cfg.Realtime.SendBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		srv:    s,
		logger: s.logger.With(zap.String("conn_id", id)),
		conn:   conn.New(id, claims.UserID, claims.ProjectID, sink),
		ws:     ws,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}

	s.registry.Add(client.conn)
	s.metrics.ConnOpened()
	client.logger.Info("websocket connected",
		zap.String("user_id", claims.UserID),
		zap.String("project_id", claims.ProjectID))

	// The sink is buffered, so the hello can be queued before the pump
	// starts draining.
	client.write(outboundFrame{Type: frameConnected, Payload: connectedPayload{
		ConnectionID: id,
		UserID:       claims.UserID,
		ProjectID:    claims.ProjectID,
		Version:      version.Get(),
	}})

	go client.writePump()
	client.readPump()
}

// readPump owns all reads from the socket. It returns when the peer
// closes, the read deadline passes without traffic or pongs, or the
// write pump has torn the socket down.
func (c *wsClient) readPump() {
	defer c.teardown()

	readTimeout := c.srv.cfg.Realtime.ReadTimeout
	c.ws.SetReadLimit(wsMaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.srv.registry.Touch(c.conn.ID)
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		c.srv.registry.Touch(c.conn.ID)
		c.handleFrame(data)
	}
}

// writePump owns all writes to the socket: queued frames from the sink
// and heartbeat pings. When the sink closes it sends a close message
// and drops the socket, which unblocks the read pump.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.srv.cfg.Realtime.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.sink.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) teardown() {
	c.cancel()
	c.srv.registry.Remove(c.conn.ID)
	_ = c.sink.Close()
	c.srv.metrics.ConnClosed()
	c.logger.Info("websocket disconnected")
}

// handleFrame parses one inbound {id, type, payload} frame and routes
// it through the op table.
func (c *wsClient) handleFrame(data []byte) {
	if !gjson.ValidBytes(data) {
		c.srv.metrics.WSMessage("in", "invalid")
		c.sendError("", errorx.ErrMalformedPayload)
		return
	}

	id := gjson.GetBytes(data, "id").String()
	op := gjson.GetBytes(data, "type").String()
	payload := []byte(gjson.GetBytes(data, "payload").Raw)
	c.srv.metrics.WSMessage("in", op)

	handler, ok := wsOps[op]
	if !ok {
		c.logger.Debug("unknown message type", zap.String("type", op))
		c.sendError(id, errorx.ErrUnknownMessageType)
		return
	}
	handler(c, id, payload)
}

func (c *wsClient) subscribe(id string, payload []byte) {
	var p channelPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(id, errorx.ErrMalformedPayload)
		return
	}
	ch, err := room.ParseChannel(p.Channel)
	if err != nil {
		c.sendError(id, errorx.ErrInvalidChannel)
		return
	}
	// Project channels are tenant-owned. Session channels are joinable
	// as named; the fan-out layer filters events by project scope.
	if ch.Type == room.ChannelProject && ch.ID != c.conn.ProjectID {
		c.sendError(id, errorx.ErrAnotherProject)
		return
	}
	c.srv.rooms.Join(ch.Room(), c.conn.ID)
	c.ack(id)
}

func (c *wsClient) unsubscribe(id string, payload []byte) {
	var p channelPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(id, errorx.ErrMalformedPayload)
		return
	}
	ch, err := room.ParseChannel(p.Channel)
	if err != nil {
		c.sendError(id, errorx.ErrInvalidChannel)
		return
	}
	c.srv.rooms.Leave(ch.Room(), c.conn.ID)
	c.ack(id)
}

func (c *wsClient) ping(id string, _ []byte) {
	c.write(outboundFrame{ID: id, Type: framePong})
}

func (c *wsClient) sessionSync(id string, payload []byte) {
	var p syncPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		c.sendError(id, errorx.ErrMalformedPayload)
		return
	}
	// Unknown sessions are swallowed by the snapshot push, so the only
	// errors left are store failures.
	if err := c.srv.catchup.PushTo(c.ctx, c.conn.ID, c.conn.ProjectID, p.SessionID, p.LastMessageID); err != nil {
		c.logger.Error("session sync failed",
			zap.String("session_id", p.SessionID),
			zap.Error(err))
		c.sendError(id, errorx.ErrInternal)
		return
	}
	c.ack(id)
}

func (c *wsClient) approvalRespond(id string, payload []byte) {
	var p approvalRespondPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.CallID == "" {
		c.sendError(id, errorx.ErrMalformedPayload)
		return
	}
	if err := c.srv.approvals.Resolve(c.ctx, p.CallID, p.Approved, p.Reason); err != nil {
		c.sendError(id, errorx.ErrNoPendingApproval)
		return
	}
	c.ack(id)
}

func (c *wsClient) ack(id string) {
	c.write(outboundFrame{ID: id, Type: frameAck})
}

func (c *wsClient) sendError(id string, apiErr *errorx.APIError) {
	c.write(outboundFrame{ID: id, Type: frameError, Payload: errorPayload{
		Code:    apiErr.Code,
		Message: apiErr.Message,
	}})
}

func (c *wsClient) write(f outboundFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("marshal outbound frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	c.srv.metrics.WSMessage("out", f.Type)
	if err := c.sink.Send(data); err != nil {
		c.logger.Warn("enqueue outbound frame",
			zap.String("type", f.Type),
			zap.Error(err))
	}
}
