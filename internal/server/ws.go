package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/hub"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	commandsPerSec = 5
	commandBurst   = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin access is governed by the token, matching the wide-open
	// CORS policy on the REST surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleChatHub performs the persistent-connection handshake. The bearer
// token is validated before the upgrade so a refused connection is an HTTP
// 401, not a dropped socket.
func (h *httpHandler) handleChatHub(c *gin.Context) {
	token, err := auth.BearerFromRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	session, err := h.hub.Connect(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.Disconnect(session)
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:    conn,
		session: session,
		hub:     h.hub,
		limiter: rate.NewLimiter(rate.Limit(commandsPerSec), commandBurst),
		logger:  h.logger.With(zap.String("connection_id", session.ID())),
	}
	go client.writePump()
	go client.readPump()
}

// wsClient bridges one websocket connection to its hub session: the read
// pump decodes client commands, the write pump drains the session's event
// stream.
type wsClient struct {
	conn    *websocket.Conn
	session *hub.Session
	hub     *hub.Hub
	limiter *rate.Limiter
	logger  *zap.Logger
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.Disconnect(c.session)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn("command rate limit exceeded; discarding")
			continue
		}

		var command hub.Command
		if err := json.Unmarshal(frame, &command); err != nil {
			c.logger.Warn("undecodable command frame", zap.Error(err))
			continue
		}
		c.dispatch(command)
	}
}

func (c *wsClient) dispatch(command hub.Command) {
	// The send pipeline is not tied to the handshake request context;
	// disconnect is the only cancellation trigger, and an in-flight
	// persistence write is allowed to finish.
	ctx := context.Background()
	switch command.Type {
	case hub.CommandSendMessage:
		if err := c.hub.SendMessage(ctx, c.session, command.Content, command.Room); err != nil {
			c.logger.Debug("send rejected", zap.Error(err))
		}
	case hub.CommandJoinRoom:
		if err := c.hub.JoinRoom(c.session, command.Room); err != nil {
			c.logger.Debug("join rejected", zap.Error(err))
		}
	case hub.CommandLeaveRoom:
		if err := c.hub.LeaveRoom(c.session, command.Room); err != nil {
			c.logger.Debug("leave rejected", zap.Error(err))
		}
	default:
		c.logger.Warn("unknown command type", zap.String("command", command.Type))
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.session.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
