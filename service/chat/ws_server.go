package chat

import (
	"context"
	"net/http"
	"time"

	"DuoChat/logger"
	"DuoChat/service/chat/protocol"
	"DuoChat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is enforced at the edge proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the connection's read loop until
// the peer goes away. Identity arrives later, in the register frame.
func (s *Server) HandleWS(gc *gin.Context) {
	ws, err := upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		logger.Warnf("[chat] upgrade failed: %v", err)
		return
	}
	c := NewClient(uuid.NewString(), ws, s.opts.SendQueueSize)
	s.registry.Add(c)
	safe.Go(func() { s.writeLoop(c) })
	s.readLoop(c)
}

func (s *Server) readLoop(c *Client) {
	defer s.teardown(c)
	// Three missed pings before the peer is declared gone.
	pongWait := 3 * s.opts.PingInterval
	c.WS.SetReadLimit(s.opts.ReadLimit)
	_ = c.WS.SetReadDeadline(time.Now().Add(pongWait))
	c.WS.SetPongHandler(func(string) error {
		return c.WS.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.WS.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[chat] read %s: %v", c.ConnID, err)
			}
			return
		}
		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			logger.Debug("[chat] bad frame from " + c.ConnID)
			continue
		}
		s.dispatcher.Dispatch(context.Background(), c, frame)
	}
}

// writeLoop is the single writer for the socket: queued frames plus the
// ping cadence, each under its own write deadline.
func (s *Server) writeLoop(c *Client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.WS.Close()
	}()
	for {
		select {
		case payload := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// teardown runs once per connection, in registry, presence, call order:
// the membership release must precede the offline decision, and the call
// teardown must fire whether or not the user stayed online elsewhere.
func (s *Server) teardown(c *Client) {
	dropped := s.registry.Drop(c.ConnID)
	close(c.done)
	_ = c.WS.Close()
	if dropped == nil || dropped.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userID := dropped.UserID
	wentOffline, err := s.presence.Disconnect(ctx, userID, c.ConnID)
	if err != nil {
		logger.Errorf("[chat] presence disconnect %s: %v", userID, err)
	}
	s.calls.HandleDisconnect(ctx, userID, c.ActiveCallID)
	if wentOffline {
		now := time.Now()
		if err := s.users.UpdateLastSeen(ctx, userID, now); err != nil {
			logger.Errorf("[chat] update last seen %s: %v", userID, err)
		}
		s.registry.Broadcast(protocol.BuildPresenceChanged(userID, "offline", now))
	}
}
