package chat

import (
	"context"
	"time"

	"DuoChat/logger"
	"DuoChat/service/chat/protocol"
	"DuoChat/tools/decode"
	"DuoChat/tools/errs"
	"DuoChat/tools/security"
)

func (s *Server) registerHandlers() {
	d := s.dispatcher
	d.Register(protocol.EvRegister, s.handleRegister)
	d.Register(protocol.EvJoinRoom, s.authed(s.handleJoinRoom))
	d.Register(protocol.EvLeaveRoom, s.authed(s.handleLeaveRoom))
	d.Register(protocol.EvHeartbeat, s.authed(s.handleHeartbeat))
	d.Register(protocol.EvTypingStart, s.authed(s.typingHandler(true)))
	d.Register(protocol.EvTypingStop, s.authed(s.typingHandler(false)))
	d.Register(protocol.EvCheckReachable, s.authed(s.handleCheckReachable))
	d.Register(protocol.EvCallOffer, s.authed(s.handleCallOffer))
	d.Register(protocol.EvCallAnswer, s.authed(s.handleCallAnswer))
	d.Register(protocol.EvCallIce, s.authed(s.handleCallIce))
	d.Register(protocol.EvCallEnd, s.authed(s.handleCallEnd))
	d.Register(protocol.EvCallDecline, s.authed(s.handleCallDecline))
	d.Register(protocol.EvCallCancel, s.authed(s.handleCallCancel))
	d.Register(protocol.EvMediaState, s.authed(s.handleMediaState))
}

// authed drops frames from connections that never completed register.
func (s *Server) authed(fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, c *Client, f *protocol.Frame) {
		if c.UserID == "" {
			logger.Debug("[chat] " + f.Event + " before register, dropped")
			return
		}
		fn(ctx, c, f)
	}
}

// handleRegister binds the verified identity to the connection, flips
// presence to online and catches pending messages up to delivered.
func (s *Server) handleRegister(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.RegisterPayload](f.Data)
	if err != nil || p.Token == "" {
		logger.Warnf("[chat] register without token, closing %s", c.ConnID)
		_ = c.WS.Close()
		return
	}
	userID, err := security.VerifyUserID(s.opts.JWT, p.Token)
	if err != nil {
		logger.Warnf("[chat] register token rejected: %v", err)
		_ = c.WS.Close()
		return
	}
	s.registry.Bind(c.ConnID, userID)
	c.UserID = userID
	if err := s.presence.Connect(ctx, userID, c.ConnID); err != nil {
		logger.Errorf("[chat] presence connect %s: %v", userID, err)
	}
	s.registry.Broadcast(protocol.BuildPresenceChanged(userID, "online", time.Time{}))
	if err := s.delivery.PromoteOnReconnect(ctx, userID); err != nil {
		logger.Errorf("[chat] reconnect promotion %s: %v", userID, err)
	}
}

func (s *Server) handleJoinRoom(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.RoomPayload](f.Data)
	if err != nil || p.RoomID == "" {
		return
	}
	s.registry.Join(c.ConnID, p.RoomID)
	if err := s.presence.EnterRoom(ctx, c.UserID, p.RoomID); err != nil {
		logger.Errorf("[chat] enter room %s: %v", p.RoomID, err)
	}
	s.registry.Broadcast(protocol.BuildPresenceChanged(c.UserID, "in_chat", time.Time{}))
	// Opening a conversation reads it. Non-conversation rooms fall out on
	// the not-found path.
	if err := s.delivery.MarkRead(ctx, p.RoomID, c.UserID); err != nil && errs.CodeOf(err) != errs.CodeNotFound {
		logger.Errorf("[chat] mark read %s: %v", p.RoomID, err)
	}
}

func (s *Server) handleLeaveRoom(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.RoomPayload](f.Data)
	if err != nil || p.RoomID == "" {
		return
	}
	s.registry.Leave(c.ConnID, p.RoomID)
	if err := s.presence.LeaveRoom(ctx, c.UserID, p.RoomID); err != nil {
		logger.Errorf("[chat] leave room %s: %v", p.RoomID, err)
	}
	rec, _ := s.presence.Read(ctx, c.UserID)
	s.registry.Broadcast(protocol.BuildPresenceChanged(c.UserID, string(rec.Status), time.Time{}))
}

func (s *Server) handleHeartbeat(ctx context.Context, c *Client, _ *protocol.Frame) {
	if err := s.presence.Heartbeat(ctx, c.UserID); err != nil {
		logger.Errorf("[chat] heartbeat %s: %v", c.UserID, err)
	}
}

func (s *Server) typingHandler(typing bool) HandlerFunc {
	return func(_ context.Context, c *Client, f *protocol.Frame) {
		p, err := decode.DecodeMap[protocol.TypingPayload](f.Data)
		if err != nil || p.ConversationID == "" {
			return
		}
		s.registry.PublishExcept(p.ConversationID, c.UserID,
			protocol.BuildTypingChanged(p.ConversationID, c.UserID, typing))
	}
}

// handleCheckReachable answers only the asking connection.
func (s *Server) handleCheckReachable(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.CheckReachablePayload](f.Data)
	if err != nil || p.UserID == "" {
		return
	}
	rec, _ := s.presence.Read(ctx, p.UserID)
	c.Enqueue(protocol.BuildReachableStatus(p.UserID, rec.Status.Reachable(), string(rec.Status)))
}
