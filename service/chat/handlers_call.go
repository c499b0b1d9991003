package chat

import (
	"context"

	"DuoChat/logger"
	"DuoChat/module/chat/call"
	"DuoChat/service/chat/protocol"
	"DuoChat/tools/decode"
)

func callOfferInput(callerID string, p *protocol.CallOfferPayload) call.OfferInput {
	return call.OfferInput{
		CallerID:      callerID,
		CalleeID:      p.CalleeID,
		CallType:      p.CallType,
		Offer:         p.Offer,
		CallerProfile: p.CallerProfile,
	}
}

func (s *Server) handleCallOffer(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.CallOfferPayload](f.Data)
	if err != nil || p.CalleeID == "" {
		return
	}
	callID, err := s.calls.Offer(ctx, callOfferInput(c.UserID, p))
	if err != nil {
		logger.Errorf("[chat] call offer from %s: %v", c.UserID, err)
		return
	}
	if callID != "" {
		c.ActiveCallID = callID
	}
}

func (s *Server) handleCallAnswer(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.CallAnswerPayload](f.Data)
	if err != nil || p.CallID == "" {
		return
	}
	if s.calls.Answer(ctx, c.UserID, p.CallID, p.Answer) {
		c.ActiveCallID = p.CallID
	}
}

func (s *Server) handleCallIce(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.CallIcePayload](f.Data)
	if err != nil || p.CallID == "" {
		return
	}
	s.calls.Ice(ctx, c.UserID, p.CallID, p.Candidate)
}

func (s *Server) handleCallEnd(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.CallEndPayload](f.Data)
	if err != nil || p.CallID == "" {
		return
	}
	s.calls.End(ctx, c.UserID, p.CallID)
	if c.ActiveCallID == p.CallID {
		c.ActiveCallID = ""
	}
}

func (s *Server) handleCallDecline(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.CallEndPayload](f.Data)
	if err != nil || p.CallID == "" {
		return
	}
	s.calls.Decline(ctx, c.UserID, p.CallID)
	if c.ActiveCallID == p.CallID {
		c.ActiveCallID = ""
	}
}

func (s *Server) handleCallCancel(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.CallEndPayload](f.Data)
	if err != nil || p.CallID == "" {
		return
	}
	s.calls.Cancel(ctx, c.UserID, p.CallID)
	if c.ActiveCallID == p.CallID {
		c.ActiveCallID = ""
	}
}

func (s *Server) handleMediaState(ctx context.Context, c *Client, f *protocol.Frame) {
	p, err := decode.DecodeMap[protocol.MediaStatePayload](f.Data)
	if err != nil || p.CallID == "" {
		return
	}
	s.calls.MediaState(ctx, c.UserID, p.CallID, p.Kind, p.Enabled)
}
