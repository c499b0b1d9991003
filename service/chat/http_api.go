package chat

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"DuoChat/module/chat/message"
	"DuoChat/module/chat/model"
	"DuoChat/tools/errs"
	"DuoChat/tools/security"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// Routes mounts the websocket endpoint and the REST surface that backs the
// conversation list, history pagination and call log.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/ping", func(gc *gin.Context) {
		gc.JSON(http.StatusOK, gin.H{"code": 0, "msg": "pong"})
	})
	r.GET("/ws", s.HandleWS)

	api := r.Group("/api", s.authRequired())
	chatAPI := api.Group("/chat")
	chatAPI.POST("/messages", s.postMessage)
	chatAPI.POST("/messages/media", s.postMediaMessage)
	chatAPI.GET("/conversations", s.listConversations)
	chatAPI.GET("/conversations/:id/messages", s.listMessages)
	chatAPI.POST("/conversations/:id/read", s.markConversationRead)
	api.GET("/calls/history", s.listCallHistory)
}

const ctxUserID = "userID"

func (s *Server) authRequired() gin.HandlerFunc {
	return func(gc *gin.Context) {
		token := strings.TrimPrefix(gc.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			gc.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "missing token"})
			return
		}
		userID, err := security.VerifyUserID(s.opts.JWT, token)
		if err != nil {
			gc.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid token"})
			return
		}
		gc.Set(ctxUserID, userID)
		gc.Next()
	}
}

func (s *Server) fail(gc *gin.Context, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodeValidation:
		status = http.StatusBadRequest
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeConflict:
		status = http.StatusConflict
	case errs.CodeTransientStore:
		status = http.StatusServiceUnavailable
	}
	gc.JSON(status, gin.H{"code": code, "msg": err.Error()})
}

type sendMessageReq struct {
	ConversationID string       `json:"conversationId" binding:"required"`
	Content        string       `json:"content"`
	ClientID       string       `json:"clientId"`
	Media          *model.Media `json:"media"`
}

func (s *Server) postMessage(gc *gin.Context) {
	var req sendMessageReq
	if err := gc.ShouldBindJSON(&req); err != nil {
		s.fail(gc, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	req.Media = nil
	s.sendAndRespond(gc, req)
}

func (s *Server) postMediaMessage(gc *gin.Context) {
	var req sendMessageReq
	if err := gc.ShouldBindJSON(&req); err != nil {
		s.fail(gc, errs.ErrValidation.WithDetail(err.Error()))
		return
	}
	if req.Media == nil {
		s.fail(gc, errs.ErrValidation.WithDetail("media is required"))
		return
	}
	s.sendAndRespond(gc, req)
}

func (s *Server) sendAndRespond(gc *gin.Context, req sendMessageReq) {
	msg, err := s.delivery.Send(gc.Request.Context(), message.SendInput{
		SenderID:       gc.GetString(ctxUserID),
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Media:          req.Media,
		ClientID:       req.ClientID,
	})
	if err != nil {
		s.fail(gc, err)
		return
	}
	// clientId echoes back so the sender can reconcile its optimistic row.
	gc.JSON(http.StatusCreated, gin.H{
		"code": 0,
		"data": gin.H{"message": msg, "clientId": req.ClientID},
	})
}

func pageParams(gc *gin.Context) (time.Time, int) {
	var before time.Time
	if ms, err := strconv.ParseInt(gc.Query("before"), 10, 64); err == nil && ms > 0 {
		before = time.UnixMilli(ms)
	}
	limit := defaultPageSize
	if n, err := strconv.Atoi(gc.Query("limit")); err == nil && n > 0 {
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return before, limit
}

func (s *Server) listConversations(gc *gin.Context) {
	userID := gc.GetString(ctxUserID)
	before, limit := pageParams(gc)
	// One extra row probes for the next page.
	convs, err := s.users.ListConversations(gc.Request.Context(), userID, before, limit+1)
	if err != nil {
		s.fail(gc, errs.ErrTransientStore.WithDetail(err.Error()))
		return
	}
	hasMore := len(convs) > limit
	if hasMore {
		convs = convs[:limit]
	}
	items := make([]gin.H, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		partnerID := conv.PeerOf(userID)
		partner := gin.H{"id": partnerID}
		if u, uerr := s.users.GetUser(gc.Request.Context(), partnerID); uerr == nil && u != nil {
			partner["fullName"] = u.FullName
			partner["username"] = u.Username
			partner["profileImageUrl"] = u.ProfileImageURL
			if !u.LastSeen.IsZero() {
				partner["lastSeen"] = u.LastSeen.UnixMilli()
			}
		}
		rec, _ := s.presence.Read(gc.Request.Context(), partnerID)
		partner["presence"] = string(rec.Status)
		// Presence lastSeen is fresher than the durable record when present.
		if !rec.LastSeen.IsZero() {
			partner["lastSeen"] = rec.LastSeen.UnixMilli()
		}
		items = append(items, gin.H{
			"id":                 conv.ID,
			"partner":            partner,
			"lastMessageId":      conv.LastMessageID,
			"lastMessagePreview": conv.LastMessagePreview,
			"unreadCount":        conv.UnreadFor(userID),
			"updatedAt":          conv.UpdatedAt.UnixMilli(),
		})
	}
	gc.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{"conversations": items, "hasMore": hasMore},
	})
}

func (s *Server) listMessages(gc *gin.Context) {
	userID := gc.GetString(ctxUserID)
	convID := gc.Param("id")
	conv, err := s.users.GetConversation(gc.Request.Context(), convID)
	if err != nil {
		s.fail(gc, errs.ErrTransientStore.WithDetail(err.Error()))
		return
	}
	if conv == nil || !conv.HasParticipant(userID) {
		s.fail(gc, errs.ErrNotFound.WithDetail("conversation "+convID))
		return
	}
	before, limit := pageParams(gc)
	msgs, err := s.users.ListMessages(gc.Request.Context(), convID, before, limit+1)
	if err != nil {
		s.fail(gc, errs.ErrTransientStore.WithDetail(err.Error()))
		return
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	// Queried newest-first for the cursor, served oldest-first for the view.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	gc.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{"messages": msgs, "hasMore": hasMore},
	})
}

func (s *Server) markConversationRead(gc *gin.Context) {
	if err := s.delivery.MarkRead(gc.Request.Context(), gc.Param("id"), gc.GetString(ctxUserID)); err != nil {
		s.fail(gc, err)
		return
	}
	gc.JSON(http.StatusOK, gin.H{"code": 0})
}

func (s *Server) listCallHistory(gc *gin.Context) {
	userID := gc.GetString(ctxUserID)
	_, limit := pageParams(gc)
	calls, err := s.users.ListCallsForUser(gc.Request.Context(), userID, limit)
	if err != nil {
		s.fail(gc, errs.ErrTransientStore.WithDetail(err.Error()))
		return
	}
	items := make([]gin.H, 0, len(calls))
	for i := range calls {
		cs := &calls[i]
		direction := "incoming"
		peerID := cs.CallerID
		if cs.CallerID == userID {
			direction = "outgoing"
			peerID = cs.CalleeID
		}
		status := "missed"
		if cs.ConnectedAt != nil {
			status = "connected"
		}
		items = append(items, gin.H{
			"callId":      cs.ID,
			"peerId":      peerID,
			"direction":   direction,
			"callType":    cs.CallType,
			"status":      status,
			"createdAt":   cs.CreatedAt.UnixMilli(),
			"durationSec": cs.DurationSec,
		})
	}
	gc.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"calls": items}})
}
