package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/harborlabs/harbor/backend/internal/auth"
	"github.com/harborlabs/harbor/backend/internal/chat"
	"github.com/harborlabs/harbor/backend/internal/conversations"
	"github.com/harborlabs/harbor/backend/internal/presence"
	"github.com/harborlabs/harbor/backend/internal/realtime"
)

const userIDContextKey = "harbor_user_id"

const streamHeartbeatInterval = 15 * time.Second

var (
	errMissingSessionValidator    = errors.New("session validator dependency required")
	errMissingTokenManager        = errors.New("token manager dependency required")
	errMissingPresenceTracker     = errors.New("presence tracker dependency required")
	errMissingMessageSender       = errors.New("message sender dependency required")
	errMissingConversationService = errors.New("conversation service dependency required")
	errMissingStreamSource        = errors.New("stream source dependency required")
	errInvalidAuthorization       = errors.New("authorization header missing or invalid")
)

// SessionAuthenticator verifies identity-service session tokens on inbound requests.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// APITokenManager issues and validates the short-lived backend API tokens.
type APITokenManager interface {
	IssueAPIToken(ctx context.Context, claims auth.SessionClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	Sessions      SessionAuthenticator
	TokenManager  APITokenManager
	Presence      *presence.Tracker
	Messages      *chat.Sender
	Conversations *conversations.Service
	Stream        realtime.Subscriber
	Channel       string
	Logger        *zap.Logger
}

// NewHTTPHandler validates the dependency set and builds the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Presence == nil {
		return nil, errMissingPresenceTracker
	}
	if deps.Messages == nil {
		return nil, errMissingMessageSender
	}
	if deps.Conversations == nil {
		return nil, errMissingConversationService
	}
	if deps.Stream == nil {
		return nil, errMissingStreamSource
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:      deps.Sessions,
		tokens:        deps.TokenManager,
		presence:      deps.Presence,
		messages:      deps.Messages,
		conversations: deps.Conversations,
		stream:        deps.Stream,
		channel:       deps.Channel,
		logger:        logger,
	}

	router.GET("/health", handler.handleHealth)
	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/presence", handler.handleHeartbeat)
	protected.GET("/presence", handler.handlePresenceQuery)
	protected.GET("/realtime/stream", handler.handleRealtimeStream)
	protected.POST("/messages", handler.handleSendMessage)
	protected.POST("/conversations", handler.handleCreateConversation)
	protected.POST("/conversations/:id/end", handler.handleEndConversation)
	protected.GET("/conversations/:id/info", handler.handleConversationInfo)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions      SessionAuthenticator
	tokens        APITokenManager
	presence      *presence.Tracker
	messages      *chat.Sender
	conversations *conversations.Service
	stream        realtime.Subscriber
	channel       string
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// handleTokenExchange trades an identity-service session token for a backend
// API token. The session token may arrive as a cookie or a bearer header.
func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Info("session validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueAPIToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue api token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleHeartbeat(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.presence.RecordHeartbeat(c.Request.Context(), userID); err != nil {
		h.logger.Error("heartbeat failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handlePresenceQuery(c *gin.Context) {
	raw := c.Query("userIds")
	userIDs := make([]string, 0)
	for _, id := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			userIDs = append(userIDs, trimmed)
		}
	}

	status, err := h.presence.QueryOnlineStatus(c.Request.Context(), userIDs)
	if err != nil {
		h.logger.Error("presence query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence_query_failed"})
		return
	}

	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.presence.CacheMaxAge().Seconds())))
	c.JSON(http.StatusOK, gin.H{"onlineStatus": status})
}

// handleRealtimeStream serves the SSE feed of realtime events. The stream
// stays open until the client disconnects; heartbeat events keep proxies
// from timing out idle connections.
func (h *httpHandler) handleRealtimeStream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	stream, cancelStream, err := h.stream.Subscribe(c.Request.Context(), h.channel)
	if err != nil {
		h.logger.Error("stream subscribe failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream_unavailable"})
		return
	}
	defer cancelStream()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, "event: heartbeat\ndata: {}\n\n")
			flusher.Flush()
		case event, open := <-stream:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode stream event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type sendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userID := c.GetString(userIDContextKey)
	event, err := h.messages.Send(c.Request.Context(), request.ConversationID, userID, request.Content)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, event)
	case errors.Is(err, chat.ErrEmptyConversationID),
		errors.Is(err, chat.ErrEmptyContent),
		errors.Is(err, chat.ErrReservedSender):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("message publish failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send_failed"})
	}
}

type createConversationPayload struct {
	ListenerID string `json:"listener_id"`
	Topic      string `json:"topic"`
}

func (h *httpHandler) handleCreateConversation(c *gin.Context) {
	var request createConversationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	speakerID := c.GetString(userIDContextKey)
	conversation, err := h.conversations.Create(c.Request.Context(), speakerID, request.ListenerID, request.Topic)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"id":         conversation.ID,
			"topic":      conversation.Topic,
			"is_active":  conversation.IsActive,
			"started_at": conversation.StartedAt,
		})
	case errors.Is(err, conversations.ErrInvalidParticipants), errors.Is(err, conversations.ErrEmptyTopic):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("conversation create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
	}
}

func (h *httpHandler) handleEndConversation(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.conversations.End(c.Request.Context(), c.Param("id"), userID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, conversations.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, conversations.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error("conversation end failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "end_failed"})
	}
}

func (h *httpHandler) handleConversationInfo(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	info, err := h.conversations.Info(c.Request.Context(), c.Param("id"), userID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, info)
	case errors.Is(err, conversations.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, conversations.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error("conversation info failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "info_failed"})
	}
}

// authorizeRequest accepts the API token from the Authorization header or,
// for EventSource clients that cannot set headers, the access_token query
// parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
