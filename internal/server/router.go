package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/hub"
	"github.com/parleyhq/parley/internal/messages"
	"github.com/parleyhq/parley/internal/obs"
	"github.com/parleyhq/parley/internal/users"
	"go.uber.org/zap"
)

const claimsContextKey = "parley_claims"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingMessageService = errors.New("message service dependency required")
	errMissingHub            = errors.New("hub dependency required")
)

// TokenValidator validates bearer tokens for protected routes.
type TokenValidator interface {
	Validate(token string) (auth.Claims, error)
}

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	Tokens   TokenValidator
	Users    *users.Service
	Messages *messages.Service
	Hub      *hub.Hub
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin router for the chat API: credential
// endpoints, the paginated message log, the REST send path, the websocket
// handshake, and the metrics scrape endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Messages == nil {
		return nil, errMissingMessageService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.Tokens,
		users:    deps.Users,
		messages: deps.Messages,
		hub:      deps.Hub,
		logger:   logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/metrics", gin.WrapH(obs.Handler()))
	router.GET("/chathub", handler.handleChatHub)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users/me", handler.handleCurrentUser)
	protected.GET("/messages", handler.handleListMessages)
	protected.GET("/messages/sentiment-stats", handler.handleSentimentStats)
	protected.GET("/messages/:id", handler.handleGetMessage)
	protected.POST("/messages", handler.handleCreateMessage)

	return router, nil
}

type httpHandler struct {
	tokens   TokenValidator
	users    *users.Service
	messages *messages.Service
	hub      *hub.Hub
	logger   *zap.Logger
}

type registerPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionPayload struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func sessionResponse(session users.AuthSession) sessionPayload {
	return sessionPayload{
		Token:     session.Token,
		Username:  session.Username,
		Email:     session.Email,
		ExpiresAt: session.ExpiresAt,
	}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.users.Register(c.Request.Context(), request.Username, request.Email, request.Password)
	switch {
	case errors.Is(err, users.ErrAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_already_exists"})
	case errors.Is(err, users.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case err != nil:
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
	default:
		c.JSON(http.StatusOK, sessionResponse(session))
	}
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.users.Login(c.Request.Context(), request.Email, request.Password)
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case err != nil:
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
	default:
		c.JSON(http.StatusOK, sessionResponse(session))
	}
}

type profilePayload struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// handleCurrentUser returns the account behind the presented token. A valid
// token whose account has since been removed yields a 404, not a 401.
func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	account, err := h.users.Get(c.Request.Context(), claims.UserID)
	switch {
	case errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	case err != nil:
		h.logger.Error("account lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_unavailable"})
	default:
		c.JSON(http.StatusOK, profilePayload{
			ID:          account.ID,
			Username:    account.Username,
			Email:       account.Email,
			CreatedAt:   account.CreatedAt,
			LastLoginAt: account.LastLoginAt,
		})
	}
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", 50)

	views, err := h.messages.List(c.Request.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("message listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "messages_unavailable"})
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGetMessage(c *gin.Context) {
	view, err := h.messages.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, messages.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message_not_found"})
	case err != nil:
		h.logger.Error("message lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "messages_unavailable"})
	default:
		c.JSON(http.StatusOK, view)
	}
}

func (h *httpHandler) handleSentimentStats(c *gin.Context) {
	stats, err := h.messages.SentimentStats(c.Request.Context())
	if err != nil {
		h.logger.Error("sentiment stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "messages_unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type createMessagePayload struct {
	Content string `json:"content"`
	RoomID  string `json:"roomId"`
}

// handleCreateMessage is the REST send path for clients that cannot hold a
// persistent connection. It shares the classify-then-persist pipeline with
// the hub but does not fan out to live connections.
func (h *httpHandler) handleCreateMessage(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request createMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	message, err := h.messages.Create(c.Request.Context(), claims.UserID, request.Content)
	switch {
	case errors.Is(err, messages.ErrInvalidContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_content"})
	case err != nil:
		h.logger.Error("message creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message_create_failed"})
	default:
		c.JSON(http.StatusCreated, messages.View{
			ID:             message.ID,
			Content:        message.Content,
			Timestamp:      message.Timestamp,
			SentimentScore: message.SentimentScore,
			SentimentLabel: message.SentimentLabel,
			Sender: messages.SenderView{
				ID:       claims.UserID,
				Username: claims.Name,
			},
		})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := auth.BearerFromRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(claimsContextKey, claims)
	c.Next()
}

func claimsFrom(c *gin.Context) (auth.Claims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.Claims{}, false
	}
	claims, ok := value.(auth.Claims)
	return claims, ok
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
