package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/minimartlab/minimart/backend/internal/identity"
	"github.com/minimartlab/minimart/backend/internal/platform"
	"github.com/minimartlab/minimart/backend/internal/profile"
	"github.com/minimartlab/minimart/backend/internal/remote"
	"github.com/minimartlab/minimart/backend/internal/session"
	"go.uber.org/zap"
)

const platformIDContextKey = "minimart_platform_id"

var (
	errMissingSession       = errors.New("auth session dependency required")
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// AuthSession is the facade surface the router exposes over HTTP.
type AuthSession interface {
	State() session.AuthState
	Login(ctx context.Context) (*profile.UserProfile, error)
	Logout()
	UpdateProfile(ctx context.Context, update profile.UpdateRequest) (*profile.UserProfile, error)
	Refresh(ctx context.Context) (*profile.UserProfile, error)
	RequestPhone(ctx context.Context) (string, error)
}

// SessionTokens issues and validates the bearer tokens protecting the surface.
type SessionTokens interface {
	IssueSessionToken(ctx context.Context, platformID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Session AuthSession
	Tokens  SessionTokens
	Logger  *zap.Logger
}

// NewHTTPHandler builds the gin handler serving the identity surface to
// the mini-app UI.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Session == nil {
		return nil, errMissingSession
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		session: deps.Session,
		tokens:  deps.Tokens,
		logger:  logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/auth")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)
	protected.POST("/refresh", handler.handleRefresh)
	protected.PATCH("/profile", handler.handleUpdateProfile)
	protected.POST("/phone", handler.handleRequestPhone)
	protected.POST("/logout", handler.handleLogout)

	return router, nil
}

type httpHandler struct {
	session AuthSession
	tokens  SessionTokens
	logger  *zap.Logger
}

type loginResponsePayload struct {
	User        *profile.UserProfile `json:"user"`
	SessionID   string               `json:"session_id,omitempty"`
	AccessToken string               `json:"access_token"`
	ExpiresIn   int64                `json:"expires_in"`
	TokenType   string               `json:"token_type"`
}

type statePayload struct {
	User      *profile.UserProfile `json:"user"`
	SessionID string               `json:"session_id,omitempty"`
	LoggedIn  bool                 `json:"logged_in"`
	Loading   bool                 `json:"loading"`
	Error     string               `json:"error,omitempty"`
}

type userPayload struct {
	User *profile.UserProfile `json:"user"`
}

type phonePayload struct {
	Phone       string `json:"phone"`
	Placeholder bool   `json:"placeholder"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	user, err := h.session.Login(c.Request.Context())
	if err != nil {
		h.renderError(c, err, "login failed")
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		User:        user,
		SessionID:   h.session.State().SessionID,
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	state := h.session.State()
	c.JSON(http.StatusOK, statePayload{
		User:      state.User,
		SessionID: state.SessionID,
		LoggedIn:  state.LoggedIn,
		Loading:   state.Loading,
		Error:     state.Error,
	})
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	user, err := h.session.Refresh(c.Request.Context())
	if err != nil {
		h.renderError(c, err, "refresh failed")
		return
	}
	c.JSON(http.StatusOK, userPayload{User: user})
}

type updateProfileRequest struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request updateProfileRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Name == nil && request.Phone == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_update"})
		return
	}

	user, err := h.session.UpdateProfile(c.Request.Context(), profile.UpdateRequest{
		Name:  request.Name,
		Phone: request.Phone,
	})
	if err != nil {
		h.renderError(c, err, "profile update failed")
		return
	}
	c.JSON(http.StatusOK, userPayload{User: user})
}

func (h *httpHandler) handleRequestPhone(c *gin.Context) {
	phone, err := h.session.RequestPhone(c.Request.Context())
	if err != nil {
		h.renderError(c, err, "phone request failed")
		return
	}
	c.JSON(http.StatusOK, phonePayload{
		Phone:       phone,
		Placeholder: phone == identity.PlaceholderPhone,
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.session.Logout()
	c.Status(http.StatusNoContent)
}

// renderError maps failure classes to stable machine codes so the UI can
// branch, for example on declined consent versus an unreachable backend.
// Raw error text is logged, never returned.
func (h *httpHandler) renderError(c *gin.Context, err error, logMessage string) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, platform.ErrLoginDeclined):
		status, code = http.StatusUnauthorized, "consent_declined"
	case errors.Is(err, platform.ErrPermissionDenied):
		status, code = http.StatusForbidden, "permission_denied"
	case errors.Is(err, platform.ErrIdentityUnavailable):
		status, code = http.StatusBadGateway, "identity_unavailable"
	case errors.Is(err, identity.ErrNoActiveSession):
		status, code = http.StatusUnauthorized, "no_active_session"
	case errors.Is(err, remote.ErrRemoteUnavailable):
		status, code = http.StatusBadGateway, "remote_unavailable"
	case errors.Is(err, platform.ErrBridgeUnavailable):
		status, code = http.StatusBadGateway, "platform_unavailable"
	}

	h.logger.Warn(logMessage, zap.String("code", code), zap.Error(err))
	c.JSON(status, gin.H{"error": code, "message": session.HumanizeError(err)})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	platformID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("session token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(platformIDContextKey, platformID)
	c.Next()
}
