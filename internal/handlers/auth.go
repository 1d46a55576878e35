package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

const authFailedMessage = "Authentication failed"

// SessionServiceInterface defines the login and refresh operations the handler drives
type SessionServiceInterface interface {
	Login(ctx context.Context, attempt models.LoginAttempt) (*services.LoginResult, error)
	Refresh(ctx context.Context, claims *models.SessionClaims, trigger models.RefreshTrigger, ip string) (*services.Session, error)
}

// AuthHandlerConfig holds the request-independent settings of AuthHandler
type AuthHandlerConfig struct {
	IPConfig           *pkghttp.IPConfig
	DefaultLandingPath string
}

// AuthHandler handles login, session and logout requests
type AuthHandler struct {
	sessions SessionServiceInterface
	resolver auth.BaseURLResolver
	cfg      AuthHandlerConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(sessions SessionServiceInterface, resolver auth.BaseURLResolver, cfg AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	if cfg.DefaultLandingPath == "" {
		cfg.DefaultLandingPath = "/"
	}
	return &AuthHandler{
		sessions: sessions,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email       string `json:"email" validate:"required,max=254"`
	Password    string `json:"password" validate:"required,max=1024"`
	OTP         string `json:"otp" validate:"omitempty,max=16"`
	CallbackURL string `json:"callback_url" validate:"omitempty,max=2048"`
}

// RefreshRequest represents the request body for a session refresh
type RefreshRequest struct {
	Trigger string `json:"trigger" validate:"omitempty,oneof=update"`
}

// SessionUser is the principal as shown to the client
type SessionUser struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// LoginResponse is returned with the session cookie on a successful login
type LoginResponse struct {
	User     SessionUser `json:"user"`
	Redirect string      `json:"redirect"`
}

// SessionResponse describes the current session
type SessionResponse struct {
	User      SessionUser `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Login handles credential submission
// @Summary Log in with email, password and optional one-time code
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	attempt := models.LoginAttempt{
		Identifier: req.Email,
		Password:   req.Password,
		OTP:        req.OTP,
		IPAddress:  pkghttp.ExtractClientIP(r, h.cfg.IPConfig),
		UserAgent:  r.UserAgent(),
		Timestamp:  time.Now(),
	}

	result, err := h.sessions.Login(r.Context(), attempt)
	if err != nil {
		// Already logged and reported by the service; the client sees the generic failure
		h.logger.Debug("login returned error", slog.Any("error", err))
	}
	if result == nil {
		pkghttp.WriteUnauthorized(w, authFailedMessage)
		return
	}

	outcome := result.Outcome
	switch {
	case outcome.OK() && result.Session != nil:
		policy := h.policy(r)
		auth.SetSessionCookie(w, result.Session.Token, time.Until(result.Session.ExpiresAt), policy)

		base, _ := h.resolver.Resolve(r)
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			User:     principalUser(outcome.Principal),
			Redirect: auth.SanitizeRedirect(req.CallbackURL, base, h.cfg.DefaultLandingPath),
		})
	case outcome.Reason == models.FailureIPBlocked, outcome.Reason == models.FailureAccountLocked:
		pkghttp.WriteRetryAfter(w, outcome.RetryAfter, "too_many_attempts",
			"Too many failed login attempts. Please try again later.")
	case outcome.Reason == models.FailureSecondFactorRequired:
		pkghttp.WriteError(w, http.StatusUnauthorized, "second_factor_required", "A one-time code is required")
	default:
		// Disabled, invalid and unavailable all look the same
		pkghttp.WriteUnauthorized(w, authFailedMessage)
	}
}

// Session returns the claims of the current session
// @Summary Current session
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/session [get]
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, sessionResponse(claims))
}

// RefreshSession re-signs the current session; the update trigger re-reads capabilities
// @Summary Refresh session
// @Accept json
// @Param request body RefreshRequest false "Refresh request"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/session [post]
func (h *AuthHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req RefreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	session, err := h.sessions.Refresh(r.Context(), claims, models.RefreshTrigger(req.Trigger), pkghttp.ExtractClientIP(r, h.cfg.IPConfig))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		case errors.Is(err, models.ErrStoreUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Session could not be refreshed")
		default:
			h.logger.Error("session refresh failed", slog.String("user_id", claims.SubjectID()), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	auth.SetSessionCookie(w, session.Token, time.Until(session.ExpiresAt), h.policy(r))
	pkghttp.WriteJSON(w, http.StatusOK, sessionResponse(session.Claims))
}

// Logout clears the session cookie
// @Summary Log out
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.policy(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) policy(r *http.Request) auth.CookiePolicy {
	return auth.ResolvedPolicy{Resolver: h.resolver}.For(r)
}

func principalUser(p *models.Principal) SessionUser {
	if p == nil {
		return SessionUser{Capabilities: []string{}}
	}
	return SessionUser{ID: p.ID, Name: p.DisplayName, Role: p.Role, Capabilities: p.Capabilities}
}

func sessionResponse(c *models.SessionClaims) SessionResponse {
	resp := SessionResponse{
		User: SessionUser{
			ID:           c.SubjectID(),
			Name:         c.Name,
			Role:         c.Role,
			Capabilities: c.Capabilities,
		},
	}
	if resp.User.Capabilities == nil {
		resp.User.Capabilities = []string{}
	}
	if c.ExpiresAt != nil {
		resp.ExpiresAt = c.ExpiresAt.Time
	}
	return resp
}
