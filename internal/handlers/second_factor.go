package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// SecondFactorServiceInterface defines TOTP enrollment
type SecondFactorServiceInterface interface {
	Setup(ctx context.Context, accountID string) (*auth.Enrollment, error)
	Confirm(ctx context.Context, accountID, code, ip string) error
}

// SecondFactorHandler handles TOTP enrollment for the signed-in account
type SecondFactorHandler struct {
	service  SecondFactorServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewSecondFactorHandler(service SecondFactorServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *SecondFactorHandler {
	return &SecondFactorHandler{service: service, ipConfig: ipConfig, logger: logger}
}

// SetupResponse carries the provisioning material. It is shown exactly once.
type SetupResponse struct {
	Secret    string `json:"secret"`
	OTPAuth   string `json:"otpauth_url"`
	QRCodeURL string `json:"qr_code"`
}

// ConfirmRequest represents the request body for enabling 2FA
type ConfirmRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Setup starts enrollment
// @Summary Start TOTP enrollment
// @Produce json
// @Success 200 {object} SetupResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/2fa/setup [post]
func (h *SecondFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	enrollment, err := h.service.Setup(r.Context(), claims.SubjectID())
	if err != nil {
		h.writeError(w, claims.SubjectID(), err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SetupResponse{
		Secret:    enrollment.Secret,
		OTPAuth:   enrollment.URL,
		QRCodeURL: enrollment.QRCodeDataURL,
	})
}

// Confirm enables 2FA once the first code checks out
// @Summary Confirm TOTP enrollment
// @Accept json
// @Param request body ConfirmRequest true "Confirm request"
// @Produce json
// @Success 200
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/2fa/confirm [post]
func (h *SecondFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Confirm(r.Context(), claims.SubjectID(), req.Code, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		h.writeError(w, claims.SubjectID(), err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"two_factor_enabled": true})
}

func (h *SecondFactorHandler) writeError(w http.ResponseWriter, accountID string, err error) {
	switch {
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Two-factor authentication is already enabled")
	case errors.Is(err, models.ErrSecondFactorNotEnrolled):
		pkghttp.WriteError(w, http.StatusBadRequest, "second_factor_not_enrolled", "Start setup before confirming")
	case errors.Is(err, models.ErrSecondFactorInvalid):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_code", "Invalid verification code")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteUnauthorized(w, "unauthorized")
	case errors.Is(err, models.ErrStoreUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Please try again later")
	default:
		h.logger.Error("second factor enrollment failed", slog.String("user_id", accountID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
