package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// SecondFactorStore persists enrollment state
type SecondFactorStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	SaveSecondFactorSecret(ctx context.Context, id string, ciphertext, nonce []byte) error
	EnableSecondFactor(ctx context.Context, id string) error
}

// SecondFactorProvisioner generates secrets and checks codes against encrypted ones
type SecondFactorProvisioner interface {
	Provision(accountName string) (*auth.Enrollment, error)
	VerifyEncrypted(ciphertext, nonce []byte, code string) (bool, error)
}

// SecondFactorService enrolls accounts in TOTP.
// Setup stores a pending secret; Confirm enables it once a valid code is shown.
type SecondFactorService struct {
	store       SecondFactorStore
	provisioner SecondFactorProvisioner
	events      EventLogger
	logger      *slog.Logger
}

func NewSecondFactorService(store SecondFactorStore, provisioner SecondFactorProvisioner, events EventLogger, logger *slog.Logger) *SecondFactorService {
	return &SecondFactorService{
		store:       store,
		provisioner: provisioner,
		events:      events,
		logger:      logger,
	}
}

// Setup provisions a new pending secret. An account with 2FA already enabled gets ErrConflict.
func (s *SecondFactorService) Setup(ctx context.Context, accountID string) (*auth.Enrollment, error) {
	acct, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acct.TwoFactorEnabled {
		return nil, models.ErrConflict
	}

	enrollment, err := s.provisioner.Provision(acct.Email)
	if err != nil {
		s.logger.Error("failed to provision second factor", slog.String("user_id", accountID), slog.Any("error", err))
		return nil, fmt.Errorf("provision second factor: %w", err)
	}

	if err := s.store.SaveSecondFactorSecret(ctx, accountID, enrollment.Ciphertext, enrollment.Nonce); err != nil {
		return nil, fmt.Errorf("save second factor secret: %w", err)
	}

	s.logger.Info("second factor setup started", slog.String("user_id", accountID))
	return enrollment, nil
}

// Confirm enables 2FA after checking code against the pending secret
func (s *SecondFactorService) Confirm(ctx context.Context, accountID, code, ip string) error {
	acct, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acct.TwoFactorEnabled {
		return models.ErrConflict
	}
	if len(acct.TwoFactorSecret) == 0 {
		return models.ErrSecondFactorNotEnrolled
	}

	valid, err := s.provisioner.VerifyEncrypted(acct.TwoFactorSecret, acct.TwoFactorNonce, code)
	if err != nil {
		return fmt.Errorf("verify code: %w", err)
	}
	if !valid {
		s.events.Log(ctx, models.NewSecurityEvent(models.EventSecondFactorFailed, models.SeverityLow, &accountID, ip,
			models.OutcomeFailure, models.EventDetails{"stage": "enrollment"}))
		return models.ErrSecondFactorInvalid
	}

	if err := s.store.EnableSecondFactor(ctx, accountID); err != nil {
		return fmt.Errorf("enable second factor: %w", err)
	}

	s.events.Log(ctx, models.NewSecurityEvent(models.EventSecondFactorEnrolled, models.SeverityInfo, &accountID, ip,
		models.OutcomeSuccess, nil))
	return nil
}
