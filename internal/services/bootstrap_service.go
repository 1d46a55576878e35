package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

const roleAdmin = "admin"

// AdminAccountStore is what the bootstrapper needs from the account repository
type AdminAccountStore interface {
	CountByRole(ctx context.Context, role string) (int, error)
	Create(ctx context.Context, acct *models.Account, capabilities []string) (*models.Account, error)
}

// PasswordSetter hashes new passwords
type PasswordSetter interface {
	Hash(password string) (string, error)
}

// BootstrapService seeds the first admin account
type BootstrapService struct {
	store  AdminAccountStore
	hasher PasswordSetter
	logger *slog.Logger
}

func NewBootstrapService(store AdminAccountStore, hasher PasswordSetter, logger *slog.Logger) *BootstrapService {
	return &BootstrapService{store: store, hasher: hasher, logger: logger}
}

// SeedAdmin creates an admin with the wildcard capability unless one already exists.
// It reports whether an account was created.
func (s *BootstrapService) SeedAdmin(ctx context.Context, email, password, name string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, nil
	}

	count, err := s.store.CountByRole(ctx, roleAdmin)
	if err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	if count > 0 {
		s.logger.Debug("admin bootstrap skipped, admin exists")
		return false, nil
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return false, fmt.Errorf("admin password: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}

	if name == "" {
		name = "Administrator"
	}

	acct, err := s.store.Create(ctx, &models.Account{
		Email:        email,
		DisplayName:  name,
		PasswordHash: hash,
		Role:         roleAdmin,
		Active:       true,
	}, []string{models.CapabilityAll})
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}

	s.logger.Info("admin account created",
		slog.String("user_id", acct.ID),
		pkglogger.EmailAttr(email))
	return true, nil
}
