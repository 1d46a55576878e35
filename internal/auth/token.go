package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GrantReader re-reads an account's state and capability list on refresh
type GrantReader interface {
	GetSessionGrant(ctx context.Context, accountID string) (models.SessionGrant, error)
}

// SessionIssuer turns verified principals into signed session claims
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	grants GrantReader
	now    func() time.Time
}

// NewSessionIssuer creates a new SessionIssuer
func NewSessionIssuer(secret string, ttl time.Duration, grants GrantReader) *SessionIssuer {
	return &SessionIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		grants: grants,
		now:    time.Now,
	}
}

// TTL is the lifetime of newly issued claims
func (si *SessionIssuer) TTL() time.Duration {
	return si.ttl
}

// Issue builds claims from a verified principal. Nothing is taken from client input.
func (si *SessionIssuer) Issue(p *models.Principal) (*models.SessionClaims, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("issue session: %w", models.ErrUnauthorized)
	}

	caps := make([]string, len(p.Capabilities))
	copy(caps, p.Capabilities)

	claims := &models.SessionClaims{
		Type:         models.SessionTokenType,
		UserID:       p.ID,
		Name:         p.DisplayName,
		Role:         p.Role,
		Capabilities: caps,
	}
	si.stamp(claims, p.ID)
	return claims, nil
}

// Refresh returns updated claims. With RefreshTriggerUpdate the capability list is re-read
// from the credential store and replaces the old one; the rest of the principal is kept.
// Refresh never extends the session lifetime, and fails with ErrUnauthorized once the
// account is disabled or locked. Any other trigger returns the claims unchanged.
func (si *SessionIssuer) Refresh(ctx context.Context, claims *models.SessionClaims, trigger models.RefreshTrigger) (*models.SessionClaims, error) {
	if claims == nil {
		return nil, fmt.Errorf("refresh session: %w", models.ErrUnauthorized)
	}

	refreshed := *claims
	refreshed.Capabilities = append([]string{}, claims.Capabilities...)

	if trigger != models.RefreshTriggerUpdate {
		return &refreshed, nil
	}

	subject := claims.SubjectID()
	if subject == "" {
		return nil, fmt.Errorf("refresh session: missing subject: %w", models.ErrUnauthorized)
	}

	grant, err := si.grants.GetSessionGrant(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("refresh capabilities: %w", err)
	}
	if !grant.Usable(si.now()) {
		return nil, fmt.Errorf("refresh session: account not usable: %w", models.ErrUnauthorized)
	}

	refreshed.UserID = subject
	refreshed.Capabilities = models.NormalizeCapabilities(claims.Role, grant.Capabilities)
	if refreshed.Subject == "" {
		refreshed.Subject = subject
	}
	return &refreshed, nil
}

// Encode signs claims into a compact token
func (si *SessionIssuer) Encode(claims *models.SessionClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(si.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return tokenString, nil
}

// Decode verifies a token and validates the claim shape
func (si *SessionIssuer) Decode(tokenString string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return si.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(si.now),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("session expired: %w", models.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.SessionTokenType {
		return nil, fmt.Errorf("invalid token: unexpected type %q", claims.Type)
	}
	if claims.SubjectID() == "" {
		return nil, fmt.Errorf("invalid token: missing subject")
	}
	if claims.Capabilities == nil {
		claims.Capabilities = []string{}
	}

	return claims, nil
}

func (si *SessionIssuer) stamp(claims *models.SessionClaims, subject string) {
	now := si.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(si.ttl)),
	}
}
