package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Collaborator errors
	ErrStoreUnavailable  = errors.New("credential store unavailable")
	ErrScorerUnavailable = errors.New("risk scorer unavailable")

	// Second factor errors
	ErrSecondFactorNotEnrolled = errors.New("second factor not enrolled")
	ErrSecondFactorInvalid     = errors.New("second factor code invalid")
	ErrSecretDecryption        = errors.New("second factor secret could not be decrypted")
)
