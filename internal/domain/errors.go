package domain

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidKey        = errors.New("invalid license key")
	ErrLicenseExpired    = errors.New("license expired")
	ErrLicenseSuspended  = errors.New("license suspended")
	ErrLicenseRevoked    = errors.New("license revoked")
	ErrDuplicateKey      = errors.New("duplicate key hash")
	ErrEntitlementDenied = errors.New("entitlement denied")
	ErrActivationLimit   = errors.New("machine activation limit reached")
)
