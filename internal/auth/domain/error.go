package domain

import "errors"

var (
	ErrMissingToken  = errors.New("missing_token")
	ErrInvalidToken  = errors.New("invalid_token")
	ErrTokenExpired  = errors.New("token_expired")
	ErrNotAuthorized = errors.New("email_not_authorized")
	ErrNotConfigured = errors.New("auth_not_configured")
)
