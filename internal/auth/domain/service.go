package domain

import (
	"context"
	"time"
)

// Service turns bearer tokens into actors.
type Service interface {
	// Authenticate resolves the Authorization header value.
	Authenticate(ctx context.Context, header string) (Actor, error)
	// Issue signs a token for email, valid for ttl.
	Issue(email string, ttl time.Duration) (string, error)
}
