// Package auth resolves relay bearer tokens to user ids.
//
// The relay only consumes this interface; issuing tokens belongs to the
// account service. The bundled Verifier validates HS256 JWTs against a shared
// secret file, which is enough for self-hosted deployments and development.
package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrUnknownUser  = errors.New("auth: unknown user")
)

// Service is the admission-time contract: token to user resolution plus an
// existence check for the resolved user.
type Service interface {
	VerifyToken(ctx context.Context, token string) (string, error)
	UserExists(ctx context.Context, userID string) bool
}
