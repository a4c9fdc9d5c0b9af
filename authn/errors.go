package authn

import (
	"errors"
	"fmt"
)

var (
	ErrFetchingSigningKey   = errors.New("unable to fetch signing keys")
	ErrMissingConfig        = errors.New("missing config")
	ErrMissingRequiredToken = errors.New("missing required token")

	// Private error we wrap all other exported errors with
	errInvalidToken      = errors.New("invalid token")
	ErrParseToken        = fmt.Errorf("%w: failed to parse as jwt token", errInvalidToken)
	ErrInvalidSigningKey = fmt.Errorf("%w: unrecognized signing key", errInvalidToken)

	ErrExpiredToken    = fmt.Errorf("%w: expired token", errInvalidToken)
	ErrInvalidAudience = fmt.Errorf("%w: invalid audience", errInvalidToken)
	ErrMissingSubject  = fmt.Errorf("%w: missing subject", errInvalidToken)
)

func IsInvalidTokenErr(err error) bool {
	return errors.Is(err, errInvalidToken)
}

// IsUnauthenticatedErr reports whether err means the caller could not be authenticated,
// as opposed to a failure on our side.
func IsUnauthenticatedErr(err error) bool {
	return errors.Is(err, ErrMissingRequiredToken) || IsInvalidTokenErr(err)
}
