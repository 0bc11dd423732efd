package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPriorState is returned for an expired public client without a
	// cached refresh token. Only an interactive login can recover.
	ErrMissingPriorState = errors.New("expired token of a public client without a refresh token. You will need to re-login")

	// ErrExpiredRefreshToken is returned when the cached refresh token is
	// already past its exp claim. Only an interactive login can recover.
	ErrExpiredRefreshToken = errors.New("the refresh token of this public client has expired. You will need to re-login")

	// ErrCSRFMismatch is returned when the state parameter of the callback is
	// missing or differs from the one sent in the authorization request.
	ErrCSRFMismatch = errors.New("state parameter of the authorization callback does not match the request (possible CSRF)")
)

// DiscoveryError wraps a failure to fetch or parse the issuer metadata.
type DiscoveryError struct {
	Issuer string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to discover OIDC provider %s: %v", e.Issuer, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ExchangeError wraps a token endpoint failure. The provider error, if any,
// stays reachable as *oauth2.RetrieveError.
type ExchangeError struct {
	Grant string
	Err   error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s token request failed: %v", e.Grant, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// IDTokenVerificationError is returned when the ID token of a login does not
// verify against the provider keys, the client ID or the nonce.
type IDTokenVerificationError struct {
	Err error
}

func (e *IDTokenVerificationError) Error() string {
	return fmt.Sprintf("failed to verify ID token: %v", e.Err)
}

func (e *IDTokenVerificationError) Unwrap() error { return e.Err }
