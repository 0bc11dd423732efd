package claims

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims holds the fields of a compact JWT payload that are useful as hints.
// Nothing in here has been verified.
type Claims struct {
	Subject         string
	Issuer          string
	Audience        []string
	AuthorizedParty string
	Scope           string
	ExpiresAt       *time.Time
	IssuedAt        *time.Time
	AuthTime        *time.Time
	Extra           map[string]any
}

type payload struct {
	jwt.RegisteredClaims
	AuthorizedParty string           `json:"azp,omitempty"`
	Scope           string           `json:"scope,omitempty"`
	AuthTime        *jwt.NumericDate `json:"auth_time,omitempty"`
}

var knownClaims = []string{"sub", "iss", "aud", "azp", "scope", "exp", "iat", "auth_time", "nbf", "jti"}

// DecodeUnverified parses the payload of a compact token without checking its
// signature. It must only be used to estimate whether a locally held token is
// still usable, never to make an authorization decision.
func DecodeUnverified(token string) (*Claims, error) {
	parser := jwt.NewParser()

	var p payload
	if _, _, err := parser.ParseUnverified(token, &p); !decoded(err) {
		return nil, fmt.Errorf("failed to decode token claims: %w", err)
	}
	extra := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, extra); !decoded(err) {
		return nil, fmt.Errorf("failed to decode token claims: %w", err)
	}
	for _, name := range knownClaims {
		delete(extra, name)
	}

	c := &Claims{
		Subject:         p.Subject,
		Issuer:          p.Issuer,
		Audience:        p.Audience,
		AuthorizedParty: p.AuthorizedParty,
		Scope:           p.Scope,
		ExpiresAt:       numericTime(p.ExpiresAt),
		IssuedAt:        numericTime(p.IssuedAt),
		AuthTime:        numericTime(p.AuthTime),
		Extra:           extra,
	}
	return c, nil
}

// ExpiredAt reports whether the token carries an exp claim that is not after now.
// A token without exp is never considered expired.
func (c *Claims) ExpiredAt(now time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.UTC())
}

// decoded treats an unknown signing algorithm as success: the payload has
// already been read by then and the signature is never checked here.
func decoded(err error) bool {
	if err == nil {
		return true
	}
	var ve *jwt.ValidationError
	return errors.As(err, &ve) && ve.Errors == jwt.ValidationErrorUnverifiable
}

func numericTime(d *jwt.NumericDate) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time.UTC()
	return &t
}
