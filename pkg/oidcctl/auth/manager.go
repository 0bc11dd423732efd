package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"k8s.io/utils/clock"

	"github.com/telekom/oidc-cli/pkg/oidcctl/claims"
	"github.com/telekom/oidc-cli/pkg/oidcctl/config"
)

// TokenResult is the outcome of GetToken and FetchToken. It is either
// Existing (nothing to persist) or Refreshed (the caller must store the new
// state).
type TokenResult interface {
	ClientState() config.ClientState
	isTokenResult()
}

// Existing is a cached state that is still usable.
type Existing struct {
	State config.ClientState
}

// Refreshed is a state obtained from the provider that must be persisted.
type Refreshed struct {
	State config.ClientState
}

func (r Existing) ClientState() config.ClientState  { return r.State }
func (r Refreshed) ClientState() config.ClientState { return r.State }
func (Existing) isTokenResult()                     {}
func (Refreshed) isTokenResult()                    {}

// TokenManager decides whether a cached client state can be reused and
// performs the required grant when it cannot. It never touches the store.
type TokenManager struct {
	HTTPClient *http.Client
	Clock      clock.PassiveClock
	Log        *zap.SugaredLogger
	// OpenURL launches the system browser during Login, open.Start when nil.
	OpenURL func(url string) error
}

func (m *TokenManager) clock() clock.PassiveClock {
	if m.Clock == nil {
		return clock.RealClock{}
	}
	return m.Clock
}

func (m *TokenManager) log() *zap.SugaredLogger {
	if m.Log == nil {
		return zap.NewNop().Sugar()
	}
	return m.Log
}

func (m *TokenManager) now() time.Time {
	return m.clock().Now().UTC()
}

// clientContext makes go-oidc and oauth2 use the configured HTTP client.
func (m *TokenManager) clientContext(ctx context.Context) context.Context {
	if m.HTTPClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, m.HTTPClient)
}

// GetToken returns the cached state when it has no expiry or expires in the
// future, and fetches a new one otherwise.
func (m *TokenManager) GetToken(ctx context.Context, client *config.Client) (TokenResult, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if state := client.State; state != nil {
		if state.Expires == nil {
			m.log().Debugw("Cached token has no expiry, reusing it")
			return Existing{State: *state.Clone()}, nil
		}
		m.log().Debugw("Cached token", "expires", state.Expires.UTC().Format(time.RFC3339))
		if state.Expires.UTC().After(m.now()) {
			return Existing{State: *state.Clone()}, nil
		}
	}
	return m.FetchToken(ctx, client)
}

// FetchToken performs a new exchange for the client, ignoring any cached
// access token.
func (m *TokenManager) FetchToken(ctx context.Context, client *config.Client) (TokenResult, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if err := client.Validate(); err != nil {
		return nil, err
	}
	switch {
	case client.Type.Confidential != nil:
		return m.clientCredentials(ctx, client)
	default:
		return m.refresh(ctx, client)
	}
}

func (m *TokenManager) discover(ctx context.Context, issuer string) (*oidc.Provider, error) {
	provider, err := oidc.NewProvider(m.clientContext(ctx), issuer)
	if err != nil {
		return nil, &DiscoveryError{Issuer: issuer, Err: err}
	}
	return provider, nil
}

func (m *TokenManager) clientCredentials(ctx context.Context, client *config.Client) (TokenResult, error) {
	provider, err := m.discover(ctx, client.IssuerURL)
	if err != nil {
		return nil, err
	}
	cc := &clientcredentials.Config{
		ClientID:     client.Type.Confidential.ClientID,
		ClientSecret: client.Type.Confidential.ClientSecret,
		TokenURL:     provider.Endpoint().TokenURL,
		Scopes:       client.Scopes(),
		AuthStyle:    provider.Endpoint().AuthStyle,
	}
	m.log().Infow("Requesting token using client credentials", "tokenURL", cc.TokenURL)
	token, err := cc.Token(m.clientContext(ctx))
	if err != nil {
		return nil, &ExchangeError{Grant: "client_credentials", Err: err}
	}
	return Refreshed{State: m.stateFromToken(token, "")}, nil
}

func (m *TokenManager) refresh(ctx context.Context, client *config.Client) (TokenResult, error) {
	state := client.State
	if state == nil || state.RefreshToken == "" {
		return nil, ErrMissingPriorState
	}

	// an opaque refresh token simply skips this check
	if c, err := claims.DecodeUnverified(state.RefreshToken); err != nil {
		m.log().Debugw("Refresh token is not a decodable JWT", "error", err)
	} else if c.ExpiredAt(m.now()) {
		return nil, fmt.Errorf("%w (expired at %s)", ErrExpiredRefreshToken, c.ExpiresAt.Format(time.RFC3339))
	}

	provider, err := m.discover(ctx, client.IssuerURL)
	if err != nil {
		return nil, err
	}
	oauthCfg := oauth2.Config{
		ClientID: client.Type.ClientID(),
		Endpoint: provider.Endpoint(),
		Scopes:   client.Scopes(),
	}
	m.log().Infow("Refreshing token", "tokenURL", oauthCfg.Endpoint.TokenURL)
	// no access token forces the token source to refresh right away
	src := oauthCfg.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: state.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, &ExchangeError{Grant: "refresh_token", Err: err}
	}
	return Refreshed{State: m.stateFromToken(token, state.RefreshToken)}, nil
}

// stateFromToken converts a token response into a client state. The previous
// refresh token is kept when the response does not rotate it.
func (m *TokenManager) stateFromToken(token *oauth2.Token, previousRefresh string) config.ClientState {
	state := config.ClientState{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		state.IDToken = idToken
	}
	if state.RefreshToken == "" {
		state.RefreshToken = previousRefresh
	}
	switch lifetime := expiresIn(token); {
	case lifetime > 0:
		expires := m.now().Add(time.Duration(lifetime) * time.Second)
		state.Expires = &expires
	case !token.Expiry.IsZero():
		expires := token.Expiry.UTC()
		state.Expires = &expires
	}
	return state
}

// expiresIn returns the lifetime in seconds of a token response. The
// clientcredentials package only sets Expiry, computed from the wall clock, so
// the raw "expires_in" value is read from the response as a fallback.
func expiresIn(token *oauth2.Token) int64 {
	if token.ExpiresIn > 0 {
		return token.ExpiresIn
	}
	switch v := token.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	}
	return 0
}
