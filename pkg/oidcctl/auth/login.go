package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/skratchdot/open-golang/open"
	"golang.org/x/oauth2"

	"github.com/telekom/oidc-cli/pkg/oidcctl/callback"
	"github.com/telekom/oidc-cli/pkg/oidcctl/config"
)

// LoginConfig describes one interactive authorization code login.
type LoginConfig struct {
	Issuer   string
	ClientID string
	Scope    string
	Bind     callback.BindMode
	// Port of the callback listener, 0 picks an ephemeral port.
	Port        int
	OpenBrowser bool
	// Timeout bounds the wait for the browser redirect. Zero waits until ctx ends.
	Timeout time.Duration
	// Out receives the authorization URL, os.Stderr when nil.
	Out io.Writer
}

// pendingAuthorization lives for a single Login call and is never persisted.
type pendingAuthorization struct {
	csrfToken   string
	verifier    string
	redirectURI string
	nonce       string
}

func newPendingAuthorization(redirectURI string) (*pendingAuthorization, error) {
	csrf, err := randomToken(24)
	if err != nil {
		return nil, err
	}
	return &pendingAuthorization{
		csrfToken:   csrf,
		verifier:    oauth2.GenerateVerifier(),
		redirectURI: redirectURI,
		nonce:       uuid.NewString(),
	}, nil
}

// matches reports whether the state returned by the provider is the one sent.
func (p *pendingAuthorization) matches(state *string) bool {
	if state == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*state), []byte(p.csrfToken)) == 1
}

// Login runs the authorization code flow with PKCE for a public client. It
// starts a loopback callback server, sends the user to the provider and
// exchanges the returned code. The callback server is closed on every path.
func (m *TokenManager) Login(ctx context.Context, cfg LoginConfig) (config.ClientState, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return config.ClientState{}, errors.New("issuer and client-id are required")
	}
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	srv, err := callback.Start(callback.Options{Bind: cfg.Bind, Port: cfg.Port, Logger: m.log()})
	if err != nil {
		return config.ClientState{}, err
	}
	defer func() {
		_ = srv.Close()
	}()

	pending, err := newPendingAuthorization(srv.RedirectURI())
	if err != nil {
		return config.ClientState{}, err
	}

	provider, err := m.discover(ctx, cfg.Issuer)
	if err != nil {
		return config.ClientState{}, err
	}
	oauthCfg := oauth2.Config{
		ClientID:    cfg.ClientID,
		Endpoint:    provider.Endpoint(),
		RedirectURL: pending.redirectURI,
		Scopes:      loginScopes(cfg.Scope),
	}
	authURL := oauthCfg.AuthCodeURL(pending.csrfToken,
		oauth2.S256ChallengeOption(pending.verifier),
		oidc.Nonce(pending.nonce),
	)

	_, _ = fmt.Fprintf(out, "Open the following URL in your browser:\n%s\n", authURL)
	if cfg.OpenBrowser {
		if err := m.openURL(authURL); err != nil {
			m.log().Warnw("Failed to open browser", "error", err)
		}
	}

	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	m.log().Infow("Waiting for the authorization callback", "redirectURI", pending.redirectURI)
	result, err := srv.Wait(waitCtx)
	if err != nil {
		if cfg.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return config.ClientState{}, fmt.Errorf("no authorization callback received within %s: %w", cfg.Timeout, err)
		}
		return config.ClientState{}, err
	}
	if !pending.matches(result.State) {
		return config.ClientState{}, ErrCSRFMismatch
	}

	token, err := oauthCfg.Exchange(m.clientContext(ctx), result.Code, oauth2.VerifierOption(pending.verifier))
	if err != nil {
		return config.ClientState{}, &ExchangeError{Grant: "authorization_code", Err: err}
	}
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		if err := m.verifyIDToken(ctx, provider, cfg.ClientID, rawIDToken, pending.nonce); err != nil {
			return config.ClientState{}, err
		}
	}
	m.log().Infow("Login successful", "issuer", cfg.Issuer)
	return m.stateFromToken(token, ""), nil
}

func (m *TokenManager) verifyIDToken(ctx context.Context, provider *oidc.Provider, clientID, raw, nonce string) error {
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID, Now: m.clock().Now})
	idToken, err := verifier.Verify(m.clientContext(ctx), raw)
	if err != nil {
		return &IDTokenVerificationError{Err: err}
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return &IDTokenVerificationError{Err: errors.New("nonce does not match the authorization request")}
	}
	return nil
}

func (m *TokenManager) openURL(url string) error {
	if m.OpenURL != nil {
		return m.OpenURL(url)
	}
	return open.Start(url)
}

// loginScopes splits scope on whitespace and makes sure openid is requested.
func loginScopes(scope string) []string {
	scopes := strings.Fields(scope)
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}
	return scopes
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
