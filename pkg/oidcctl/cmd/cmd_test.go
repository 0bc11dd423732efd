package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/telekom/oidc-cli/pkg/oidcctl/auth"
	"github.com/telekom/oidc-cli/pkg/oidcctl/config"
)

var testNow = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

// fakeProvider is a minimal OIDC provider answering every grant the CLI uses.
type fakeProvider struct {
	server *httptest.Server
	hits   atomic.Int32

	mu     sync.Mutex
	grants []string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"issuer":                 p.server.URL,
				"authorization_endpoint": p.server.URL + "/auth",
				"token_endpoint":         p.server.URL + "/token",
				"jwks_uri":               p.server.URL + "/keys",
			})
		case "/token":
			n := p.hits.Add(1)
			_ = r.ParseForm()
			grant := r.PostForm.Get("grant_type")
			p.mu.Lock()
			p.grants = append(p.grants, grant)
			p.mu.Unlock()
			switch grant {
			case "client_credentials":
				_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "cc-" + strconv.Itoa(int(n)), "expires_in": 3600})
			case "authorization_code":
				_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "login-AT", "refresh_token": "login-RT", "expires_in": 600})
			case "refresh_token":
				if r.PostForm.Get("refresh_token") == "revoked" {
					w.WriteHeader(http.StatusBadRequest)
					_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "refreshed-AT", "expires_in": 600})
			default:
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "unsupported_grant_type"})
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) lastGrant() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.grants) == 0 {
		return ""
	}
	return p.grants[len(p.grants)-1]
}

type harness struct {
	t        *testing.T
	provider *fakeProvider
	path     string
	clock    *testingclock.FakeClock
	stdin    string
	openURL  func(string) error
}

func newHarness(t *testing.T) *harness {
	t.Setenv("OIDC_QUIET", "")
	t.Setenv("OIDC_VERBOSE", "")
	t.Setenv("OIDC_NAME", "")
	return &harness{
		t:        t,
		provider: newFakeProvider(t),
		path:     filepath.Join(t.TempDir(), "config.yaml"),
		clock:    testingclock.NewFakeClock(testNow),
	}
}

// run executes the CLI and returns stdout and stderr.
func (h *harness) run(args ...string) (string, string, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand(Config{
		ConfigPath:   h.path,
		OutputWriter: &stdout,
		ErrorWriter:  &stderr,
		Input:        strings.NewReader(h.stdin),
		Clock:        h.clock,
		HTTPClient:   h.provider.server.Client(),
		OpenURL:      h.openURL,
	})
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func (h *harness) store() *config.Config {
	h.t.Helper()
	cfg, err := config.Load(h.path)
	require.NoError(h.t, err)
	return cfg
}

func (h *harness) createConfidential(name string, extra ...string) {
	h.t.Helper()
	args := append([]string{"create", "confidential", name, "--issuer", h.provider.server.URL, "-i", "abc", "-s", "s3cret"}, extra...)
	_, _, err := h.run(args...)
	require.NoError(h.t, err)
}

// approveInBrowser follows the login URL back to the callback server the way
// a browser would after the user approved the request.
func approveInBrowser(t *testing.T) func(string) error {
	return func(raw string) error {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		redirect, err := url.Parse(u.Query().Get("redirect_uri"))
		require.NoError(t, err)
		redirect.Host = "127.0.0.1:" + redirect.Port()
		redirect.RawQuery = url.Values{"code": {"c0de"}, "state": {u.Query().Get("state")}}.Encode()
		resp, err := http.Get(redirect.String())
		require.NoError(t, err)
		_ = resp.Body.Close()
		return nil
	}
}

func TestCreateConfidentialFetchesFirstToken(t *testing.T) {
	h := newHarness(t)
	_, stderr, err := h.run("create", "confidential", "svc", "--issuer", h.provider.server.URL, "-i", "abc", "-s", "s3cret", "--scope", "api")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Client 'svc' created")

	client, err := h.store().FindClient("svc")
	require.NoError(t, err)
	assert.Equal(t, "abc", client.Type.ClientID())
	assert.Equal(t, "api", client.Scope)
	require.NotNil(t, client.State)
	assert.Equal(t, "cc-1", client.State.AccessToken)
	assert.Equal(t, testNow.Add(time.Hour), *client.State.Expires)
}

func TestCreateConfidentialSkipInitial(t *testing.T) {
	h := newHarness(t)
	h.createConfidential("svc", "--skip-initial")

	client, err := h.store().FindClient("svc")
	require.NoError(t, err)
	assert.Nil(t, client.State)
	assert.Zero(t, h.provider.hits.Load())
}

func TestCreateConfidentialSecretFromEnv(t *testing.T) {
	h := newHarness(t)
	t.Setenv("SVC_SECRET", "from-env")
	_, _, err := h.run("create", "confidential", "svc", "--issuer", h.provider.server.URL, "-i", "abc", "--secret-env", "SVC_SECRET", "--skip-initial")
	require.NoError(t, err)

	client, err := h.store().FindClient("svc")
	require.NoError(t, err)
	assert.Equal(t, "from-env", client.Type.Confidential.ClientSecret)
}

func TestCreateRefusesExistingClient(t *testing.T) {
	h := newHarness(t)
	h.createConfidential("svc")

	_, _, err := h.run("create", "confidential", "svc", "--issuer", h.provider.server.URL, "-i", "other", "-s", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	h.createConfidential("svc", "--force", "--skip-initial")
	client, err := h.store().FindClient("svc")
	require.NoError(t, err)
	assert.Nil(t, client.State, "forced create replaces the whole client")
}

func TestCreateConfidentialFailureDoesNotSave(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("create", "confidential", "svc", "--issuer", h.provider.server.URL+"/missing", "-i", "abc", "-s", "s3cret")
	require.Error(t, err)

	var discoveryErr *auth.DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.Contains(t, err.Error(), "failed retrieving first token")
	assert.Empty(t, h.store().Clients)
}

func TestCreateRequiresFlags(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("create", "confidential", "svc", "-i", "abc", "-s", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer")

	_, _, err = h.run("create", "confidential", "svc", "--issuer", h.provider.server.URL, "-i", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client secret is required")

	_, _, err = h.run("create", "public", "me", "--issuer", h.provider.server.URL, "-i", "cli", "--bind", "ipx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported bind mode")
}

func TestTokenUsesCacheAndRefreshesWhenExpired(t *testing.T) {
	h := newHarness(t)
	h.createConfidential("svc")

	stdout, _, err := h.run("token", "-n", "svc")
	require.NoError(t, err)
	assert.Equal(t, "cc-1\n", stdout)
	assert.EqualValues(t, 1, h.provider.hits.Load(), "cached token must be reused")

	h.clock.Step(2 * time.Hour)
	stdout, _, err = h.run("token", "-n", "svc", "--bearer")
	require.NoError(t, err)
	assert.Equal(t, "Bearer cc-2\n", stdout)

	client, err := h.store().FindClient("svc")
	require.NoError(t, err)
	assert.Equal(t, "cc-2", client.State.AccessToken, "refreshed state is persisted")
	assert.Equal(t, testNow.Add(3*time.Hour), *client.State.Expires)
}

func TestTokenFresh(t *testing.T) {
	h := newHarness(t)
	h.createConfidential("svc")

	stdout, _, err := h.run("token", "-n", "svc", "--fresh")
	require.NoError(t, err)
	assert.Equal(t, "cc-2\n", stdout)
}

func TestTokenSelection(t *testing.T) {
	h := newHarness(t)
	h.createConfidential("svc")

	_, _, err := h.run("token", "-n", "svc", "--id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ID token not available")

	_, _, err = h.run("token", "-n", "svc", "-r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh token not available")

	_, _, err = h.run("token", "-n", "svc", "-a", "-r")
	require.Error(t, err)
}

func TestTokenNameFromEnvAndUnknownClient(t *testing.T) {
	h := newHarness(t)
	h.createConfidential("svc")

	t.Setenv("OIDC_NAME", "svc")
	stdout, _, err := h.run("token")
	require.NoError(t, err)
	assert.Equal(t, "cc-1\n", stdout)

	_, _, err = h.run("token", "-n", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown client 'nope'")
}

func TestCreatePublicLoginAndRefresh(t *testing.T) {
	h := newHarness(t)
	h.openURL = approveInBrowser(t)

	_, stderr, err := h.run("create", "public", "me", "--issuer", h.provider.server.URL, "-i", "cli",
		"--bind", "only4", "--open", "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Open the following URL in your browser")
	assert.Equal(t, "authorization_code", h.provider.lastGrant())

	client, err := h.store().FindClient("me")
	require.NoError(t, err)
	assert.True(t, client.Type.IsPublic())
	assert.Equal(t, "login-RT", client.State.RefreshToken)

	h.clock.Step(time.Hour)
	stdout, _, err := h.run("token", "-n", "me")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-AT\n", stdout)
	assert.Equal(t, "refresh_token", h.provider.lastGrant())

	client, err = h.store().FindClient("me")
	require.NoError(t, err)
	assert.Equal(t, "login-RT", client.State.RefreshToken, "refresh token is kept")
}

func TestTokenPublicFailuresKeepStoredState(t *testing.T) {
	h := newHarness(t)
	expired := testNow.Add(-time.Minute)
	cfg := &config.Config{}
	require.NoError(t, cfg.AddClient("me", &config.Client{
		IssuerURL: h.provider.server.URL,
		Type:      config.Public("cli"),
		State:     &config.ClientState{AccessToken: "old", RefreshToken: "revoked", Expires: &expired},
	}, false))
	require.NoError(t, cfg.AddClient("nostate", &config.Client{
		IssuerURL: h.provider.server.URL,
		Type:      config.Public("cli"),
		State:     &config.ClientState{AccessToken: "old", Expires: &expired},
	}, false))
	require.NoError(t, config.Save(h.path, cfg))

	_, _, err := h.run("token", "-n", "me")
	var exchangeErr *auth.ExchangeError
	require.ErrorAs(t, err, &exchangeErr)

	_, _, err = h.run("token", "-n", "nostate")
	require.ErrorIs(t, err, auth.ErrMissingPriorState)

	assert.Equal(t, cfg, h.store())
}

func TestListAndDelete(t *testing.T) {
	h := newHarness(t)
	h.createConfidential("svc")
	h.createConfidential("other", "--skip-initial")

	stdout, _, err := h.run("list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "svc")
	assert.Contains(t, stdout, "valid: 60m")
	assert.NotContains(t, stdout, "s3cret")

	stdout, _, err = h.run("list", "-o", "json")
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, "other", listed[0]["name"])

	_, stderr, err := h.run("delete", "svc")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Client 'svc' deleted")
	assert.Equal(t, []string{"other"}, h.store().Names())

	_, _, err = h.run("delete", "svc")
	require.NoError(t, err, "deleting an unknown client is a no-op")

	_, _, err = h.run("list", "-o", "xml")
	require.Error(t, err)
}

func TestInspect(t *testing.T) {
	h := newHarness(t)
	token := "eyJhbGciOiJub25lIn0.eyJzdWIiOiJtZSJ9."

	stdout, _, err := h.run("inspect", token)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Token #0:")
	assert.Contains(t, stdout, `"sub": "me"`)

	h.stdin = token + "\n\n" + token + "\n"
	stdout, _, err = h.run("inspect")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Token #1:")
	assert.NotContains(t, stdout, "Token #2:")
}

func TestQuietAndVerboseConflict(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("-q", "-v", "list")
	require.Error(t, err)

	t.Setenv("OIDC_QUIET", "true")
	_, _, err = h.run("-v", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be used together")
}

func TestVerboseLogsGoToStderr(t *testing.T) {
	h := newHarness(t)
	h.createConfidential("svc")

	stdout, stderr, err := h.run("-vv", "token", "-n", "svc")
	require.NoError(t, err)
	assert.Equal(t, "cc-1\n", stdout)
	assert.Contains(t, stderr, "Using cached token")
}

func TestCompletionCommand(t *testing.T) {
	h := newHarness(t)
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		stdout, _, err := h.run("completion", shell)
		require.NoError(t, err, shell)
		assert.NotEmpty(t, stdout, shell)
	}

	_, _, err := h.run("completion", "unsupported")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported shell")
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)
	stdout, _, err := h.run("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "oidc "))

	stdout, _, err = h.run("version", "-o", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Contains(t, info, "version")

	_, _, err = h.run("version", "-o", "xml")
	require.Error(t, err)
}

func TestRuntimeState(t *testing.T) {
	rt := &runtimeState{}
	assert.NotNil(t, rt.Writer())
	assert.NotNil(t, rt.ErrWriter())
	assert.NotNil(t, rt.Input())
	assert.NotNil(t, rt.Clock())
	assert.NotNil(t, rt.Logger())
	require.Error(t, rt.SaveConfig())

	rt = &runtimeState{configPath: filepath.Join(t.TempDir(), "config.yaml")}
	require.NoError(t, rt.EnsureConfigLoaded())
	require.NotNil(t, rt.cfg)
	require.NoError(t, rt.SaveConfig())
}

func TestEnvVerbosity(t *testing.T) {
	for value, expected := range map[string]int{"": 0, "2": 2, "true": 1, "false": 0, "junk": 0} {
		t.Setenv("OIDC_TEST_VERBOSE", value)
		assert.Equal(t, expected, envVerbosity("OIDC_TEST_VERBOSE"), value)
	}
}
