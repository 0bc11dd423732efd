package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key"

// fakeIDP is an in-memory OIDC provider reachable through client() under any
// issuer URL, so tests can use realistic issuers without network access.
type fakeIDP struct {
	t      *testing.T
	issuer string
	key    *rsa.PrivateKey
	mux    *http.ServeMux

	discoveryHits atomic.Int32
	tokenHits     atomic.Int32

	mu       sync.Mutex
	forms    []url.Values
	basic    [][2]string
	response func(form url.Values) (int, map[string]any)
}

func newFakeIDP(t *testing.T, issuer string) *fakeIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	u, err := url.Parse(issuer)
	require.NoError(t, err)
	base := strings.TrimSuffix(u.Path, "/")

	idp := &fakeIDP{t: t, issuer: issuer, key: key, mux: http.NewServeMux()}
	idp.mux.HandleFunc(base+"/.well-known/openid-configuration", idp.discovery)
	idp.mux.HandleFunc(base+"/token", idp.token)
	idp.mux.HandleFunc(base+"/keys", idp.keys)
	return idp
}

func (p *fakeIDP) client() *http.Client {
	return &http.Client{Transport: handlerTransport{handler: p.mux}, Timeout: 5 * time.Second}
}

func (p *fakeIDP) respond(fn func(form url.Values) (int, map[string]any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = fn
}

func (p *fakeIDP) lastForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(p.t, p.forms, "token endpoint was not called")
	return p.forms[len(p.forms)-1]
}

// lastClientAuth returns the client id and secret of the last token request,
// whichever way the client chose to send them.
func (p *fakeIDP) lastClientAuth() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(p.t, p.basic, "token endpoint was not called")
	last := p.basic[len(p.basic)-1]
	return last[0], last[1]
}

func (p *fakeIDP) discovery(w http.ResponseWriter, _ *http.Request) {
	p.discoveryHits.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                p.issuer,
		"authorization_endpoint":                p.issuer + "/auth",
		"token_endpoint":                        p.issuer + "/token",
		"jwks_uri":                              p.issuer + "/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *fakeIDP) keys(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     testKeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

func (p *fakeIDP) token(w http.ResponseWriter, r *http.Request) {
	p.tokenHits.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	require.NoError(p.t, r.ParseForm())
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}

	p.mu.Lock()
	p.forms = append(p.forms, r.PostForm)
	p.basic = append(p.basic, [2]string{id, secret})
	respond := p.response
	p.mu.Unlock()

	status, body := http.StatusOK, map[string]any{"access_token": "AT", "token_type": "Bearer"}
	if respond != nil {
		status, body = respond(r.PostForm)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// signIDToken returns a compact RS256 JWT signed with the provider key.
func (p *fakeIDP) signIDToken(claims map[string]any) string {
	p.t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       jose.JSONWebKey{Key: p.key, KeyID: testKeyID, Algorithm: string(jose.RS256)},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(p.t, err)
	payload, err := json.Marshal(claims)
	require.NoError(p.t, err)
	jws, err := signer.Sign(payload)
	require.NoError(p.t, err)
	raw, err := jws.CompactSerialize()
	require.NoError(p.t, err)
	return raw
}

type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := r.Context().Err(); err != nil {
		return nil, err
	}
	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, r)
	resp := rec.Result()
	resp.Request = r
	return resp, nil
}

// unsignedJWT builds a token whose claims can be decoded without a key.
func unsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef")}, nil)
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	jws, err := signer.Sign(payload)
	require.NoError(t, err)
	raw, err := jws.CompactSerialize()
	require.NoError(t, err)
	return raw
}
