package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/oidc-cli/pkg/system"
)

const (
	successBody  = "You can now close this window"
	deniedBody   = "Authorization failed, you can now close this window"
	shutdownWait = 5 * time.Second
)

// State is the lifecycle state of a callback server.
type State int

const (
	StateBinding State = iota
	StateListening
	StateDelivered
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateBinding:
		return "binding"
	case StateListening:
		return "listening"
	case StateDelivered:
		return "delivered"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the authorization response captured from the redirect.
type Result struct {
	Code string
	// State is nil when the redirect carried no state parameter.
	State *string
}

// AuthorizationError is delivered when the provider redirects back with an
// error instead of a code, e.g. because the user denied consent.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
	}
	return "authorization failed: " + e.Code
}

// ErrConsumed is returned by Wait when the outcome has already been taken.
var ErrConsumed = errors.New("callback result already consumed")

type outcome struct {
	result *Result
	err    error
}

// Options configures a callback server.
type Options struct {
	Bind BindMode
	// Port to bind, 0 picks an ephemeral port.
	Port   int
	Logger *zap.SugaredLogger
}

// Server is a throwaway loopback HTTP listener that captures exactly one
// authorization redirect and hands it to a single waiter.
type Server struct {
	log      *zap.SugaredLogger
	listener net.Listener
	http     *http.Server
	port     int

	mu    sync.Mutex
	state State
	// slot is nil once an outcome has been delivered
	slot chan<- outcome

	results   <-chan outcome
	waitOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	served    chan struct{}
}

// Start binds the listener according to opts and serves in the background.
func Start(opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	bind, err := ParseBindMode(string(opts.Bind))
	if err != nil {
		return nil, err
	}

	ch := make(chan outcome, 1)
	s := &Server{
		log:     log,
		state:   StateBinding,
		slot:    ch,
		results: ch,
		served:  make(chan struct{}),
	}

	listener, err := s.listen(bind, opts.Port)
	if err != nil {
		return nil, err
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		system.AccessLogMiddleware(log.Desugar()),
		system.RecoveryMiddleware(log.Desugar()),
		system.ReqLoggerMiddleware(log),
	)
	engine.GET("/", s.receive)

	s.http = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.state = StateListening
	s.mu.Unlock()

	go s.serve()

	log.Debugw("Callback server listening", "address", listener.Addr().String())
	return s, nil
}

func (s *Server) serve() {
	defer close(s.served)
	err := s.http.Serve(s.listener)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	// still holding the slot means nobody got a result yet
	if s.deliver(outcome{err: fmt.Errorf("callback server failed: %w", err)}, StateErrored) {
		s.log.Errorw("Callback server failed", "error", err)
	}
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.port
}

// RedirectURI returns the URI the provider must redirect the browser to.
func (s *Server) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d", s.port)
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// deliver takes the slot and sends o through it. It returns false when the
// slot was already taken.
func (s *Server) deliver(o outcome, next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slot == nil {
		return false
	}
	s.slot <- o
	s.slot = nil
	s.state = next
	return true
}

func (s *Server) receive(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)
	c.Header("Cache-Control", "no-store")
	c.Header("Referrer-Policy", "no-referrer")

	code := c.Query("code")
	providerErr := c.Query("error")
	if code == "" && providerErr == "" {
		s.mu.Lock()
		open := s.slot != nil
		s.mu.Unlock()
		if !open {
			c.String(http.StatusGone, "Authorization result already received")
			return
		}
		log.Infow("Ignoring callback request without code")
		c.String(http.StatusBadRequest, "Missing 'code' parameter")
		return
	}

	if providerErr != "" {
		authErr := &AuthorizationError{Code: providerErr, Description: c.Query("error_description")}
		if !s.deliver(outcome{err: authErr}, StateErrored) {
			c.String(http.StatusGone, "Authorization result already received")
			return
		}
		log.Warnw("Provider returned an authorization error", "error", authErr.Code, "description", authErr.Description)
		c.String(http.StatusOK, deniedBody)
		return
	}

	result := &Result{Code: code}
	if state, ok := c.GetQuery("state"); ok {
		result.State = &state
	}
	if !s.deliver(outcome{result: result}, StateDelivered) {
		log.Infow("Callback already delivered, rejecting request")
		c.String(http.StatusGone, "Authorization result already received")
		return
	}
	log.Debugw("Callback delivered")
	c.String(http.StatusOK, successBody)
}

// Wait blocks until the server has an outcome or ctx ends, then tears the
// server down. Only the first call can receive the outcome; later calls get
// ErrConsumed.
func (s *Server) Wait(ctx context.Context) (*Result, error) {
	first := false
	s.waitOnce.Do(func() { first = true })
	if !first {
		return nil, ErrConsumed
	}
	defer func() { _ = s.Close() }()

	select {
	case o := <-s.results:
		return o.result, o.err
	case <-ctx.Done():
		// a late request must not be handed a result nobody reads
		s.deliver(outcome{err: ctx.Err()}, StateErrored)
		return nil, ctx.Err()
	}
}

// Close shuts the server down, giving in-flight responses a moment to finish.
// It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.closeErr = s.http.Close()
		}
		<-s.served
		s.log.Debugw("Callback server stopped", "state", s.State().String())
	})
	return s.closeErr
}
