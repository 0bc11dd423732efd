package callback

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// BindMode selects which loopback address families the callback listener tries.
type BindMode string

const (
	// BindPrefer6 tries IPv6 first, then falls back to IPv4.
	BindPrefer6 BindMode = "prefer6"
	// BindPrefer4 tries IPv4 first, then falls back to IPv6.
	BindPrefer4 BindMode = "prefer4"
	// BindOnly6 only tries IPv6.
	BindOnly6 BindMode = "only6"
	// BindOnly4 only tries IPv4.
	BindOnly4 BindMode = "only4"
)

// BindModes lists all supported modes, the default first.
var BindModes = []BindMode{BindPrefer6, BindPrefer4, BindOnly6, BindOnly4}

type candidate struct {
	network string
	host    string
}

var (
	loopback6 = candidate{network: "tcp6", host: "::1"}
	loopback4 = candidate{network: "tcp4", host: "127.0.0.1"}
)

// ParseBindMode parses a mode name. An empty string selects BindPrefer6.
func ParseBindMode(s string) (BindMode, error) {
	if s == "" {
		return BindPrefer6, nil
	}
	mode := BindMode(strings.ToLower(s))
	for _, m := range BindModes {
		if m == mode {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unsupported bind mode %q (expected one of %s)", s, joinModes())
}

func (m BindMode) String() string { return string(m) }

// Set and Type let a BindMode be used as a pflag value.
func (m *BindMode) Set(s string) error {
	parsed, err := ParseBindMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m *BindMode) Type() string { return "bind-mode" }

func (m BindMode) candidates() []candidate {
	switch m {
	case BindPrefer4:
		return []candidate{loopback4, loopback6}
	case BindOnly6:
		return []candidate{loopback6}
	case BindOnly4:
		return []candidate{loopback4}
	default:
		return []candidate{loopback6, loopback4}
	}
}

// BindError is returned when no loopback address could be bound.
type BindError struct {
	Mode BindMode
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("unable to bind callback listener (mode %s, port %d): %v", e.Mode, e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// listen walks the candidates of the mode in order and returns the first
// listener that binds. Later candidates are only tried after a bind failure.
func (s *Server) listen(mode BindMode, port int) (net.Listener, error) {
	var errs []error
	for i, c := range mode.candidates() {
		addr := net.JoinHostPort(c.host, strconv.Itoa(port))
		l, err := net.Listen(c.network, addr)
		if err == nil {
			return l, nil
		}
		errs = append(errs, err)
		if i+1 < len(mode.candidates()) {
			s.log.Infow("Failed to bind callback listener, trying next address family", "address", addr, "error", err)
		}
	}
	return nil, &BindError{Mode: mode, Port: port, Err: errors.Join(errs...)}
}

func joinModes() string {
	names := make([]string, 0, len(BindModes))
	for _, m := range BindModes {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}
