package output

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"
	"k8s.io/apimachinery/pkg/util/duration"

	"github.com/telekom/oidc-cli/pkg/oidcctl/claims"
)

var (
	headingColor = color.New(color.Bold)
	problemColor = color.New(color.FgYellow)
)

// WriteInspection prints every segment of token. JSON segments are indented,
// other segments are printed as text or as a hex dump. A broken segment never
// stops the rest of the token from being shown.
func WriteInspection(w io.Writer, n int, token string, now time.Time) error {
	if _, err := headingColor.Fprintf(w, "Token #%d:\n", n); err != nil {
		return err
	}
	for i, part := range claims.Split(token) {
		if err := writePart(w, i, part); err != nil {
			return err
		}
	}
	if c, err := claims.DecodeUnverified(token); err == nil {
		writeTimes(w, c, now)
	}
	return nil
}

func writePart(w io.Writer, i int, part claims.Part) error {
	_, _ = headingColor.Fprintf(w, "  Part #%d:", i)
	switch {
	case part.DecodeErr != nil:
		_, err := problemColor.Fprintf(w, " Unable to decode: %v\n", part.DecodeErr)
		return err
	case part.JSONErr != nil:
		_, _ = problemColor.Fprintf(w, " Invalid JSON: %v\n", part.JSONErr)
		if isText(part.Raw) {
			_, err := fmt.Fprintln(w, indent(string(part.Raw)))
			return err
		}
		_, err := fmt.Fprint(w, indent(hex.Dump(part.Raw)))
		return err
	default:
		data, err := json.MarshalIndent(part.JSON, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "\n%s\n", indent(string(data)))
		return err
	}
}

// writeTimes adds readable forms of the registered time claims.
func writeTimes(w io.Writer, c *claims.Claims, now time.Time) {
	line := func(name string, t *time.Time) {
		if t == nil {
			return
		}
		rel := "in " + duration.HumanDuration(t.Sub(now))
		if !t.After(now) {
			rel = duration.HumanDuration(now.Sub(*t)) + " ago"
		}
		_, _ = fmt.Fprintf(w, "  %-9s %s (%s)\n", name+":", t.UTC().Format(time.RFC3339), rel)
	}
	line("Issued", c.IssuedAt)
	line("Auth", c.AuthTime)
	line("Expires", c.ExpiresAt)
}

func isText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
