package output

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"k8s.io/apimachinery/pkg/util/duration"

	"github.com/telekom/oidc-cli/pkg/oidcctl/config"
)

// ClientSummary is the listing view of a stored client. It never carries
// secrets or tokens.
type ClientSummary struct {
	Name            string     `json:"name" yaml:"name"`
	Issuer          string     `json:"issuer" yaml:"issuer"`
	ClientID        string     `json:"clientID" yaml:"clientID"`
	Public          bool       `json:"public" yaml:"public"`
	Scope           string     `json:"scope,omitempty" yaml:"scope,omitempty"`
	HasToken        bool       `json:"hasToken" yaml:"hasToken"`
	HasRefreshToken bool       `json:"hasRefreshToken" yaml:"hasRefreshToken"`
	Expires         *time.Time `json:"expires,omitempty" yaml:"expires,omitempty"`
}

// Summarize returns the clients of cfg ordered by name.
func Summarize(cfg *config.Config) []ClientSummary {
	if cfg == nil {
		return nil
	}
	out := make([]ClientSummary, 0, len(cfg.Clients))
	for _, name := range cfg.Names() {
		c := cfg.Clients[name]
		s := ClientSummary{
			Name:     name,
			Issuer:   c.IssuerURL,
			ClientID: c.Type.ClientID(),
			Public:   c.Type.IsPublic(),
			Scope:    c.Scope,
		}
		if c.State != nil {
			s.HasToken = c.State.AccessToken != ""
			s.HasRefreshToken = c.State.RefreshToken != ""
			if c.State.Expires != nil {
				expires := c.State.Expires.UTC()
				s.Expires = &expires
			}
		}
		out = append(out, s)
	}
	return out
}

// WriteClientTable renders clients with the remaining validity of their
// access token relative to now.
func WriteClientTable(w io.Writer, clients []ClientSummary, now time.Time) {
	if len(clients) == 0 {
		_, _ = fmt.Fprintln(w, "No clients configured. Use 'oidc create' to add one.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"NAME", "ISSUER", "CLIENT", "PUBLIC", "ACCESS TOKEN"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignCenter}})
	for _, c := range clients {
		public := ""
		if c.Public {
			public = "X"
		}
		t.AppendRow(table.Row{c.Name, c.Issuer, c.ClientID, public, Validity(c, now)})
	}
	t.Render()
}

// Validity describes how long the cached access token stays valid.
func Validity(c ClientSummary, now time.Time) string {
	switch {
	case !c.HasToken:
		return "-"
	case c.Expires == nil:
		return "∞"
	}
	expires := c.Expires.UTC()
	stamp := expires.Format(time.RFC3339)
	remaining := expires.Sub(now.UTC())
	if remaining > 0 {
		return color.GreenString("valid: %s (%s)", duration.HumanDuration(remaining), stamp)
	}
	return color.New(color.Faint).Sprintf("expired: %s (%s)", duration.HumanDuration(-remaining), stamp)
}
