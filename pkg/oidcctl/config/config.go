package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the on-disk client store.
type Config struct {
	Clients map[string]*Client `yaml:"clients"`
}

// Client is a named client configuration. Only State changes after creation.
type Client struct {
	IssuerURL string       `yaml:"issuer_url"`
	Type      ClientType   `yaml:"type"`
	Scope     string       `yaml:"scope,omitempty"`
	State     *ClientState `yaml:"state,omitempty"`
}

// ClientType holds exactly one of the two client variants.
type ClientType struct {
	Confidential *ConfidentialClient `yaml:"Confidential,omitempty"`
	Public       *PublicClient       `yaml:"Public,omitempty"`
}

type ConfidentialClient struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type PublicClient struct {
	ClientID string `yaml:"client_id"`
}

// ClientState is the cached token state of a client.
type ClientState struct {
	AccessToken  string     `yaml:"access_token" json:"access_token"`
	IDToken      string     `yaml:"id_token,omitempty" json:"id_token,omitempty"`
	RefreshToken string     `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	Expires      *time.Time `yaml:"expires,omitempty" json:"expires,omitempty"`
}

// Confidential returns a confidential client type.
func Confidential(clientID, clientSecret string) ClientType {
	return ClientType{Confidential: &ConfidentialClient{ClientID: clientID, ClientSecret: clientSecret}}
}

// Public returns a public client type.
func Public(clientID string) ClientType {
	return ClientType{Public: &PublicClient{ClientID: clientID}}
}

// ClientID returns the client ID of whichever variant is set.
func (t ClientType) ClientID() string {
	switch {
	case t.Confidential != nil:
		return t.Confidential.ClientID
	case t.Public != nil:
		return t.Public.ClientID
	default:
		return ""
	}
}

// IsPublic reports whether the client is a public client.
func (t ClientType) IsPublic() bool {
	return t.Public != nil && t.Confidential == nil
}

func (t ClientType) Validate() error {
	switch {
	case t.Confidential != nil && t.Public != nil:
		return errors.New("client type must be either confidential or public, not both")
	case t.Confidential != nil:
		if strings.TrimSpace(t.Confidential.ClientID) == "" {
			return errors.New("client id is required")
		}
		return nil
	case t.Public != nil:
		if strings.TrimSpace(t.Public.ClientID) == "" {
			return errors.New("client id is required")
		}
		return nil
	default:
		return errors.New("client type missing")
	}
}

// Scopes splits the space-delimited scope into individual values.
func (c *Client) Scopes() []string {
	return strings.Fields(c.Scope)
}

func (c *Client) Validate() error {
	if strings.TrimSpace(c.IssuerURL) == "" {
		return errors.New("issuer url is required")
	}
	return c.Type.Validate()
}

// Clone returns a deep copy of the state.
func (s *ClientState) Clone() *ClientState {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Expires != nil {
		expires := *s.Expires
		clone.Expires = &expires
	}
	return &clone
}

// Load reads the store from path. A missing file yields an empty store.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Clients: map[string]*Client{}}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Clients == nil {
		cfg.Clients = map[string]*Client{}
	}
	for name, client := range cfg.Clients {
		if client == nil {
			return nil, fmt.Errorf("client %s is empty", name)
		}
		if client.State != nil && client.State.Expires != nil {
			expires := client.State.Expires.UTC()
			client.State.Expires = &expires
		}
	}
	return &cfg, nil
}

// Save writes the store to path, readable by the owner only.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Clients == nil {
		cfg.Clients = map[string]*Client{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(path, 0o600)
}

func (c *Config) FindClient(name string) (*Client, error) {
	client, ok := c.Clients[name]
	if !ok || client == nil {
		return nil, fmt.Errorf("unknown client '%s'", name)
	}
	return client, nil
}

// AddClient stores client under name. An existing client is only replaced
// when force is set.
func (c *Config) AddClient(name string, client *Client, force bool) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("client name cannot be empty")
	}
	if err := client.Validate(); err != nil {
		return fmt.Errorf("client %s: %w", name, err)
	}
	if c.Clients == nil {
		c.Clients = map[string]*Client{}
	}
	if _, exists := c.Clients[name]; exists && !force {
		return fmt.Errorf("a client named '%s' already exists. You need to delete it first or use --force", name)
	}
	c.Clients[name] = client
	return nil
}

// DeleteClient removes a client and reports whether it existed.
func (c *Config) DeleteClient(name string) bool {
	if _, ok := c.Clients[name]; !ok {
		return false
	}
	delete(c.Clients, name)
	return true
}

// Names returns the client names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Clients))
	for name := range c.Clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
