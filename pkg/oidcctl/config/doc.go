// Package config is the client store of the oidc CLI: named client
// configurations and their cached token state, persisted as YAML.
package config
