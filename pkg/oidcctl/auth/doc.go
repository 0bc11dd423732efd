// Package auth obtains and refreshes OIDC tokens for stored clients. It runs
// the client credentials grant for confidential clients, the refresh token
// grant for public clients and the interactive authorization code login with
// PKCE that creates the first state of a public client.
package auth
