// Package cmd implements the cobra command tree of the oidc CLI: creating
// confidential and public clients, printing and refreshing their tokens,
// listing, deleting, token inspection and shell completion.
package cmd
