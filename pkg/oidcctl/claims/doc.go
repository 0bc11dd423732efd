// Package claims peeks into compact JWTs without verifying them. The result
// is only a hint for expiry checks and inspection output.
package claims
