// Package callback implements the short-lived loopback HTTP server that
// receives the authorization redirect of an interactive login. The first
// request carrying a code (or a provider error) is delivered to the single
// waiter; every later request is answered with 410 Gone.
package callback
