// ABOUTME: Package documentation for the auth package
// ABOUTME: Describes session tokens and identity propagation

// Package auth provides session authentication for the messaging server.
//
// A user authenticates by presenting an identifier and receives an HS256
// signed JWT session token. The token's "sub" claim carries the identifier,
// which the rest of the system treats as both identity and display name.
// HTTP middleware verifies the Bearer token and attaches an Identity to the
// request context for handlers to consume.
package auth
