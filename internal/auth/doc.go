// ABOUTME: Package documentation for client authentication
// ABOUTME: Describes JWT verification and identity resolution

// Package auth resolves request identities for admission control.
//
// Requests carrying a valid HS256 bearer token are keyed by the token's
// subject; everything else is keyed by remote IP. Authentication here is
// identification, not authorization: an invalid token downgrades the
// caller to anonymous instead of rejecting the request.
package auth
