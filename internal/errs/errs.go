// Package errs holds the sentinel errors shared across the gateway.
//
// Kinds are represented as plain sentinel values rather than a type
// hierarchy, matching the flat fmt.Errorf-wrapping style the rest of
// this codebase uses (see cache.Cache, auth.Verifier). The policy
// sentinels map one-to-one onto the wire reason tags the hubs emit.
package errs

import "errors"

var (
	// ErrAuthInvalid means a bearer token failed signature, issuer,
	// audience, or expiry validation.
	ErrAuthInvalid = errors.New("auth: token invalid")

	// ErrKeyNotFound means no verification key matched the token's kid
	// (or no key source is configured at all).
	ErrKeyNotFound = errors.New("auth: verification key not found")

	// ErrRateLimited means a rate-limit check denied the request.
	ErrRateLimited = errors.New("ratelimit: denied")

	// ErrNotSeated means a chat sender has no seat or spectator row on
	// the table.
	ErrNotSeated = errors.New("chat: not seated")

	// ErrMuted means a chat sender is muted on the table.
	ErrMuted = errors.New("chat: muted")

	// ErrEmptyMessage means chat text was empty after trimming.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrMessageTooLong means chat text exceeded the length limit.
	ErrMessageTooLong = errors.New("chat: message too long")

	// ErrInvalidAction means a table action tag did not match the
	// fixed action set.
	ErrInvalidAction = errors.New("table: invalid action")

	// ErrMissingAmount means a BET/RAISE action omitted a finite amount.
	ErrMissingAmount = errors.New("table: missing amount")

	// ErrUpstreamUnavailable wraps gRPC failures to a downstream
	// backend service.
	ErrUpstreamUnavailable = errors.New("rpc: upstream unavailable")
)
