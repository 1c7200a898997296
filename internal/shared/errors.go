// Package shared defines sentinel errors and small utilities used across
// the server and client layers. Callers should use errors.Is to match
// these values.
package shared

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")

	// Auth errors. The reply strings sent to clients live in the auth
	// package; these sentinels drive control flow.
	ErrorUnknownUser       = errors.New("user is not registered")
	ErrorUsernameInUse     = errors.New("username is in use")
	ErrorBadDigest         = errors.New("bad password digest")
)
