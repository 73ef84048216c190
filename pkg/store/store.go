// Package store defines errors shared by the knowledge-base backends.
package store

import "errors"

// ErrNotFound is returned when a named knowledge base does not exist.
var ErrNotFound = errors.New("knowledge base not found")

// ErrInvalidName is returned for names that cannot be used as a knowledge
// base identifier.
var ErrInvalidName = errors.New("invalid knowledge base name")
