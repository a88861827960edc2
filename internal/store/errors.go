package store

import "errors"

// ErrNotFound is returned (wrapped with the path) when a database file's
// block 0 does not exist and the caller did not request creation.
var ErrNotFound = errors.New("store: file not found")
