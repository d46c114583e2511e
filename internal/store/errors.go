package store

import "errors"

// ErrNotFound is returned when a notebook, document, chat turn or note
// does not exist.
var ErrNotFound = errors.New("record not found")
