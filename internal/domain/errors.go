package domain

import "errors"

// ErrDuplicate is returned when a record for the source is already stored.
var ErrDuplicate = errors.New("metadata already exists")
