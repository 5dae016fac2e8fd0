package repository

import "errors"

// ErrConflict signals a lost conditional update (another writer changed
// the row first). Callers retry within a bounded budget.
var ErrConflict = errors.New("concurrent modification conflict")
