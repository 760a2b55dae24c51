package postgres

import "errors"

var (
	// ErrNoURL is returned by Open when no database URL is configured.
	ErrNoURL = errors.New("postgres: no database url")
	// ErrConnect wraps pool creation and ping failures.
	ErrConnect = errors.New("postgres: connect")
	// ErrMigrate wraps schema migration failures.
	ErrMigrate = errors.New("postgres: migrate")
)
