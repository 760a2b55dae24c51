package repository

import "errors"

// Sentinel kinds for token cache errors.
var (
	ErrCorruptCache = errors.New("token cache file is corrupt")
	ErrNoPath       = errors.New("token cache has no path")
)
