package lists

import "errors"

// Sentinel kinds for list loading errors.
var (
	ErrReadList    = errors.New("read list file")
	ErrReadWeights = errors.New("read weights file")
)
