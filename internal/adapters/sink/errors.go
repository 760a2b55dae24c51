package sink

import "errors"

var (
	// ErrMissingColumn is returned by ReadCSV when a required column is absent.
	ErrMissingColumn = errors.New("csv: missing required column")
	// ErrNoDir is returned when a CSV sink has no output directory.
	ErrNoDir = errors.New("csv: no output directory")
)
