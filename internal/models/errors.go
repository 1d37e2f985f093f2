package models

import "errors"

var (
	// ErrMissingColumn is returned when a required column is absent from the prepared table.
	ErrMissingColumn = errors.New("missing required column")
	// ErrSchema is returned for inconsistent shapes: column lengths, feature dimensions.
	ErrSchema = errors.New("schema mismatch")
	// ErrNotHourly is returned when UTC bucketing is required but a timestamp is not on the hour.
	ErrNotHourly = errors.New("timestamp not aligned to a whole UTC hour")
	// ErrInsufficientData is returned when a target has no usable rows to train or validate on.
	ErrInsufficientData = errors.New("insufficient training data")
)
