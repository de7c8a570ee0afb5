package models

import "errors"

var (
	// ErrNoData means a source answered a valid request with nothing.
	// Callers treat it as "no new data".
	ErrNoData = errors.New("source returned no data")

	// ErrMalformedInput means external input could not be parsed. It aborts
	// the current sector or instrument, not the run.
	ErrMalformedInput = errors.New("malformed input")

	// ErrSchemaDrift means a constituent column is missing where one was
	// expected. It is repaired by adding the column.
	ErrSchemaDrift = errors.New("schema drift")

	// ErrConstraintViolation means an append hit an existing primary key.
	// The overlap filter should make this impossible, so it is a defect.
	ErrConstraintViolation = errors.New("constraint violation")
)
