package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record identity does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrEmptyBatch is returned for a bulk request without records.
	ErrEmptyBatch = errors.New("empty payload")
	// ErrEmptyPatch is returned for a patch that sets no field.
	ErrEmptyPatch = errors.New("empty update payload")
)

// SchemaError reports malformed caller input. Index is the position of the
// offending record in a bulk batch, or -1 for single-record requests.
type SchemaError struct {
	Index  int
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("record %d: field %q: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// Enrichment stages.
const (
	StageDescription    = "description"
	StageClassification = "classification"
)

// EnrichmentError reports a failure of an external enrichment capability.
type EnrichmentError struct {
	Stage string
	Err   error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment failed at %s: %v", e.Stage, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// PersistenceError reports a storage failure other than a duplicate key.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DeliveryError reports a failed send to one observer. It never leaves the hub.
type DeliveryError struct {
	Conn string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Conn, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsClientError reports whether err is caused by the caller's input.
func IsClientError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr) || errors.Is(err, ErrEmptyBatch) || errors.Is(err, ErrEmptyPatch)
}
