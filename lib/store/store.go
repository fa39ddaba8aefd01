// Package store defines the interface for database implementations to the pipeline and tracker microservices.
package store

import (
	"errors"
)

// DB defines required methods for persisting tracked transactions.
type DB interface {
	// SaveTracked inserts or replaces the record for the transaction id.
	SaveTracked(TrackedTransaction) error
	// GetTracked returns the record for the transaction id.
	GetTracked(id string) (TrackedTransaction, error)
	// ListTracked returns all records, or only non-terminal ones when pending is set.
	ListTracked(pending bool) ([]TrackedTransaction, error)
	// RemoveTracked deletes the record for the transaction id.
	RemoveTracked(id string) error
}

// Errors returned
var (
	ErrTxNotFound   = errors.New("Transaction was not found in store")
	ErrDataNotFound = errors.New("Data was not found in store")
)
