// Package fitstore defines the persisted form of an extracted fit and the
// contract every record backend implements.
package fitstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cellfit/pkg/allenfit"
)

var (
	// ErrNotFound is wrapped when no record matches an ID or digest.
	ErrNotFound = errors.New("fitstore: not found")
	// ErrExists is wrapped when a record with the same ID or digest is stored.
	ErrExists = errors.New("fitstore: already exists")
)

// Record is an extracted fit together with where it came from.
type Record struct {
	ID string `json:"id"`
	// Source is the blob key of the fit document.
	Source string `json:"source"`
	// Digest is the hex sha256 of the document bytes.
	Digest    string       `json:"digest"`
	Fit       allenfit.Fit `json:"fit"`
	CreatedAt time.Time    `json:"created_at"`
}

// Validate reports records that cannot be stored.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return errors.New("fitstore: record id required")
	case r.Digest == "":
		return fmt.Errorf("fitstore: record %s has no digest", r.ID)
	}
	return nil
}

// Store persists fit records. Records are immutable once saved.
type Store interface {
	// Save stores r and fails with ErrExists when its ID or digest is taken.
	Save(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	// List returns every record ordered by creation time, then ID.
	List(ctx context.Context) ([]Record, error)
	FindByDigest(ctx context.Context, digest string) (Record, error)
	Close() error
}

// NotFound wraps ErrNotFound for the given lookup.
func NotFound(what, value string) error {
	return fmt.Errorf("fit %s %s: %w", what, value, ErrNotFound)
}

// Exists wraps ErrExists for the given record.
func Exists(r Record) error {
	return fmt.Errorf("fit %s (digest %s): %w", r.ID, r.Digest, ErrExists)
}
