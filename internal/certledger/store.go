package certledger

import (
	"context"
	"time"
)

// Store is the persistence interface for ledger records.
//
// Insert is a conditional append: it succeeds only when rec.Position is one
// past the current tail and rec.PreviousLink equals the tail's ChainLink
// (NoPreviousLink and position 0 on an empty ledger). Otherwise it returns
// ErrTailMoved and writes nothing. A taken certificate_id yields
// ErrDuplicateID. Backend failures wrap ErrStorageUnavailable.
//
// Only the Sequencer calls Insert.
type Store interface {
	// Tail returns the record with the highest position, or ErrNotFound.
	Tail(ctx context.Context) (*Record, error)

	// Insert appends rec if the tail it was derived from is still current.
	Insert(ctx context.Context, rec *Record) error

	// GetByID returns the record with the given certificate_id.
	GetByID(ctx context.Context, certificateID string) (*Record, error)

	// GetByChainLink returns the record whose chain link equals link.
	GetByChainLink(ctx context.Context, link string) (*Record, error)

	// GetByVerificationKey returns the lowest-positioned record with key.
	GetByVerificationKey(ctx context.Context, key string) (*Record, error)

	// Range returns up to limit records starting at position offset, in
	// ascending position order. limit <= 0 means no limit.
	Range(ctx context.Context, offset, limit int) ([]*Record, error)

	// Scan calls fn for every record in ascending position order from a
	// consistent snapshot. A non-nil error from fn stops the scan.
	Scan(ctx context.Context, fn func(*Record) error) error

	// Len returns the number of records.
	Len(ctx context.Context) (int, error)

	// MarkVerified sets is_verified and refreshes verified_at.
	MarkVerified(ctx context.Context, certificateID string, at time.Time) (*Record, error)
}
