// Package blobstore persists encrypted envelopes under string keys across two
// tiers: a remote primary store and a local fallback.
//
// Writes go to the primary first and fall back to local storage on any
// primary failure. Reads try the primary and then the fallback. Every call
// reports which tier served it so operators can find blobs that never made
// it to the primary. Nothing is promoted back automatically.
package blobstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned (wrapped) by a Backend for a missing key.
	ErrNotFound = errors.New("blob not found in tier")

	// ErrBlobNotFound means both tiers answered and neither holds the key.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrStorageUnavailable means no tier could complete the operation.
	// Transient, the caller may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrPartialDeleteFailure means one tier deleted the key and the other
	// failed. The blob may still exist in the failing tier.
	ErrPartialDeleteFailure = errors.New("partial delete failure")

	// ErrInvalidKey is returned for keys a backend cannot map safely.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Backend is one storage tier. Implementations must be safe for concurrent
// use with distinct keys. Delete of a missing key succeeds.
type Backend interface {
	Put(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Tier identifies which backend committed or served a blob.
type Tier int

const (
	TierNone Tier = iota
	TierPrimary
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierFallback:
		return "fallback"
	default:
		return "none"
	}
}

// ParseTier is the inverse of Tier.String.
func ParseTier(s string) Tier {
	switch s {
	case "primary":
		return TierPrimary
	case "fallback":
		return TierFallback
	default:
		return TierNone
	}
}

// DeleteResult is the outcome of TieredStore.Delete.
type DeleteResult int

const (
	DeleteFailed DeleteResult = iota
	Deleted
	PartialDelete
)

func (r DeleteResult) String() string {
	switch r {
	case Deleted:
		return "deleted"
	case PartialDelete:
		return "partial"
	default:
		return "failed"
	}
}

// PartialDeleteError names the tier that failed during a partial delete.
type PartialDeleteError struct {
	Key    string
	Failed Tier
	Err    error
}

func (e *PartialDeleteError) Error() string {
	return "partial delete failure: " + e.Failed.String() + " tier: " + e.Err.Error()
}

func (e *PartialDeleteError) Unwrap() []error {
	return []error{ErrPartialDeleteFailure, e.Err}
}
