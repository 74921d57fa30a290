package blobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/geocrypt/internal/logging"
)

// DefaultTimeout bounds each single tier operation.
const DefaultTimeout = 10 * time.Second

// TieredStore writes to a primary Backend, falling back to a second one.
// Operations on the same key are not ordered.
//
// A key holds one envelope across both tiers. After a commit the other tier's
// copy is removed; if that removal fails the tier is remembered as stale for
// the key and reads skip it until a later Put or Delete clears it. The stale
// set lives in memory only, so every such failure is also logged at ERROR
// for operators to reconcile.
type TieredStore struct {
	primary  Backend
	fallback Backend
	timeout  time.Duration
	logger   logging.Logger

	mu    sync.Mutex
	stale map[string]Tier
}

// Option configures a TieredStore in New.
type Option func(*TieredStore)

// WithTimeout sets the per-tier operation timeout. Non-positive values are
// ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *TieredStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger for tier failures and fallback usage.
func WithLogger(l logging.Logger) Option {
	return func(s *TieredStore) {
		s.logger = l
	}
}

// New returns a TieredStore over the two backends.
func New(primary, fallback Backend, opts ...Option) *TieredStore {
	s := &TieredStore{
		primary:  primary,
		fallback: fallback,
		timeout:  DefaultTimeout,
		logger:   logging.NewNop(),
		stale:    map[string]Tier{},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("module", "blobstore")
	return s
}

// Put stores blob under key and returns the tier that committed it. A
// primary failure of any kind, timeouts included, sends the write to the
// fallback. If both fail the error wraps ErrStorageUnavailable and nothing
// was stored. Any older copy in the tier that did not commit is removed.
func (s *TieredStore) Put(ctx context.Context, key string, blob []byte) (Tier, error) {
	primaryErr := s.call(ctx, func(ctx context.Context) error {
		return s.primary.Put(ctx, key, blob)
	})
	if primaryErr == nil {
		s.logger.Debug(ctx, "blob committed", "key", key, "tier", TierPrimary.String(), "size", len(blob))
		s.dropCopy(ctx, key, TierFallback)
		return TierPrimary, nil
	}

	s.logger.Warn(ctx, "primary write failed, using fallback", "key", key, "error", primaryErr.Error())

	fallbackErr := s.call(ctx, func(ctx context.Context) error {
		return s.fallback.Put(ctx, key, blob)
	})
	if fallbackErr != nil {
		s.logger.Error(ctx, "blob write failed on both tiers", "key", key,
			"primary_error", primaryErr.Error(), "fallback_error", fallbackErr.Error())
		return TierNone, fmt.Errorf("%w: put %q: primary: %v; fallback: %v", ErrStorageUnavailable, key, primaryErr, fallbackErr)
	}

	s.logger.Warn(ctx, "blob committed", "key", key, "tier", TierFallback.String(), "size", len(blob))
	s.dropCopy(ctx, key, TierPrimary)
	return TierFallback, nil
}

// dropCopy removes key from tier after the other tier committed a newer
// envelope. On failure tier is marked stale for key.
func (s *TieredStore) dropCopy(ctx context.Context, key string, tier Tier) {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.backend(tier).Delete(ctx, key)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.stale, key)
		return
	}
	s.stale[key] = tier
	s.logger.Error(ctx, "stale blob copy left behind", "key", key, "stale_tier", tier.String(), "error", err.Error())
}

// StaleTier reports the tier holding an outdated copy of key that could not
// be removed, or TierNone.
func (s *TieredStore) StaleTier(key string) Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.stale[key]; ok {
		return t
	}
	return TierNone
}

func (s *TieredStore) backend(t Tier) Backend {
	if t == TierPrimary {
		return s.primary
	}
	return s.fallback
}

// Get returns the blob for key and the tier that served it. The fallback is
// consulted whenever the primary does not return the blob. A tier marked
// stale for key is never read. The error wraps ErrBlobNotFound only if every
// tier read answered "not found"; if one was unreachable it wraps
// ErrStorageUnavailable, since the blob may live there.
func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, Tier, error) {
	stale := s.StaleTier(key)

	primaryErr := errSkipped
	var blob []byte
	if stale != TierPrimary {
		primaryErr = s.call(ctx, func(ctx context.Context) error {
			var err error
			blob, err = s.primary.Get(ctx, key)
			return err
		})
		if primaryErr == nil {
			return blob, TierPrimary, nil
		}
		if !errors.Is(primaryErr, ErrNotFound) {
			s.logger.Warn(ctx, "primary read failed, trying fallback", "key", key, "error", primaryErr.Error())
		}
	}

	fallbackErr := errSkipped
	if stale != TierFallback {
		fallbackErr = s.call(ctx, func(ctx context.Context) error {
			var err error
			blob, err = s.fallback.Get(ctx, key)
			return err
		})
		if fallbackErr == nil {
			s.logger.Info(ctx, "blob served", "key", key, "tier", TierFallback.String())
			return blob, TierFallback, nil
		}
	}

	if absent(primaryErr) && absent(fallbackErr) {
		return nil, TierNone, fmt.Errorf("%w: %q", ErrBlobNotFound, key)
	}

	s.logger.Error(ctx, "blob read failed", "key", key,
		"primary_error", primaryErr.Error(), "fallback_error", fallbackErr.Error())
	return nil, TierNone, fmt.Errorf("%w: get %q: primary: %v; fallback: %v", ErrStorageUnavailable, key, primaryErr, fallbackErr)
}

// errSkipped stands in for the read of a stale tier.
var errSkipped = fmt.Errorf("%w: stale copy skipped", ErrNotFound)

func absent(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Delete removes key from both tiers. A key absent from a tier counts as
// deleted there. One failing tier yields PartialDelete and a
// *PartialDeleteError; both failing yields DeleteFailed and
// ErrStorageUnavailable.
func (s *TieredStore) Delete(ctx context.Context, key string) (DeleteResult, error) {
	primaryErr := s.call(ctx, func(ctx context.Context) error {
		return s.primary.Delete(ctx, key)
	})
	fallbackErr := s.call(ctx, func(ctx context.Context) error {
		return s.fallback.Delete(ctx, key)
	})

	s.mu.Lock()
	if t, ok := s.stale[key]; ok && ((t == TierPrimary && primaryErr == nil) || (t == TierFallback && fallbackErr == nil)) {
		delete(s.stale, key)
	}
	s.mu.Unlock()

	switch {
	case primaryErr == nil && fallbackErr == nil:
		return Deleted, nil
	case primaryErr != nil && fallbackErr != nil:
		s.logger.Error(ctx, "blob delete failed on both tiers", "key", key,
			"primary_error", primaryErr.Error(), "fallback_error", fallbackErr.Error())
		return DeleteFailed, fmt.Errorf("%w: delete %q: primary: %v; fallback: %v", ErrStorageUnavailable, key, primaryErr, fallbackErr)
	case primaryErr != nil:
		s.logger.Warn(ctx, "partial blob delete", "key", key, "failed_tier", TierPrimary.String(), "error", primaryErr.Error())
		return PartialDelete, &PartialDeleteError{Key: key, Failed: TierPrimary, Err: primaryErr}
	default:
		s.logger.Warn(ctx, "partial blob delete", "key", key, "failed_tier", TierFallback.String(), "error", fallbackErr.Error())
		return PartialDelete, &PartialDeleteError{Key: key, Failed: TierFallback, Err: fallbackErr}
	}
}

// call runs fn under the per-tier timeout. An already finished ctx skips
// the tier entirely.
func (s *TieredStore) call(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}
