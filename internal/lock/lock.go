// Package lock implements the dispatch lock: a TTL-bounded, create-if-absent
// marker keyed by queue message ID that lets exactly one invocation send a
// given message.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/metrics"
)

var (
	// ErrAlreadyLocked is returned by a Store when a record for the key exists.
	ErrAlreadyLocked = errors.New("lock: already locked")

	// ErrReleaseUnsupported is returned by Release when the store cannot delete.
	ErrReleaseUnsupported = errors.New("lock: store does not support release")
)

// Store is a lock backend. Create must be a single atomic create-if-absent
// against the backing store and must never overwrite an existing record.
type Store interface {
	Create(ctx context.Context, key string, expiresAt time.Time) error
	Name() string
}

// Releaser is implemented by stores that can delete a lock record.
type Releaser interface {
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Outcome is the result of one acquisition attempt.
type Outcome int

const (
	Acquired Outcome = iota
	AlreadyLocked
	StoreError
	InvalidKey
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyLocked:
		return "already_locked"
	case StoreError:
		return "store_error"
	case InvalidKey:
		return "invalid_key"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DispatchLock grants a lock at most once per key until the record is
// removed by the store's own expiry mechanism.
type DispatchLock struct {
	store  Store
	ttl    time.Duration
	prefix string
	now    func() time.Time
	log    zerolog.Logger
}

// Option customizes a DispatchLock.
type Option func(*DispatchLock)

// WithKeyPrefix namespaces every key written to the store.
func WithKeyPrefix(prefix string) Option {
	return func(l *DispatchLock) { l.prefix = prefix }
}

// WithClock overrides the time source used to compute expiry.
func WithClock(now func() time.Time) Option {
	return func(l *DispatchLock) { l.now = now }
}

// New creates a DispatchLock over store whose records expire ttl after
// creation.
func New(store Store, ttl time.Duration, log zerolog.Logger, opts ...Option) *DispatchLock {
	l := &DispatchLock{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Backend returns the name of the underlying store.
func (l *DispatchLock) Backend() string { return l.store.Name() }

// TryAcquire attempts to create the lock record for key and reports which of
// the outcomes occurred. The error is non-nil only for StoreError.
func (l *DispatchLock) TryAcquire(ctx context.Context, key string) (Outcome, error) {
	if key == "" {
		metrics.LockAcquireTotal.WithLabelValues(l.store.Name(), InvalidKey.String()).Inc()
		return InvalidKey, nil
	}

	expiresAt := l.now().Add(l.ttl)
	err := l.store.Create(ctx, l.prefix+key, expiresAt)

	var outcome Outcome
	switch {
	case err == nil:
		outcome = Acquired
	case errors.Is(err, ErrAlreadyLocked):
		outcome, err = AlreadyLocked, nil
	default:
		outcome = StoreError
		err = fmt.Errorf("%s lock create %q: %w", l.store.Name(), key, err)
	}

	metrics.LockAcquireTotal.WithLabelValues(l.store.Name(), outcome.String()).Inc()
	return outcome, err
}

// Acquire reports whether the caller now holds the lock for key. An existing
// record and a store failure both yield false; callers that need to tell
// them apart use TryAcquire.
func (l *DispatchLock) Acquire(ctx context.Context, key string) bool {
	outcome, err := l.TryAcquire(ctx, key)
	if err != nil {
		l.log.Warn().Err(err).Str("lock_key", key).Msg("lock store error, treating as locked")
	}
	return outcome == Acquired
}

// Release deletes the lock record for key so a redelivery can be sent.
// It is only used when release-on-failure is enabled.
func (l *DispatchLock) Release(ctx context.Context, key string) error {
	r, ok := l.store.(Releaser)
	if !ok {
		return ErrReleaseUnsupported
	}
	if err := r.Delete(ctx, l.prefix+key); err != nil {
		metrics.LockReleaseTotal.WithLabelValues(l.store.Name(), "error").Inc()
		return fmt.Errorf("%s lock delete %q: %w", l.store.Name(), key, err)
	}
	metrics.LockReleaseTotal.WithLabelValues(l.store.Name(), "ok").Inc()
	return nil
}

// Ping checks the store when it supports it.
func (l *DispatchLock) Ping(ctx context.Context) error {
	if p, ok := l.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
