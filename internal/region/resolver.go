// Package region resolves the mail-sending region for a calling service,
// falling back to a configured default whenever the lookup cannot answer.
package region

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/metrics"
)

// ErrNotFound is returned by a Store when no mapping exists for a service.
var ErrNotFound = errors.New("region: mapping not found")

// Store looks up the region mapped to a service name.
type Store interface {
	Lookup(ctx context.Context, serviceName string) (string, error)
	Name() string
}

// Resolver maps service names to regions. Lookups are cached for the
// configured TTL; store errors are never cached so a recovering store is
// picked up on the next record.
type Resolver struct {
	store         Store
	defaultRegion string
	cache         *gocache.Cache
	log           zerolog.Logger
}

// NewResolver creates a Resolver. A cacheTTL of zero disables caching.
func NewResolver(store Store, defaultRegion string, cacheTTL time.Duration, log zerolog.Logger) *Resolver {
	r := &Resolver{
		store:         store,
		defaultRegion: defaultRegion,
		log:           log,
	}
	if cacheTTL > 0 {
		r.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return r
}

// Default returns the fallback region.
func (r *Resolver) Default() string { return r.defaultRegion }

// Resolve returns the region for serviceName. It never fails: an empty
// service name, a missing mapping, a store error or an empty stored value
// all yield the default region.
func (r *Resolver) Resolve(ctx context.Context, serviceName string) string {
	if serviceName == "" {
		metrics.RegionFallbackTotal.WithLabelValues("empty_service").Inc()
		return r.defaultRegion
	}

	if r.cache != nil {
		if v, ok := r.cache.Get(serviceName); ok {
			metrics.RegionCacheHitsTotal.Inc()
			return v.(string)
		}
	}

	region, err := r.store.Lookup(ctx, serviceName)
	switch {
	case errors.Is(err, ErrNotFound):
		r.log.Debug().
			Str("service_name", serviceName).
			Str("region", r.defaultRegion).
			Msg("no region mapping, using default")
		metrics.RegionFallbackTotal.WithLabelValues("not_found").Inc()
		r.remember(serviceName, r.defaultRegion)
		return r.defaultRegion

	case err != nil:
		r.log.Warn().Err(err).
			Str("service_name", serviceName).
			Str("store", r.store.Name()).
			Str("region", r.defaultRegion).
			Msg("region lookup failed, using default")
		metrics.RegionFallbackTotal.WithLabelValues("store_error").Inc()
		return r.defaultRegion
	}

	r.remember(serviceName, region)
	return region
}

func (r *Resolver) remember(serviceName, region string) {
	if r.cache != nil {
		r.cache.SetDefault(serviceName, region)
	}
}
