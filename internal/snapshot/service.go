// Package snapshot orchestrates the cache, the provider fetcher, and the
// converter into the two operations the API layer calls: latest snapshot
// and nearest snapshot to a requested time.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/windatlas/gfscache/internal/convert"
	"github.com/windatlas/gfscache/internal/provider"
	"github.com/windatlas/gfscache/internal/timekey"
)

var (
	// ErrUnavailable means the provider had no data within the lookback
	// horizon. A legitimate empty result, not a failure.
	ErrUnavailable = errors.New("no snapshot data available")
	// ErrNotFound means the nearest-search bound was exhausted in both
	// directions without finding a servable snapshot.
	ErrNotFound = errors.New("no snapshot within search bounds")
	// ErrConversion marks converter failures. The affected key is not
	// considered cached.
	ErrConversion = errors.New("snapshot conversion failed")
)

// maxSearch bounds the backward nearest-search when the caller supplies no
// limit; it mirrors the fetcher's lookback horizon.
const maxSearch = 10 * 24 * time.Hour

// Cache is the slice of the cache store the service needs.
type Cache interface {
	Exists(key string) bool
	StructuredPath(key string) string
	RawPath(key string) string
	RemoveRaw(key string) error
}

// Fetcher is the slice of the provider fetcher the service needs.
type Fetcher interface {
	Fetch(ctx context.Context, target time.Time) (provider.Result, error)
	Refetch(ctx context.Context, target time.Time) (provider.Result, error)
}

// Service resolves snapshot requests against the cache, downloading and
// converting cycles on demand. It holds no mutable state of its own beyond
// the in-flight de-duplication group; concurrent requests for the same
// missing key share one download and one conversion.
type Service struct {
	cache   Cache
	fetcher Fetcher
	conv    convert.Invoker
	flight  singleflight.Group

	now func() time.Time
}

// NewService creates a Service from its collaborators.
func NewService(cache Cache, fetcher Fetcher, conv convert.Invoker) *Service {
	return &Service{
		cache:   cache,
		fetcher: fetcher,
		conv:    conv,
		now:     time.Now,
	}
}

// Latest returns the path of the structured artifact for the newest
// publishable cycle, fetching and converting it if needed. Returns
// ErrUnavailable when the provider has nothing within the lookback horizon.
func (s *Service) Latest(ctx context.Context) (string, error) {
	return s.materialize(ctx, timekey.LatestAvailable(s.now()))
}

// Nearest returns the structured artifact closest to requested, searching
// backward first and then forward, honoring limitDays when positive.
// Published data is inherently historical, so a past snapshot always wins
// over a future one. Returns ErrNotFound when the bound is exhausted in
// both directions.
func (s *Service) Nearest(ctx context.Context, requested time.Time, limitDays int) (string, error) {
	limit := maxSearch
	bounded := limitDays > 0
	if bounded {
		limit = time.Duration(limitDays) * 24 * time.Hour
	}

	cur := timekey.Truncate(requested)
	backward := true

	for {
		path, err := s.materialize(ctx, cur)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrConversion) {
			return "", err
		}
		if errors.Is(err, ErrConversion) {
			log.Printf("ERROR: snapshot: %v, trying adjacent cycle", err)
		}

		if backward {
			cur = cur.Add(-timekey.Interval)
			if requested.Sub(cur) > limit {
				if !bounded {
					// The fetcher already swept the whole horizon.
					return "", ErrNotFound
				}
				backward = false
				cur = timekey.Truncate(requested.Add(limit))
				log.Printf("INFO: snapshot: backward bound exhausted, searching forward from %s",
					timekey.Format(cur))
			}
		} else {
			cur = cur.Add(timekey.Interval)
			if cur.Sub(requested) > limit {
				return "", ErrNotFound
			}
		}
	}
}

// Refresh re-downloads and re-converts exactly the given cycle. Used by
// the freshness pass on stale cache entries; all failures are logged and
// swallowed, never surfaced to any request.
func (s *Service) Refresh(t time.Time) {
	key := timekey.Format(t)
	_, err, _ := s.flight.Do("refresh:"+key, func() (interface{}, error) {
		res, err := s.fetcher.Refetch(context.Background(), t)
		if err != nil {
			return nil, err
		}
		if res.Outcome != provider.OutcomeDownloaded {
			return nil, ErrUnavailable
		}
		return nil, s.convertKey(context.Background(), res.Key)
	})
	if err != nil {
		log.Printf("INFO: snapshot: refresh of stale cycle %s skipped: %v", key, err)
		return
	}
	log.Printf("INFO: snapshot: refreshed stale cycle %s", key)
}

// materialize makes the cycle at t servable and returns its artifact path.
// Concurrent calls for the same key collapse into one fetch+convert.
func (s *Service) materialize(ctx context.Context, t time.Time) (string, error) {
	cycle := timekey.Truncate(t)
	key := timekey.Format(cycle)

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		if s.cache.Exists(key) {
			s.backfill(cycle.Add(-timekey.Interval))
			return s.cache.StructuredPath(key), nil
		}

		res, err := s.fetcher.Fetch(ctx, cycle)
		if err != nil {
			return nil, err
		}

		switch res.Outcome {
		case provider.OutcomeUnavailable:
			return nil, ErrUnavailable
		case provider.OutcomeAlreadyCached:
			s.backfill(res.Time.Add(-timekey.Interval))
			return s.cache.StructuredPath(res.Key), nil
		}

		if err := s.convertKey(ctx, res.Key); err != nil {
			return nil, err
		}
		s.backfill(res.Time.Add(-timekey.Interval))
		return s.cache.StructuredPath(res.Key), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// convertKey runs the converter for key's raw artifact and, on success,
// removes the raw form so only the structured artifact persists. On
// failure the raw artifact is retained for diagnostics.
func (s *Service) convertKey(ctx context.Context, key string) error {
	if err := s.conv.Convert(ctx, s.cache.RawPath(key), s.cache.StructuredPath(key)); err != nil {
		return fmt.Errorf("%w: cycle %s: %v", ErrConversion, key, err)
	}
	if err := s.cache.RemoveRaw(key); err != nil {
		log.Printf("ERROR: snapshot: %v", err)
	}
	return nil
}

// backfill pre-warms the cache with the cycle at t in the background.
// Best-effort: failures are logged and swallowed, and the chain stops at
// the first cycle that is already cached or beyond the lookback horizon.
func (s *Service) backfill(t time.Time) {
	key := timekey.Format(t)
	if s.cache.Exists(key) {
		return
	}
	go func() {
		if _, err := s.materialize(context.Background(), t); err != nil {
			log.Printf("INFO: snapshot: backfill of cycle %s skipped: %v", key, err)
		}
	}()
}
