// Package provider fetches GFS model cycles from the upstream filter
// endpoint. A fetch targets one publication-grid key and falls back to
// progressively older cycles when the target is not available, bounded by
// a fixed lookback horizon.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/windatlas/gfscache/internal/timekey"
)

const (
	// maxRetries caps per-key retries before stepping back one interval.
	maxRetries = 3
	// maxLookback caps how far behind now a fetch may regress.
	maxLookback = 10 * 24 * time.Hour
)

// errLocal marks failures on our side (raw write) as opposed to upstream
// unavailability; local failures are fatal for the call, upstream ones
// trigger the one-interval stepback.
var errLocal = errors.New("local storage failure")

// Outcome tags the result of a fetch. Exactly one variant holds per call.
type Outcome int

const (
	// OutcomeUnavailable means the lookback horizon was exhausted without
	// finding a published cycle. It is a legitimate empty result, not an
	// error, and carries no key.
	OutcomeUnavailable Outcome = iota
	// OutcomeDownloaded means a raw artifact was written for Result.Key.
	OutcomeDownloaded
	// OutcomeAlreadyCached means Result.Key is already servable; nothing
	// was written.
	OutcomeAlreadyCached
)

// Result is the outcome of a Fetch call. Key and Time identify the cycle
// actually obtained, which may be older than the one requested.
type Result struct {
	Outcome Outcome
	Key     string
	Time    time.Time
}

// ArtifactSink is the slice of the cache the fetcher needs: a servability
// check and an atomic raw write. The fetcher never touches the structured
// area itself.
type ArtifactSink interface {
	Exists(key string) bool
	WriteRaw(key string, r io.Reader) (string, error)
}

// Fetcher retrieves raw GFS cycle artifacts. It is stateless apart from
// its circuit breaker; all cache state lives behind the sink.
type Fetcher struct {
	baseURL string
	product string
	sink    ArtifactSink
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker

	now func() time.Time
}

// NewFetcher creates a Fetcher against the given filter endpoint.
// product names the GFS product in the per-cycle filename, e.g. "pgrb2.1p00".
func NewFetcher(client *http.Client, baseURL, product string, sink ArtifactSink) *Fetcher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gfs",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Fetcher{
		baseURL: baseURL,
		product: product,
		sink:    sink,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      maxRetries,
				InitialInterval: 1 * time.Second,
				MaxInterval:     8 * time.Second,
			},
		},
		circuit: cb,
		now:     time.Now,
	}
}

// Fetch obtains the raw artifact for the cycle nearest at or before target.
// Targets newer than the latest publishable cycle are clamped. When a cycle
// cannot be obtained after the retry budget, the fetch restarts one interval
// earlier, until the lookback horizon is exhausted.
//
// Upstream unavailability is reported as OutcomeUnavailable with a nil
// error; a returned error means a local failure (context cancelled, raw
// write failed) that is fatal for this call.
func (f *Fetcher) Fetch(ctx context.Context, target time.Time) (Result, error) {
	now := f.now()
	cycle := timekey.Truncate(target)

	if latest := timekey.LatestAvailable(now); cycle.After(latest) {
		log.Printf("INFO: provider: cycle %s not publishable yet, substituting %s",
			timekey.Format(cycle), timekey.Format(latest))
		cycle = latest
	}

	for now.Sub(cycle) <= maxLookback {
		res, err := f.fetchCycle(ctx, cycle, false)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if errors.Is(err, errLocal) {
				return Result{}, err
			}
			log.Printf("INFO: provider: cycle %s unavailable (%v), stepping back one interval",
				timekey.Format(cycle), err)
			cycle = cycle.Add(-timekey.Interval)
			continue
		}
		return res, nil
	}

	log.Printf("INFO: provider: lookback horizon exhausted searching back from %s",
		timekey.Format(timekey.Truncate(target)))
	return Result{Outcome: OutcomeUnavailable}, nil
}

// Refetch re-downloads exactly the target cycle, ignoring an existing
// structured artifact and never stepping to adjacent cycles. Used by the
// freshness pass to refresh stale cache entries in place.
func (f *Fetcher) Refetch(ctx context.Context, target time.Time) (Result, error) {
	cycle := timekey.Truncate(target)
	res, err := f.fetchCycle(ctx, cycle, true)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if errors.Is(err, errLocal) {
			return Result{}, err
		}
		log.Printf("INFO: provider: re-fetch of cycle %s unavailable: %v", timekey.Format(cycle), err)
		return Result{Outcome: OutcomeUnavailable}, nil
	}
	return res, nil
}

// fetchCycle performs one full attempt (with per-key retries) at a single
// cycle. force skips the already-cached shortcut so an existing artifact
// can be replaced.
func (f *Fetcher) fetchCycle(ctx context.Context, cycle time.Time, force bool) (Result, error) {
	key := timekey.Format(cycle)

	resp, err := doRequestWithResilience(ctx, f.httpCfg, f.circuit, func() (*http.Request, error) {
		return f.buildRequest(cycle)
	})
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if !force && f.sink.Exists(key) {
		return Result{Outcome: OutcomeAlreadyCached, Key: key, Time: cycle}, nil
	}

	if _, err := f.sink.WriteRaw(key, resp.Body); err != nil {
		return Result{}, fmt.Errorf("%w: raw artifact for %s: %v", errLocal, key, err)
	}

	log.Printf("INFO: provider: downloaded raw artifact for cycle %s", key)
	return Result{Outcome: OutcomeDownloaded, Key: key, Time: cycle}, nil
}

// buildRequest assembles the filter query for one cycle: surface wind
// variables over the full globe, analysis hour only, with the provider's
// per-cycle directory layout.
func (f *Fetcher) buildRequest(cycle time.Time) (*http.Request, error) {
	values := url.Values{}
	values.Set("file", fmt.Sprintf("gfs.t%02dz.%s.f000", cycle.Hour(), f.product))
	values.Set("lev_10_m_above_ground", "on")
	values.Set("var_UGRD", "on")
	values.Set("var_VGRD", "on")
	values.Set("leftlon", "0")
	values.Set("rightlon", "360")
	values.Set("toplat", "90")
	values.Set("bottomlat", "-90")
	values.Set("dir", fmt.Sprintf("/gfs.%s/%02d/atmos", cycle.Format("20060102"), cycle.Hour()))

	u := fmt.Sprintf("%s?%s", f.baseURL, values.Encode())
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return req, nil
}
