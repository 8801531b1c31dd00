// Package search turns free-text queries into normalized search results.
package search

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/italolelis/yt_downloader/internal/cache"
	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
	"github.com/italolelis/yt_downloader/internal/telemetry"
)

// Options tunes result counts and backend deadlines.
type Options struct {
	SearchLimit    int
	SuggestLimit   int
	RandomQueries  []string
	RandomCount    int
	ResolveTimeout time.Duration
}

// Service answers search, suggest and random-suggestion requests.
type Service struct {
	backend   media.Backend
	cache     *cache.Cache
	telemetry *telemetry.Telemetry
	opts      Options

	group singleflight.Group
	intN  func(n int) int
}

// NewService creates a search service. c may be nil to disable caching.
func NewService(backend media.Backend, c *cache.Cache, tel *telemetry.Telemetry, opts Options) *Service {
	return &Service{
		backend:   backend,
		cache:     c,
		telemetry: tel,
		opts:      opts,
		intN:      rand.IntN,
	}
}

// Search validates rawQuery and returns up to SearchLimit results.
func (s *Service) Search(ctx context.Context, rawQuery string) ([]media.SearchResult, error) {
	query, err := SanitizeQuery(rawQuery)
	if err != nil {
		return nil, err
	}

	var results []media.SearchResult

	err = s.telemetry.InstrumentOperation(ctx, "search", "search", func(ctx context.Context) error {
		results, err = s.resolve(ctx, query, s.opts.SearchLimit)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.telemetry.RecordSearchResults(ctx, "search", len(results))

	return results, nil
}

// Suggest returns up to SuggestLimit titles. Nothing found is an empty list.
func (s *Service) Suggest(ctx context.Context, rawQuery string) ([]string, error) {
	query, err := SanitizeQuery(rawQuery)
	if err != nil {
		return nil, err
	}

	results, err := s.resolve(ctx, query, s.opts.SuggestLimit)

	var nfErr *media.NotFoundError
	if errors.As(err, &nfErr) {
		return []string{}, nil
	}

	if err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(results))
	for _, r := range results {
		titles = append(titles, r.Title)
	}

	s.telemetry.RecordSearchResults(ctx, "suggest", len(titles))

	return titles, nil
}

// Random searches one of the seed queries and samples RandomCount results.
func (s *Service) Random(ctx context.Context) ([]media.SearchResult, error) {
	if len(s.opts.RandomQueries) == 0 {
		return nil, &media.NotFoundError{Query: "random"}
	}

	seed := s.opts.RandomQueries[s.intN(len(s.opts.RandomQueries))]

	results, err := s.resolve(ctx, seed, s.opts.SearchLimit)
	if err != nil {
		return nil, err
	}

	sample := s.sample(results, s.opts.RandomCount)

	s.telemetry.RecordSearchResults(ctx, "random", len(sample))

	return sample, nil
}

// sample picks n results without replacement. results is not modified.
func (s *Service) sample(results []media.SearchResult, n int) []media.SearchResult {
	pool := make([]media.SearchResult, len(results))
	copy(pool, results)

	if n <= 0 || n > len(pool) {
		n = len(pool)
	}

	// partial Fisher-Yates
	for i := 0; i < n; i++ {
		j := i + s.intN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:n]
}

// resolve runs one backend lookup per distinct (query, limit) at a time and
// caches successful results. The lookup outlives a disconnecting caller so
// that collapsed waiters still get an answer.
func (s *Service) resolve(ctx context.Context, query string, limit int) ([]media.SearchResult, error) {
	key := cache.Key("resolve", query, strconv.Itoa(limit))

	if results, ok := cache.GetJSON[[]media.SearchResult](ctx, s.cache, key); ok {
		return results, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		rctx := context.WithoutCancel(ctx)
		if s.opts.ResolveTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(rctx, s.opts.ResolveTimeout)

			defer cancel()
		}

		entries, err := s.backend.Resolve(rctx, query, limit)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &media.AcquisitionError{
					Operation: "resolve",
					MediaRef:  query,
					Message:   "backend did not answer in time",
					Timeout:   true,
					Err:       err,
				}
			}

			return nil, media.AsAcquisitionError("resolve", query, err)
		}

		results, err := Normalize(entries, query)
		if err != nil {
			return nil, err
		}

		cache.SetJSON(rctx, s.cache, key, results)

		return results, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			logctx.LoggerFromContext(ctx).DebugContext(ctx, "resolve failed", "query", query, "shared", res.Shared, "err", res.Err)

			return nil, res.Err
		}

		return res.Val.([]media.SearchResult), nil
	}
}
