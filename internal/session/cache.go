package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kalambet/nyaysaathi/internal/resilience"
	"github.com/kalambet/nyaysaathi/internal/retrieval"
)

// ErrNoRetriever is returned by ResolveRetriever when the source exposes
// neither retrieval method.
var ErrNoRetriever = errors.New("source supports neither Retrieve nor RelevantDocuments")

// RetrieveFunc returns up to limit passages relevant to query.
type RetrieveFunc func(ctx context.Context, query string, limit int) ([]retrieval.Passage, error)

// CacheKey builds the retrieval cache key for a query and result limit.
func CacheKey(query string, limit int) string {
	return "retrieval::" + resilience.ContentHashString(query) + "::k=" + strconv.Itoa(limit)
}

// CachedRetrieve returns the passages for (query, limit), calling fn only on
// the first request for that pair within this session. Failed lookups are
// not cached. Concurrent identical lookups share a single call to fn.
func (s *Session) CachedRetrieve(ctx context.Context, fn RetrieveFunc, query string, limit int) ([]retrieval.Passage, error) {
	key := CacheKey(query, limit)

	s.mu.Lock()
	if hit, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return hit, nil
	}
	s.mu.Unlock()

	for {
		v, err, shared := s.inflight.Do(key, func() (any, error) {
			passages, err := fn(ctx, query, limit)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			s.cache[key] = passages
			s.mu.Unlock()
			return passages, nil
		})
		if err == nil {
			return v.([]retrieval.Passage), nil
		}
		// A shared call ends with the leader's context; a waiter whose own
		// context is still live runs the lookup again.
		if shared && isContextErr(err) && ctx.Err() == nil {
			continue
		}
		return nil, err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// CacheLen reports how many retrieval results this session holds.
func (s *Session) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

type primaryRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Passage, error)
}

type secondaryRetriever interface {
	RelevantDocuments(ctx context.Context, query string) ([]retrieval.Passage, error)
}

// ResolveRetriever probes src for a retrieval method. Retrieve is preferred;
// RelevantDocuments, truncated to the limit, is used when Retrieve is absent
// or fails.
func ResolveRetriever(src any) (RetrieveFunc, error) {
	primary, hasPrimary := src.(primaryRetriever)
	secondary, hasSecondary := src.(secondaryRetriever)

	switch {
	case hasPrimary && hasSecondary:
		return func(ctx context.Context, query string, limit int) ([]retrieval.Passage, error) {
			passages, err := primary.Retrieve(ctx, query, limit)
			if err == nil {
				return passages, nil
			}
			slog.Warn("primary retrieval failed, using fallback", "error", err)
			passages, ferr := secondary.RelevantDocuments(ctx, query)
			if ferr != nil {
				return nil, fmt.Errorf("retrieving passages: %w", errors.Join(err, ferr))
			}
			return truncate(passages, limit), nil
		}, nil
	case hasPrimary:
		return primary.Retrieve, nil
	case hasSecondary:
		return func(ctx context.Context, query string, limit int) ([]retrieval.Passage, error) {
			passages, err := secondary.RelevantDocuments(ctx, query)
			if err != nil {
				return nil, err
			}
			return truncate(passages, limit), nil
		}, nil
	default:
		return nil, ErrNoRetriever
	}
}

func truncate(passages []retrieval.Passage, limit int) []retrieval.Passage {
	if limit >= 0 && len(passages) > limit {
		return passages[:limit]
	}
	return passages
}
