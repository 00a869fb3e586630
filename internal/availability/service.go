// Package availability answers which numbers of a raffle can still be picked.
// Results are advisory snapshots; only confirmation allocates numbers.
package availability

import (
	"context"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"math/rand/v2"
)

type Source interface {
	GetRaffle(ctx context.Context, id string) (rifa.Raffle, error)
	TakenNumbers(ctx context.Context, raffleID string) ([]int, error)
}

// Cache stores availability snapshots per raffle under a version that
// Invalidate bumps. A snapshot computed under an older version is written to
// a key nobody reads any more. Misses and errors are treated the same way:
// fall through to the store.
type Cache interface {
	Version(ctx context.Context, raffleID string) (int64, bool)
	Get(ctx context.Context, raffleID string, version int64) ([]int, bool)
	Set(ctx context.Context, raffleID string, version int64, numbers []int)
	Invalidate(ctx context.Context, raffleID string)
}

type Service struct {
	Store Source
	Cache Cache            // optional
	IntN  func(n int) int // defaults to math/rand/v2
}

func New(store Source, cache Cache) *Service {
	return &Service{Store: store, Cache: cache}
}

// Available returns the raffle range minus every number held by a confirmed
// entry, ascending. Pending reservations do not subtract.
func (s *Service) Available(ctx context.Context, raffleID string) ([]int, error) {
	r, err := s.Store.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	// the version is read before the store so a concurrent Invalidate
	// retires whatever this call computes
	var (
		version   int64
		cacheable bool
	)
	if s.Cache != nil {
		version, cacheable = s.Cache.Version(ctx, raffleID)
		if cacheable {
			if nums, ok := s.Cache.Get(ctx, raffleID, version); ok {
				return nums, nil
			}
		}
	}

	taken, err := s.Store.TakenNumbers(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	used := make(map[int]struct{}, len(taken))
	for _, n := range taken {
		used[n] = struct{}{}
	}
	out := make([]int, 0, r.Size()-len(used))
	for n := r.MinNumber; n <= r.MaxNumber; n++ {
		if _, ok := used[n]; !ok {
			out = append(out, n)
		}
	}

	if cacheable {
		s.Cache.Set(ctx, raffleID, version, out)
	}
	return out, nil
}

// QuickPick draws count distinct numbers uniformly from the current snapshot.
func (s *Service) QuickPick(ctx context.Context, raffleID string, count int) ([]int, error) {
	if count < 1 {
		return nil, &rifa.ValidationError{Field: "count", Reason: "must be at least 1"}
	}
	avail, err := s.Available(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if count > len(avail) {
		return nil, &rifa.ValidationError{Field: "count", Reason: "not enough numbers available"}
	}

	intN := s.IntN
	if intN == nil {
		intN = rand.IntN
	}
	pool := append([]int(nil), avail...)
	// partial Fisher-Yates over the copy
	for i := 0; i < count; i++ {
		j := i + intN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count], nil
}

// Invalidate drops the cached snapshot for a raffle.
func (s *Service) Invalidate(ctx context.Context, raffleID string) {
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, raffleID)
	}
}
