package ruleloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/fieldmap/internal/domain"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// Fetcher loads the rules of several profiles at once.
type Fetcher func(ctx context.Context, profileIDs []uuid.UUID) (map[uuid.UUID][]domain.Rule, error)

// RuleLoader batches rule lookups keyed by profile ID.
type RuleLoader struct {
	Loader *dataloader.Loader
}

// NewRuleLoader builds a loader around fetch. Results are not memoised by
// the loader; the repository cache owns that.
func NewRuleLoader(fetch Fetcher) *RuleLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return failAll(len(keys), fmt.Errorf("invalid profile id %q: %w", k.String(), err))
			}
			ids[i] = id
		}

		rulesByProfile, err := fetch(ctx, ids)
		if err != nil {
			return failAll(len(keys), err)
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			rules := rulesByProfile[id]
			if rules == nil {
				rules = []domain.Rule{}
			}
			results[i] = &dataloader.Result{Data: rules}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn,
		dataloader.WithWait(2*time.Millisecond),
		dataloader.WithCache(&dataloader.NoCache{}),
	)

	return &RuleLoader{Loader: loader}
}

// LoadMany resolves the rules of every profile in ids through one batch.
func (l *RuleLoader) LoadMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
	if len(ids) == 0 {
		return map[uuid.UUID][]domain.Rule{}, nil
	}

	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}

	values, errs := l.Loader.LoadMany(ctx, keys)()
	out := make(map[uuid.UUID][]domain.Rule, len(ids))
	for i, id := range ids {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		rules, ok := values[i].([]domain.Rule)
		if !ok {
			return nil, fmt.Errorf("unexpected rule loader result %T for profile %s", values[i], id)
		}
		out[id] = rules
	}
	return out, nil
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}
