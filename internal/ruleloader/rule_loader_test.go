package ruleloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rpattn/fieldmap/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMany_SingleBatchInKeyOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	var (
		mu      sync.Mutex
		batches [][]uuid.UUID
	)
	loader := NewRuleLoader(func(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
		mu.Lock()
		batches = append(batches, append([]uuid.UUID(nil), ids...))
		mu.Unlock()
		return map[uuid.UUID][]domain.Rule{
			a: {{ID: uuid.New(), ProfileID: a, SourceField: "name"}},
			b: {{ID: uuid.New(), ProfileID: b, SourceField: "city"}, {ID: uuid.New(), ProfileID: b, SourceField: "zip"}},
		}, nil
	})

	got, err := loader.LoadMany(context.Background(), []uuid.UUID{a, b})
	require.NoError(t, err)

	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, batches[0])
	assert.Len(t, got[a], 1)
	assert.Len(t, got[b], 2)
}

func TestLoadMany_MissingProfileYieldsEmptySlice(t *testing.T) {
	missing := uuid.New()
	loader := NewRuleLoader(func(context.Context, []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
		return map[uuid.UUID][]domain.Rule{}, nil
	})

	got, err := loader.LoadMany(context.Background(), []uuid.UUID{missing})
	require.NoError(t, err)
	require.Contains(t, got, missing)
	assert.NotNil(t, got[missing])
	assert.Empty(t, got[missing])
}

func TestLoadMany_PropagatesFetchError(t *testing.T) {
	boom := errors.New("store down")
	loader := NewRuleLoader(func(context.Context, []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
		return nil, boom
	})

	_, err := loader.LoadMany(context.Background(), []uuid.UUID{uuid.New(), uuid.New()})
	assert.ErrorIs(t, err, boom)
}

func TestLoadMany_DoesNotMemoise(t *testing.T) {
	id := uuid.New()
	calls := 0
	loader := NewRuleLoader(func(context.Context, []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
		calls++
		return map[uuid.UUID][]domain.Rule{id: {}}, nil
	})

	for i := 0; i < 2; i++ {
		_, err := loader.LoadMany(context.Background(), []uuid.UUID{id})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestLoadMany_NoIDs(t *testing.T) {
	loader := NewRuleLoader(func(context.Context, []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
		t.Fatal("fetch must not be called")
		return nil, nil
	})

	got, err := loader.LoadMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
