package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/fieldmap/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	profiles    []domain.Profile
	rules       map[uuid.UUID][]domain.Rule
	values      map[uuid.UUID]map[string]any
	err         error
	profileHits int
	ruleHits    int
	valueHits   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:  make(map[uuid.UUID][]domain.Rule),
		values: make(map[uuid.UUID]map[string]any),
	}
}

func (s *fakeStore) ListProfiles(ctx context.Context, filter domain.ProfileFilter) ([]domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileHits++
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Profile
	for _, p := range s.profiles {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListRules(ctx context.Context, profileID uuid.UUID) ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ruleHits++
	if s.err != nil {
		return nil, s.err
	}
	return s.rules[profileID], nil
}

func (s *fakeStore) GetFieldValues(ctx context.Context, entity string, recordID uuid.UUID, fields []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valueHits++
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]any{}
	for _, f := range fields {
		if v, ok := s.values[recordID][f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

// batchStore adds ListRulesForProfiles on top of fakeStore.
type batchStore struct {
	*fakeStore
	batchCalls int
}

func (s *batchStore) ListRulesForProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	out := make(map[uuid.UUID][]domain.Rule, len(ids))
	for _, id := range ids {
		out[id] = s.rules[id]
	}
	return out, nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func seedProfile(s *fakeStore, source, target string, active bool) domain.Profile {
	p := domain.Profile{
		ID:           uuid.New(),
		Name:         source + " to " + target,
		SourceEntity: source,
		TargetEntity: target,
		IsActive:     active,
	}
	s.profiles = append(s.profiles, p)
	s.rules[p.ID] = []domain.Rule{
		{ID: uuid.New(), ProfileID: p.ID, SourceField: "b", TargetField: "b", ExecutionOrder: 20, IsActive: true},
		{ID: uuid.New(), ProfileID: p.ID, SourceField: "off", TargetField: "off", ExecutionOrder: 5, IsActive: false},
		{ID: uuid.New(), ProfileID: p.ID, SourceField: "a", TargetField: "a", ExecutionOrder: 10, IsActive: true},
	}
	return p
}

func TestGetRulesForProfile_CachedWithinTTL(t *testing.T) {
	store := newFakeStore()
	profile := seedProfile(store, "account", "contact", true)
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := NewProfileRepository(store, Options{CacheEnabled: true, CacheTTL: time.Minute, Clock: clock.Now})
	ctx := context.Background()

	_, err := repo.GetRulesForProfile(ctx, profile.ID)
	require.NoError(t, err)
	_, err = repo.GetRulesForProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.ruleHits)

	clock.now = clock.now.Add(time.Minute + time.Second)
	_, err = repo.GetRulesForProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.ruleHits)
}

func TestGetRulesForProfile_ActiveOnlyInExecutionOrder(t *testing.T) {
	store := newFakeStore()
	profile := seedProfile(store, "account", "contact", true)
	repo := NewProfileRepository(store, Options{})

	rules, err := repo.GetRulesForProfile(context.Background(), profile.ID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].SourceField)
	assert.Equal(t, "b", rules[1].SourceField)
}

func TestGetRulesForProfile_NoCacheWhenDisabled(t *testing.T) {
	store := newFakeStore()
	profile := seedProfile(store, "account", "contact", true)
	repo := NewProfileRepository(store, Options{CacheEnabled: false})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.GetRulesForProfile(ctx, profile.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.ruleHits)
}

func TestGetRulesForProfile_CachedSliceIsNotAliased(t *testing.T) {
	store := newFakeStore()
	profile := seedProfile(store, "account", "contact", true)
	repo := NewProfileRepository(store, Options{CacheEnabled: true})
	ctx := context.Background()

	first, err := repo.GetRulesForProfile(ctx, profile.ID)
	require.NoError(t, err)
	first[0].SourceField = "mutated"

	second, err := repo.GetRulesForProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", second[0].SourceField)
}

func TestGetProfiles_CachesByFilterShape(t *testing.T) {
	store := newFakeStore()
	seedProfile(store, "account", "contact", true)
	seedProfile(store, "account", "opportunity", true)
	repo := NewProfileRepository(store, Options{CacheEnabled: true})
	ctx := context.Background()

	all, err := repo.GetProfiles(ctx, domain.ProfileQuery{ProfileFilter: domain.ProfileFilter{ActiveOnly: true}})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.GetProfiles(ctx, domain.ProfileQuery{ProfileFilter: domain.ProfileFilter{ActiveOnly: true}})
	require.NoError(t, err)
	assert.Equal(t, 1, store.profileHits)

	narrowed, err := repo.GetProfiles(ctx, domain.ProfileQuery{ProfileFilter: domain.ProfileFilter{ActiveOnly: true, TargetEntity: "contact"}})
	require.NoError(t, err)
	assert.Len(t, narrowed, 1)
	assert.Equal(t, 2, store.profileHits)
}

func TestGetProfiles_IncludeRulesBatchesThroughLoader(t *testing.T) {
	store := &batchStore{fakeStore: newFakeStore()}
	seedProfile(store.fakeStore, "account", "contact", true)
	seedProfile(store.fakeStore, "account", "opportunity", true)
	repo := NewProfileRepository(store, Options{CacheEnabled: true})

	profiles, err := repo.GetProfiles(context.Background(), domain.ProfileQuery{
		ProfileFilter: domain.ProfileFilter{ActiveOnly: true},
		IncludeRules:  true,
	})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	for _, p := range profiles {
		require.True(t, p.RulesLoaded())
		assert.Len(t, p.Rules, 2)
	}
	assert.Equal(t, 1, store.batchCalls)
	assert.Equal(t, 0, store.ruleHits)

	// Rule lists are now cached per profile.
	_, err = repo.GetRulesForProfile(context.Background(), profiles[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, store.ruleHits)
}

func TestGetProfiles_IncludeRulesFallsBackToPerProfileFetch(t *testing.T) {
	store := newFakeStore()
	seedProfile(store, "account", "contact", true)
	seedProfile(store, "account", "opportunity", true)
	repo := NewProfileRepository(store, Options{})

	profiles, err := repo.GetProfiles(context.Background(), domain.ProfileQuery{IncludeRules: true})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, 2, store.ruleHits)
}

func TestGetProfileForEntityPair(t *testing.T) {
	store := newFakeStore()
	seedProfile(store, "account", "contact", false)
	active := seedProfile(store, "account", "contact", true)
	seedProfile(store, "account", "contact", true)
	repo := NewProfileRepository(store, Options{})

	profile, err := repo.GetProfileForEntityPair(context.Background(), "account", "contact")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, active.ID, profile.ID)
	assert.Len(t, profile.Rules, 2)

	missing, err := repo.GetProfileForEntityPair(context.Background(), "lead", "contact")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetProfilesForSource(t *testing.T) {
	store := newFakeStore()
	seedProfile(store, "account", "contact", true)
	seedProfile(store, "account", "opportunity", true)
	seedProfile(store, "account", "case", false)
	seedProfile(store, "lead", "contact", true)
	repo := NewProfileRepository(store, Options{})

	profiles, err := repo.GetProfilesForSource(context.Background(), "account")
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	for _, p := range profiles {
		assert.False(t, p.RulesLoaded())
	}
}

func TestGetProfile_ReturnsInactive(t *testing.T) {
	store := newFakeStore()
	inactive := seedProfile(store, "account", "contact", false)
	repo := NewProfileRepository(store, Options{})

	profile, err := repo.GetProfile(context.Background(), inactive.ID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.False(t, profile.IsActive)

	none, err := repo.GetProfile(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGetSourceValues_EmptyFieldsSkipsStore(t *testing.T) {
	store := newFakeStore()
	repo := NewProfileRepository(store, Options{})

	values, err := repo.GetSourceValues(context.Background(), "account", uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Equal(t, 0, store.valueHits)
}

func TestGetSourceValues_ReturnsRequestedFields(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.values[id] = map[string]any{"name": "Contoso", "city": "Oslo", "secret": "x"}
	repo := NewProfileRepository(store, Options{})

	values, err := repo.GetSourceValues(context.Background(), "account", id, []string{"name", "city", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Contoso", "city": "Oslo"}, values)
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("permission denied")
	repo := NewProfileRepository(store, Options{})
	ctx := context.Background()

	_, err := repo.GetRulesForProfile(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, domain.IsStoreError(err))
	assert.ErrorIs(t, err, store.err)

	_, err = repo.GetProfiles(ctx, domain.ProfileQuery{})
	assert.True(t, domain.IsStoreError(err))

	_, err = repo.GetSourceValues(ctx, "account", uuid.New(), []string{"name"})
	assert.True(t, domain.IsStoreError(err))
}

func TestClearProfileCache(t *testing.T) {
	store := newFakeStore()
	p1 := seedProfile(store, "account", "contact", true)
	p2 := seedProfile(store, "account", "opportunity", true)
	repo := NewProfileRepository(store, Options{CacheEnabled: true})
	ctx := context.Background()

	_, err := repo.GetProfiles(ctx, domain.ProfileQuery{ProfileFilter: domain.ProfileFilter{ActiveOnly: true}})
	require.NoError(t, err)
	_, err = repo.GetRulesForProfile(ctx, p1.ID)
	require.NoError(t, err)
	_, err = repo.GetRulesForProfile(ctx, p2.ID)
	require.NoError(t, err)

	repo.ClearProfileCache(&p1.ID)

	_, err = repo.GetRulesForProfile(ctx, p1.ID)
	require.NoError(t, err)
	_, err = repo.GetRulesForProfile(ctx, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, store.ruleHits, "only the cleared profile's rules are refetched")

	_, err = repo.GetProfiles(ctx, domain.ProfileQuery{ProfileFilter: domain.ProfileFilter{ActiveOnly: true}})
	require.NoError(t, err)
	assert.Equal(t, 2, store.profileHits, "profile lists are always dropped")

	repo.ClearProfileCache(nil)
	_, err = repo.GetRulesForProfile(ctx, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, store.ruleHits)

	repo.ClearCache()
	_, err = repo.GetRulesForProfile(ctx, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, store.ruleHits)
}
