package repository

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/fieldmap/internal/cache"
	"github.com/rpattn/fieldmap/internal/domain"
	"github.com/rpattn/fieldmap/internal/ruleloader"

	"github.com/google/uuid"
)

// DefaultCacheTTL is used when caching is enabled without an explicit TTL.
const DefaultCacheTTL = 5 * time.Minute

// Options configures a ProfileRepository.
type Options struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	// Clock overrides time.Now for cache expiry.
	Clock func() time.Time
}

// ProfileRepository reads mapping profiles and rules from a Store, with an
// optional read-through cache.
type ProfileRepository struct {
	store        Store
	cacheEnabled bool
	profiles     *cache.TTL[[]domain.Profile]
	rules        *cache.TTL[[]domain.Rule]
	loader       *ruleloader.RuleLoader
}

// NewProfileRepository creates a repository over store.
func NewProfileRepository(store Store, opts Options) *ProfileRepository {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	var cacheOpts []cache.Option
	if opts.Clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Clock))
	}

	r := &ProfileRepository{
		store:        store,
		cacheEnabled: opts.CacheEnabled,
		profiles:     cache.New[[]domain.Profile](ttl, cacheOpts...),
		rules:        cache.New[[]domain.Rule](ttl, cacheOpts...),
	}
	r.loader = ruleloader.NewRuleLoader(r.fetchRules)
	return r
}

// GetProfiles lists profiles matching the query. Profile lists are cached
// under a key derived from the filter; rules are cached per profile.
func (r *ProfileRepository) GetProfiles(ctx context.Context, query domain.ProfileQuery) ([]domain.Profile, error) {
	key := query.ProfileFilter.CacheKey()

	profiles, ok := r.cachedProfiles(key)
	if !ok {
		fetched, err := r.store.ListProfiles(ctx, query.ProfileFilter)
		if err != nil {
			slog.Warn("profile listing failed", "filter", key, "error", err)
			return nil, domain.NewStoreError("list profiles", err)
		}
		profiles = stripRules(fetched)
		if r.cacheEnabled {
			r.profiles.Set(key, profiles)
		}
	}

	out := make([]domain.Profile, len(profiles))
	copy(out, profiles)
	if !query.IncludeRules || len(out) == 0 {
		return out, nil
	}

	if err := r.attachRules(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProfileForEntityPair returns the active profile for a source/target
// pair with its rules loaded, or nil when there is none. When the store
// holds several, the first one wins.
func (r *ProfileRepository) GetProfileForEntityPair(ctx context.Context, sourceEntity, targetEntity string) (*domain.Profile, error) {
	profiles, err := r.GetProfiles(ctx, domain.ProfileQuery{
		ProfileFilter: domain.ProfileFilter{
			ActiveOnly:   true,
			SourceEntity: sourceEntity,
			TargetEntity: targetEntity,
		},
		IncludeRules: true,
	})
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	if len(profiles) > 1 {
		slog.Debug("multiple active profiles for entity pair, using first",
			"source", sourceEntity, "target", targetEntity, "count", len(profiles))
	}
	return &profiles[0], nil
}

// GetProfilesForSource returns every active profile whose source side is entity.
func (r *ProfileRepository) GetProfilesForSource(ctx context.Context, sourceEntity string) ([]domain.Profile, error) {
	return r.GetProfiles(ctx, domain.ProfileQuery{
		ProfileFilter: domain.ProfileFilter{ActiveOnly: true, SourceEntity: sourceEntity},
	})
}

// GetProfile returns a profile by ID with its rules, or nil when absent.
// Inactive profiles are returned so callers can tell them apart.
func (r *ProfileRepository) GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	profiles, err := r.GetProfiles(ctx, domain.ProfileQuery{
		ProfileFilter: domain.ProfileFilter{ProfileID: &id},
		IncludeRules:  true,
	})
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return &profiles[0], nil
}

// GetRulesForProfile returns the active rules of a profile in execution order.
func (r *ProfileRepository) GetRulesForProfile(ctx context.Context, profileID uuid.UUID) ([]domain.Rule, error) {
	key := domain.RuleCacheKey(profileID)
	if rules, ok := r.cachedRules(key); ok {
		return rules, nil
	}

	fetched, err := r.store.ListRules(ctx, profileID)
	if err != nil {
		slog.Warn("rule listing failed", "profile", profileID, "error", err)
		return nil, domain.NewStoreError("list rules", err)
	}
	rules := domain.ActiveRules(fetched)
	if r.cacheEnabled {
		r.rules.Set(key, rules)
	}
	return copyRules(rules), nil
}

// GetSourceValues fetches raw field values of one source record. No store
// call is made when fields is empty.
func (r *ProfileRepository) GetSourceValues(ctx context.Context, sourceEntity string, recordID uuid.UUID, fields []string) (map[string]any, error) {
	if len(fields) == 0 {
		return map[string]any{}, nil
	}
	values, err := r.store.GetFieldValues(ctx, sourceEntity, recordID, fields)
	if err != nil {
		slog.Warn("source value fetch failed", "entity", sourceEntity, "record", recordID, "error", err)
		return nil, domain.NewStoreError("get source values", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

// ClearCache drops every cached profile list and rule list.
func (r *ProfileRepository) ClearCache() {
	r.profiles.Clear()
	r.rules.Clear()
}

// ClearProfileCache drops the cached rules of one profile, or of every
// profile when profileID is nil, together with every cached profile list,
// since any list may embed the changed profile.
func (r *ProfileRepository) ClearProfileCache(profileID *uuid.UUID) {
	if profileID == nil {
		r.rules.Clear()
	} else {
		r.rules.Delete(domain.RuleCacheKey(*profileID))
	}
	r.profiles.DeleteFunc(func(key string) bool {
		return strings.HasPrefix(key, domain.ProfileCachePrefix)
	})
}

func (r *ProfileRepository) attachRules(ctx context.Context, profiles []domain.Profile) error {
	var missing []uuid.UUID
	for i := range profiles {
		if rules, ok := r.cachedRules(domain.RuleCacheKey(profiles[i].ID)); ok {
			profiles[i].Rules = rules
			continue
		}
		missing = append(missing, profiles[i].ID)
	}
	if len(missing) == 0 {
		return nil
	}

	loaded, err := r.loader.LoadMany(ctx, missing)
	if err != nil {
		return err
	}
	for i := range profiles {
		rules, ok := loaded[profiles[i].ID]
		if !ok {
			continue
		}
		if r.cacheEnabled {
			r.rules.Set(domain.RuleCacheKey(profiles[i].ID), rules)
		}
		profiles[i].Rules = copyRules(rules)
	}
	return nil
}

// fetchRules backs the rule loader. Stores that can batch do so; others
// are asked one profile at a time.
func (r *ProfileRepository) fetchRules(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
	out := make(map[uuid.UUID][]domain.Rule, len(ids))

	if batch, ok := r.store.(BatchRuleStore); ok {
		byProfile, err := batch.ListRulesForProfiles(ctx, ids)
		if err != nil {
			slog.Warn("batched rule listing failed", "profiles", len(ids), "error", err)
			return nil, domain.NewStoreError("list rules", err)
		}
		for _, id := range ids {
			out[id] = domain.ActiveRules(byProfile[id])
		}
		return out, nil
	}

	for _, id := range ids {
		rules, err := r.store.ListRules(ctx, id)
		if err != nil {
			slog.Warn("rule listing failed", "profile", id, "error", err)
			return nil, domain.NewStoreError("list rules", err)
		}
		out[id] = domain.ActiveRules(rules)
	}
	return out, nil
}

func (r *ProfileRepository) cachedProfiles(key string) ([]domain.Profile, bool) {
	if !r.cacheEnabled {
		return nil, false
	}
	profiles, ok := r.profiles.Get(key)
	if ok {
		slog.Debug("profile cache hit", "key", key)
	}
	return profiles, ok
}

func (r *ProfileRepository) cachedRules(key string) ([]domain.Rule, bool) {
	if !r.cacheEnabled {
		return nil, false
	}
	rules, ok := r.rules.Get(key)
	if !ok {
		return nil, false
	}
	slog.Debug("rule cache hit", "key", key)
	return copyRules(rules), true
}

func stripRules(profiles []domain.Profile) []domain.Profile {
	out := make([]domain.Profile, len(profiles))
	for i, p := range profiles {
		p.Rules = nil
		out[i] = p
	}
	return out
}

func copyRules(rules []domain.Rule) []domain.Rule {
	out := make([]domain.Rule, len(rules))
	copy(out, rules)
	return out
}
