package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rpattn/fieldmap/internal/domain"
	"github.com/rpattn/fieldmap/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const profileColumns = `id, name, source_entity, target_entity, mapping_direction, sync_mode,
	is_active, description, created_at, updated_at`

const ruleColumns = `id, profile_id, name, source_field, source_field_type, target_field,
	target_field_type, compatibility_mode, is_required, default_value,
	is_cascading_source, execution_order, is_active`

// Store reads mapping profiles, rules and entity records from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ repository.Store          = (*Store)(nil)
	_ repository.BatchRuleStore = (*Store)(nil)
)

// New wires a store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListProfiles returns the profiles matching filter ordered by name.
func (s *Store) ListProfiles(ctx context.Context, filter domain.ProfileFilter) ([]domain.Profile, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres store not initialized")
	}

	query, args := profileQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []domain.Profile{}
	for rows.Next() {
		profile, scanErr := scanProfile(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", scanErr)
		}
		profiles = append(profiles, profile)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", rowsErr)
	}
	return profiles, nil
}

// ListRules returns the active rules of one profile in execution order.
func (s *Store) ListRules(ctx context.Context, profileID uuid.UUID) ([]domain.Rule, error) {
	byProfile, err := s.ListRulesForProfiles(ctx, []uuid.UUID{profileID})
	if err != nil {
		return nil, err
	}
	rules := byProfile[profileID]
	if rules == nil {
		rules = []domain.Rule{}
	}
	return rules, nil
}

// ListRulesForProfiles loads the active rules of several profiles in one query.
func (s *Store) ListRulesForProfiles(ctx context.Context, profileIDs []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres store not initialized")
	}

	out := make(map[uuid.UUID][]domain.Rule, len(profileIDs))
	if len(profileIDs) == 0 {
		return out, nil
	}

	ids := make([]string, len(profileIDs))
	for i, id := range profileIDs {
		ids[i] = id.String()
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+`
		 FROM mapping_rules
		 WHERE profile_id = ANY($1::uuid[])
		   AND is_active
		 ORDER BY profile_id, execution_order, id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", scanErr)
		}
		out[rule.ProfileID] = append(out[rule.ProfileID], rule)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", rowsErr)
	}
	return out, nil
}

// GetFieldValues reads the properties document of one record and returns the
// requested fields. Numbers are returned as json.Number so the converter can
// keep their exact text for textual fields.
func (s *Store) GetFieldValues(ctx context.Context, entity string, recordID uuid.UUID, fields []string) (map[string]any, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres store not initialized")
	}

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT properties FROM entity_records WHERE id = $1 AND entity_type = $2`,
		recordID, entity,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", entity, recordID, repository.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to load record properties: %w", err)
	}

	props, err := decodeProperties(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode properties of %s %s: %w", entity, recordID, err)
	}
	return repository.PickFields(props, fields), nil
}

// SaveProfile upserts a profile and replaces its rules in one transaction.
func (s *Store) SaveProfile(ctx context.Context, profile domain.Profile) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO mapping_profiles (id, name, source_entity, target_entity, mapping_direction, sync_mode, is_active, description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name,
			   source_entity = EXCLUDED.source_entity,
			   target_entity = EXCLUDED.target_entity,
			   mapping_direction = EXCLUDED.mapping_direction,
			   sync_mode = EXCLUDED.sync_mode,
			   is_active = EXCLUDED.is_active,
			   description = EXCLUDED.description,
			   updated_at = NOW()`,
			profile.ID,
			profile.Name,
			profile.SourceEntity,
			profile.TargetEntity,
			string(profile.Direction),
			string(profile.SyncMode),
			profile.IsActive,
			optionalText(profile.Description),
		)
		if err != nil {
			return fmt.Errorf("failed to save profile %s: %w", profile.Name, err)
		}

		if !profile.RulesLoaded() {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM mapping_rules WHERE profile_id = $1`, profile.ID); err != nil {
			return fmt.Errorf("failed to clear rules of %s: %w", profile.Name, err)
		}
		for _, rule := range profile.Rules {
			rule.ProfileID = profile.ID
			if err := insertRule(ctx, tx, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveRecord upserts an entity record with the given properties.
func (s *Store) SaveRecord(ctx context.Context, entity string, recordID uuid.UUID, props map[string]any) error {
	if s.pool == nil {
		return fmt.Errorf("postgres store not initialized")
	}
	payload, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO entity_records (id, entity_type, properties)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
		   entity_type = EXCLUDED.entity_type,
		   properties = EXCLUDED.properties,
		   updated_at = NOW()`,
		recordID, entity, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", recordID, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if s.pool == nil {
		return fmt.Errorf("postgres store not initialized")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(ctx); err != nil {
				slog.Error("failed to rollback transaction", "error", err)
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertRule(ctx context.Context, tx pgx.Tx, rule domain.Rule) error {
	var def pgtype.Text
	if rule.DefaultValue != nil {
		def = pgtype.Text{String: *rule.DefaultValue, Valid: true}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO mapping_rules (`+ruleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rule.ID,
		rule.ProfileID,
		optionalText(rule.Name),
		rule.SourceField,
		string(rule.SourceFieldType),
		rule.TargetField,
		string(rule.TargetFieldType),
		string(rule.CompatibilityMode),
		rule.IsRequired,
		def,
		rule.IsCascadingSource,
		rule.ExecutionOrder,
		rule.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.Label(), err)
	}
	return nil
}

// profileQuery builds the listing query for filter. Empty filter fields add
// no predicate.
func profileQuery(filter domain.ProfileFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	if filter.SourceEntity != "" {
		add("source_entity = ?", filter.SourceEntity)
	}
	if filter.TargetEntity != "" {
		add("target_entity = ?", filter.TargetEntity)
	}
	if filter.ProfileID != nil {
		add("id = ?", *filter.ProfileID)
	}

	query := "SELECT " + profileColumns + " FROM mapping_profiles"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY name, id", args
}

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var (
		profile     domain.Profile
		direction   string
		syncMode    string
		description pgtype.Text
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(
		&profile.ID,
		&profile.Name,
		&profile.SourceEntity,
		&profile.TargetEntity,
		&direction,
		&syncMode,
		&profile.IsActive,
		&description,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Profile{}, err
	}

	profile.Direction = domain.MappingDirection(direction)
	profile.SyncMode = domain.SyncMode(syncMode)
	profile.Description = description.String
	if createdAt.Valid {
		profile.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		profile.UpdatedAt = updatedAt.Time
	}
	return profile, nil
}

func scanRule(row pgx.Row) (domain.Rule, error) {
	var (
		rule       domain.Rule
		name       pgtype.Text
		sourceType string
		targetType string
		mode       string
		def        pgtype.Text
		order      pgtype.Int4
	)
	if err := row.Scan(
		&rule.ID,
		&rule.ProfileID,
		&name,
		&rule.SourceField,
		&sourceType,
		&rule.TargetField,
		&targetType,
		&mode,
		&rule.IsRequired,
		&def,
		&rule.IsCascadingSource,
		&order,
		&rule.IsActive,
	); err != nil {
		return domain.Rule{}, err
	}

	rule.Name = name.String
	rule.SourceFieldType = domain.FieldType(sourceType)
	rule.TargetFieldType = domain.FieldType(targetType)
	rule.CompatibilityMode = domain.CompatibilityMode(mode)
	if def.Valid {
		value := def.String
		rule.DefaultValue = &value
	}
	if order.Valid {
		rule.ExecutionOrder = int(order.Int32)
	}
	return rule, nil
}

func decodeProperties(raw []byte) (map[string]any, error) {
	props := map[string]any{}
	if len(raw) == 0 {
		return props, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, err
	}
	return props, nil
}

func optionalText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
