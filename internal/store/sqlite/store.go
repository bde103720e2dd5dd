// Package sqlite is a single-file record store for mapping profiles, rules
// and entity records. It backs local runs and tests where PostgreSQL is not
// available.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/fieldmap/internal/domain"
	"github.com/rpattn/fieldmap/internal/repository"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const profileColumns = `id, name, source_entity, target_entity, mapping_direction, sync_mode,
	is_active, description, created_at, updated_at`

const ruleColumns = `id, profile_id, name, source_field, source_field_type, target_field,
	target_field_type, compatibility_mode, is_required, default_value,
	is_cascading_source, execution_order, is_active`

// Store reads and writes mapping data in a SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ repository.Store          = (*Store)(nil)
	_ repository.BatchRuleStore = (*Store)(nil)
)

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite has a single writer and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListProfiles returns the profiles matching filter ordered by name.
func (s *Store) ListProfiles(ctx context.Context, filter domain.ProfileFilter) ([]domain.Profile, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if filter.SourceEntity != "" {
		where = append(where, "source_entity = ?")
		args = append(args, filter.SourceEntity)
	}
	if filter.TargetEntity != "" {
		where = append(where, "target_entity = ?")
		args = append(args, filter.TargetEntity)
	}
	if filter.ProfileID != nil {
		where = append(where, "id = ?")
		args = append(args, filter.ProfileID.String())
	}

	query := "SELECT " + profileColumns + " FROM mapping_profiles"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []domain.Profile{}
	for rows.Next() {
		var (
			p           domain.Profile
			direction   string
			syncMode    string
			description sql.NullString
			createdAt   sql.NullTime
			updatedAt   sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.SourceEntity, &p.TargetEntity, &direction, &syncMode,
			&p.IsActive, &description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.Direction = domain.MappingDirection(direction)
		p.SyncMode = domain.SyncMode(syncMode)
		p.Description = description.String
		p.CreatedAt = createdAt.Time
		p.UpdatedAt = updatedAt.Time
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// ListRules returns the active rules of one profile in execution order.
func (s *Store) ListRules(ctx context.Context, profileID uuid.UUID) ([]domain.Rule, error) {
	byProfile, err := s.ListRulesForProfiles(ctx, []uuid.UUID{profileID})
	if err != nil {
		return nil, err
	}
	if rules := byProfile[profileID]; rules != nil {
		return rules, nil
	}
	return []domain.Rule{}, nil
}

// ListRulesForProfiles loads the active rules of several profiles in one query.
func (s *Store) ListRulesForProfiles(ctx context.Context, profileIDs []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
	out := make(map[uuid.UUID][]domain.Rule, len(profileIDs))
	if len(profileIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(profileIDs))
	args := make([]any, len(profileIDs))
	for i, id := range profileIDs {
		placeholders[i] = "?"
		args[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+`
		 FROM mapping_rules
		 WHERE profile_id IN (`+strings.Join(placeholders, ", ")+`)
		   AND is_active = 1
		 ORDER BY profile_id, execution_order, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r          domain.Rule
			name       sql.NullString
			sourceType string
			targetType string
			mode       string
			def        sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ProfileID, &name, &r.SourceField, &sourceType, &r.TargetField,
			&targetType, &mode, &r.IsRequired, &def, &r.IsCascadingSource, &r.ExecutionOrder, &r.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Name = name.String
		r.SourceFieldType = domain.FieldType(sourceType)
		r.TargetFieldType = domain.FieldType(targetType)
		r.CompatibilityMode = domain.CompatibilityMode(mode)
		if def.Valid {
			value := def.String
			r.DefaultValue = &value
		}
		out[r.ProfileID] = append(out[r.ProfileID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return out, nil
}

// GetFieldValues returns the requested fields of one record's properties.
func (s *Store) GetFieldValues(ctx context.Context, entity string, recordID uuid.UUID, fields []string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT properties FROM entity_records WHERE id = ? AND entity_type = ?`,
		recordID.String(), entity,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", entity, recordID, repository.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to load record properties: %w", err)
	}

	props := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("failed to decode properties of %s %s: %w", entity, recordID, err)
	}
	return repository.PickFields(props, fields), nil
}

// SaveProfile upserts a profile. When the profile carries loaded rules they
// replace the stored ones.
func (s *Store) SaveProfile(ctx context.Context, profile domain.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO mapping_profiles (id, name, source_entity, target_entity, mapping_direction, sync_mode, is_active, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   source_entity = excluded.source_entity,
		   target_entity = excluded.target_entity,
		   mapping_direction = excluded.mapping_direction,
		   sync_mode = excluded.sync_mode,
		   is_active = excluded.is_active,
		   description = excluded.description,
		   updated_at = CURRENT_TIMESTAMP`,
		profile.ID.String(), profile.Name, profile.SourceEntity, profile.TargetEntity,
		string(profile.Direction), string(profile.SyncMode), profile.IsActive,
		sql.NullString{String: profile.Description, Valid: profile.Description != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", profile.Name, err)
	}

	if profile.RulesLoaded() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mapping_rules WHERE profile_id = ?`, profile.ID.String()); err != nil {
			return fmt.Errorf("failed to clear rules of %s: %w", profile.Name, err)
		}
		for _, r := range profile.Rules {
			var def sql.NullString
			if r.DefaultValue != nil {
				def = sql.NullString{String: *r.DefaultValue, Valid: true}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO mapping_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID.String(), profile.ID.String(),
				sql.NullString{String: r.Name, Valid: r.Name != ""},
				r.SourceField, string(r.SourceFieldType), r.TargetField, string(r.TargetFieldType),
				string(r.CompatibilityMode), r.IsRequired, def, r.IsCascadingSource, r.ExecutionOrder, r.IsActive,
			)
			if err != nil {
				return fmt.Errorf("failed to save rule %s: %w", r.Label(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveRecord upserts an entity record with the given properties.
func (s *Store) SaveRecord(ctx context.Context, entity string, recordID uuid.UUID, props map[string]any) error {
	payload, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entity_records (id, entity_type, properties)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   entity_type = excluded.entity_type,
		   properties = excluded.properties,
		   updated_at = CURRENT_TIMESTAMP`,
		recordID.String(), entity, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", recordID, err)
	}
	return nil
}
