package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/server-common/hermes/internal/domain"
)

// CreateSetting persists a new setting row. Keys are unique per tenant; an
// empty group key stores a global default.
func (s *Store) CreateSetting(ctx context.Context, st *domain.Setting) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		insert into mail_setting (id, group_key, setting_key, setting_value, description)
		values ($1, $2, $3, $4, $5)`,
		st.ID, st.GroupKey, st.Key, st.Value, st.Description,
	)
	return mapWriteErr(err)
}

// UpdateSettingValue changes a setting's value by tenant-scoped key.
func (s *Store) UpdateSettingValue(ctx context.Context, groupKey, key, value string) error {
	tag, err := s.db.Exec(ctx, `
		update mail_setting
		   set setting_value = $3, updated_at = now()
		 where group_key = $1 and setting_key = $2`,
		groupKey, key, value,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSetting removes a setting by id.
func (s *Store) DeleteSetting(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `delete from mail_setting where id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSettingValue resolves a setting for a tenant, falling back to the
// global row (empty group key) when the tenant has no override.
func (s *Store) GetSettingValue(ctx context.Context, groupKey, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `
		select setting_value from mail_setting
		 where setting_key = $1 and group_key in ($2, '')
		 order by group_key desc
		 limit 1`, key, groupKey,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// ListSettings returns settings for a tenant (global rows included).
func (s *Store) ListSettings(ctx context.Context, groupKey string) ([]domain.Setting, error) {
	rows, err := s.db.Query(ctx, `
		select id, group_key, setting_key, setting_value, description, created_at, updated_at
		  from mail_setting
		 where group_key in ($1, '')
		 order by setting_key asc, group_key desc`, groupKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Setting
	for rows.Next() {
		var st domain.Setting
		if err := rows.Scan(&st.ID, &st.GroupKey, &st.Key, &st.Value,
			&st.Description, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
