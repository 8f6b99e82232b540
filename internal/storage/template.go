package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/server-common/hermes/internal/domain"
)

// CreateTemplate persists a new mail template. Template names are unique per
// tenant.
func (s *Store) CreateTemplate(ctx context.Context, t *domain.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		insert into mail_template (id, group_key, name, subject, content, description)
		values ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.GroupKey, t.Name, t.Subject, t.Content, t.Description,
	)
	return mapWriteErr(err)
}

// UpdateTemplate updates subject, content and description of a template.
func (s *Store) UpdateTemplate(ctx context.Context, t *domain.Template) error {
	tag, err := s.db.Exec(ctx, `
		update mail_template
		   set subject = $3, content = $4, description = $5, updated_at = now()
		 where id = $1 and group_key = $2`,
		t.ID, t.GroupKey, t.Subject, t.Content, t.Description,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTemplate removes a template by id.
func (s *Store) DeleteTemplate(ctx context.Context, id, groupKey string) error {
	tag, err := s.db.Exec(ctx,
		`delete from mail_template where id = $1 and group_key = $2`, id, groupKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTemplateByName loads a template by tenant-scoped name.
func (s *Store) GetTemplateByName(ctx context.Context, name, groupKey string) (*domain.Template, error) {
	row := s.db.QueryRow(ctx, `
		select id, group_key, name, subject, content, description, created_at, updated_at
		  from mail_template
		 where name = $1 and group_key = $2`, name, groupKey)
	return scanTemplate(row)
}

// GetTemplate loads a template by id.
func (s *Store) GetTemplate(ctx context.Context, id, groupKey string) (*domain.Template, error) {
	row := s.db.QueryRow(ctx, `
		select id, group_key, name, subject, content, description, created_at, updated_at
		  from mail_template
		 where id = $1 and group_key = $2`, id, groupKey)
	return scanTemplate(row)
}

// ListTemplates returns a tenant's templates ordered by name.
func (s *Store) ListTemplates(ctx context.Context, groupKey string, limit, offset int) ([]domain.Template, error) {
	rows, err := s.db.Query(ctx, `
		select id, group_key, name, subject, content, description, created_at, updated_at
		  from mail_template
		 where group_key = $1
		 order by name asc
		 limit $2 offset $3`, groupKey, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var t domain.Template
	err := row.Scan(&t.ID, &t.GroupKey, &t.Name, &t.Subject, &t.Content,
		&t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
