package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/server-common/hermes/internal/domain"
)

// CreateBatch persists a finalized bulk batch record. Counts and status are
// computed once at admission time and never updated afterward.
func (s *Store) CreateBatch(ctx context.Context, b *domain.BulkBatch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		insert into bulk_mail_batch
			(id, batch_id, group_key, total_count, success_count, failed_count, status, template_name, completed_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.BatchID, b.GroupKey, b.TotalCount, b.SuccessCount, b.FailedCount,
		b.Status, b.TemplateName, b.CompletedAt,
	)
	return mapWriteErr(err)
}

// GetBatch loads a bulk batch by its public batch id scoped to a tenant.
func (s *Store) GetBatch(ctx context.Context, batchID, groupKey string) (*domain.BulkBatch, error) {
	var b domain.BulkBatch
	err := s.db.QueryRow(ctx, `
		select id, batch_id, group_key, total_count, success_count, failed_count,
		       status, template_name, created_at, completed_at
		  from bulk_mail_batch
		 where batch_id = $1 and group_key = $2`, batchID, groupKey,
	).Scan(&b.ID, &b.BatchID, &b.GroupKey, &b.TotalCount, &b.SuccessCount,
		&b.FailedCount, &b.Status, &b.TemplateName, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}
