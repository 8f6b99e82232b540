package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/server-common/hermes/internal/domain"
)

// CreateMail persists a new pending mail log row and returns its id.
func (s *Store) CreateMail(ctx context.Context, groupKey, recipient, subject, content string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		insert into mail_log (id, group_key, recipient, subject, content, status)
		values ($1, $2, $3, $4, $5, $6)`,
		id, groupKey, recipient, subject, content, domain.MailStatusPending,
	)
	if err != nil {
		return "", mapWriteErr(err)
	}
	return id, nil
}

// GetMail loads a mail by id.
func (s *Store) GetMail(ctx context.Context, id string) (*domain.Mail, error) {
	row := s.db.QueryRow(ctx, `
		select id, group_key, recipient, subject, content, status, sent_at, error_message, created_at
		  from mail_log
		 where id = $1`, id)
	return scanMail(row)
}

// GetMailForGroup loads a mail by id scoped to a tenant.
func (s *Store) GetMailForGroup(ctx context.Context, id, groupKey string) (*domain.Mail, error) {
	row := s.db.QueryRow(ctx, `
		select id, group_key, recipient, subject, content, status, sent_at, error_message, created_at
		  from mail_log
		 where id = $1 and group_key = $2`, id, groupKey)
	return scanMail(row)
}

// UpdateMailStatus records a delivery outcome. The guard on the current
// status keeps transitions one-way: a mail that already reached sent or
// failed is never moved again.
func (s *Store) UpdateMailStatus(ctx context.Context, id string, status domain.MailStatus, sentAt *time.Time, errorMessage *string) error {
	tag, err := s.db.Exec(ctx, `
		update mail_log
		   set status = $2, sent_at = $3, error_message = $4
		 where id = $1 and status = $5`,
		id, status, sentAt, errorMessage, domain.MailStatusPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSentSince returns the number of mails a tenant has successfully sent
// since the given instant. Used by the daily rate limiter.
func (s *Store) CountSentSince(ctx context.Context, groupKey string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		select count(*) from mail_log
		 where group_key = $1 and status = $2 and sent_at >= $3`,
		groupKey, domain.MailStatusSent, since,
	).Scan(&n)
	return n, err
}

// ListMails returns a tenant's mail logs ordered newest first. An empty
// status lists all statuses.
func (s *Store) ListMails(ctx context.Context, groupKey string, status domain.MailStatus, limit, offset int) ([]domain.Mail, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(ctx, `
			select id, group_key, recipient, subject, content, status, sent_at, error_message, created_at
			  from mail_log
			 where group_key = $1
			 order by created_at desc
			 limit $2 offset $3`, groupKey, limit, offset)
	} else {
		rows, err = s.db.Query(ctx, `
			select id, group_key, recipient, subject, content, status, sent_at, error_message, created_at
			  from mail_log
			 where group_key = $1 and status = $2
			 order by created_at desc
			 limit $3 offset $4`, groupKey, status, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Mail
	for rows.Next() {
		m, err := scanMail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListStalePending returns ids of pending mails created before the cutoff.
// The reconciliation sweep uses this to find work lost in the pop-then-crash
// window; presence checks against the queue happen at the caller.
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		select id from mail_log
		 where status = $1 and created_at < $2
		 order by created_at asc
		 limit $3`, domain.MailStatusPending, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMail(row rowScanner) (*domain.Mail, error) {
	var m domain.Mail
	err := row.Scan(&m.ID, &m.GroupKey, &m.Recipient, &m.Subject, &m.Content,
		&m.Status, &m.SentAt, &m.ErrorMessage, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
