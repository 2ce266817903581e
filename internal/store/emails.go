package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Martian-dev/mailsync/internal/models"
)

const upsertEmailSQL = `
	INSERT INTO emails
	(message_id, date_received, from_email, domain_origin, size_of_email, has_attachments, subject)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO UPDATE SET
		date_received = excluded.date_received,
		from_email = excluded.from_email,
		domain_origin = excluded.domain_origin,
		size_of_email = excluded.size_of_email,
		has_attachments = excluded.has_attachments,
		subject = excluded.subject
`

// EmailFilter narrows ListEmails
type EmailFilter struct {
	Domain string
	Limit  int
}

// Batch is an open write transaction over the emails and outbox tables.
// Nothing written through a Batch is visible outside it until Commit.
type Batch interface {
	UpsertEmail(ctx context.Context, e models.Email) error
	EnqueueOutbox(ctx context.Context, subject string, payload []byte, msgID string) error
	Commit() error
	Rollback() error
}

type txBatch struct {
	s  *Store
	tx *sql.Tx
}

// BeginBatch opens a write transaction
func (s *Store) BeginBatch(ctx context.Context) (Batch, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &txBatch{s: s, tx: tx}, nil
}

func (b *txBatch) UpsertEmail(ctx context.Context, e models.Email) error {
	_, err := b.tx.ExecContext(ctx, b.s.rebind(upsertEmailSQL),
		e.MessageID, e.DateReceived, e.FromEmail, e.DomainOrigin, e.SizeOfEmail, e.HasAttachments, nullString(e.Subject))
	if err != nil {
		return fmt.Errorf("failed to upsert email %s: %w", e.MessageID, err)
	}
	return nil
}

func (b *txBatch) EnqueueOutbox(ctx context.Context, subject string, payload []byte, msgID string) error {
	return b.s.enqueueOutbox(ctx, b.tx, subject, payload, msgID)
}

func (b *txBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (b *txBatch) Rollback() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// MaxDateReceived returns the watermark: the newest date_received among
// committed rows. ok is false when the table is empty.
func (s *Store) MaxDateReceived(ctx context.Context) (watermark int64, ok bool, err error) {
	var max sql.NullInt64
	err = s.DB.QueryRowContext(ctx, `SELECT MAX(date_received) FROM emails`).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query watermark: %w", err)
	}
	return max.Int64, max.Valid, nil
}

// CountEmails returns the number of stored emails
func (s *Store) CountEmails(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return n, nil
}

// GetEmail returns one email by message id
func (s *Store) GetEmail(ctx context.Context, messageID string) (*models.Email, error) {
	row := s.DB.QueryRowContext(ctx, s.rebind(`
		SELECT message_id, date_received, from_email, domain_origin, size_of_email, has_attachments, subject
		FROM emails WHERE message_id = ?
	`), messageID)

	e, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return e, nil
}

// ListEmails returns emails newest first
func (s *Store) ListEmails(ctx context.Context, f EmailFilter) ([]models.Email, error) {
	query, args := listEmailsQuery(f)

	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	emails := []models.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, *e)
	}

	return emails, rows.Err()
}

func listEmailsQuery(f EmailFilter) (string, []interface{}) {
	query := `SELECT message_id, date_received, from_email, domain_origin, size_of_email, has_attachments, subject FROM emails`
	args := []interface{}{}

	if f.Domain != "" {
		query += " WHERE domain_origin = ?"
		args = append(args, f.Domain)
	}

	query += " ORDER BY date_received DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return query, args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEmail(row scanner) (*models.Email, error) {
	var e models.Email
	var subject sql.NullString
	if err := row.Scan(&e.MessageID, &e.DateReceived, &e.FromEmail, &e.DomainOrigin,
		&e.SizeOfEmail, &e.HasAttachments, &subject); err != nil {
		return nil, err
	}
	e.Subject = subject.String
	return &e, nil
}
