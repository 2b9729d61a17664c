package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/nexusedu/credit-service/internal/models"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
)

type PostgresTicketRepository struct {
	db *sql.DB
}

func NewPostgresTicketRepository(db *sql.DB) *PostgresTicketRepository {
	return &PostgresTicketRepository{db: db}
}

func (r *PostgresTicketRepository) Create(ctx context.Context, ticket *models.SupportTicket) error {
	if ticket == nil || ticket.ID == "" {
		return pkgerrors.ErrInvalidArgument
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO tickets (id, student_id, subject, status, priority, is_escalated, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ticket.ID, ticket.StudentID, ticket.Subject, ticket.Status, ticket.Priority,
		ticket.IsEscalated, ticket.LastMessageAt, ticket.CreatedAt)
	if err == nil {
		for _, m := range ticket.Messages {
			if err = insertMessage(ctx, dbTx, &m); err != nil {
				break
			}
		}
	}
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "CreateTicket", "error", rbErr)
		}
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return dbTx.Commit()
}

func insertMessage(ctx context.Context, dbTx *sql.Tx, m *models.Message) error {
	_, err := dbTx.ExecContext(ctx,
		`INSERT INTO ticket_messages (id, ticket_id, author_id, author_role, body, attachment_url, is_internal, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.TicketID, m.AuthorID, m.AuthorRole, m.Text, m.AttachmentURL, m.IsInternal, m.CreatedAt)
	return err
}

func (r *PostgresTicketRepository) GetByID(ctx context.Context, id string) (*models.SupportTicket, error) {
	var t models.SupportTicket
	var nps sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, student_id, subject, status, priority, is_escalated, last_message_at, nps, created_at
		 FROM tickets WHERE id = $1`, id).
		Scan(&t.ID, &t.StudentID, &t.Subject, &t.Status, &t.Priority, &t.IsEscalated, &t.LastMessageAt, &nps, &t.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	if nps.Valid {
		score := int(nps.Int64)
		t.NPS = &score
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ticket_id, author_id, author_role, body, attachment_url, is_internal, created_at
		 FROM ticket_messages WHERE ticket_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.TicketID, &m.AuthorID, &m.AuthorRole, &m.Text, &m.AttachmentURL, &m.IsInternal, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		t.Messages = append(t.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return &t, nil
}

// List returns tickets without transcripts; GetByID loads the messages.
func (r *PostgresTicketRepository) List(ctx context.Context) ([]models.SupportTicket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, student_id, subject, status, priority, is_escalated, last_message_at, nps, created_at
		 FROM tickets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var out []models.SupportTicket
	for rows.Next() {
		var t models.SupportTicket
		var nps sql.NullInt64
		if err := rows.Scan(&t.ID, &t.StudentID, &t.Subject, &t.Status, &t.Priority, &t.IsEscalated, &t.LastMessageAt, &nps, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		if nps.Valid {
			score := int(nps.Int64)
			t.NPS = &score
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tickets: %w", err)
	}
	return out, nil
}

func (r *PostgresTicketRepository) UpdateStatus(ctx context.Context, id string, from, to models.TicketStatus, escalated bool, priority models.TicketPriority) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET status = $1, is_escalated = $2,
		 priority = COALESCE(NULLIF($3, ''), priority)
		 WHERE id = $4 AND status = $5`,
		to, escalated, string(priority), id, from)
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE id = $1`, id).Scan(&one)
		if stderrors.Is(err, sql.ErrNoRows) {
			return pkgerrors.ErrTicketNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check ticket: %w", err)
		}
		return pkgerrors.ErrIllegalTransition
	}
	return nil
}

func (r *PostgresTicketRepository) AppendMessage(ctx context.Context, ticketID string, msg *models.Message) error {
	if msg == nil {
		return pkgerrors.ErrInvalidArgument
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := dbTx.ExecContext(ctx,
		`UPDATE tickets SET last_message_at = $1 WHERE id = $2`, msg.CreatedAt, ticketID)
	if err == nil {
		var affected int64
		if affected, err = res.RowsAffected(); err == nil && affected == 0 {
			err = pkgerrors.ErrTicketNotFound
		}
	}
	if err == nil {
		err = insertMessage(ctx, dbTx, msg)
	}
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "AppendMessage", "error", rbErr)
		}
		if stderrors.Is(err, pkgerrors.ErrTicketNotFound) {
			return err
		}
		return fmt.Errorf("failed to append message: %w", err)
	}
	return dbTx.Commit()
}

func (r *PostgresTicketRepository) SetNPS(ctx context.Context, id string, score int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET nps = $1 WHERE id = $2 AND status = $3 AND nps IS NULL`,
		score, id, models.StatusResolved)
	if err != nil {
		return fmt.Errorf("failed to set nps: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE id = $1`, id).Scan(&one)
		if stderrors.Is(err, sql.ErrNoRows) {
			return pkgerrors.ErrTicketNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check ticket: %w", err)
		}
		return pkgerrors.ErrIllegalTransition
	}
	return nil
}
