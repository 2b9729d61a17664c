package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// RunMigrations creates the schema idempotently on startup.
func RunMigrations(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id             VARCHAR(64) PRIMARY KEY,
			global_balance BIGINT      NOT NULL DEFAULT 0 CHECK (global_balance >= 0),
			created_at     BIGINT      NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS buckets (
			account_id VARCHAR(64)  NOT NULL REFERENCES accounts(id),
			tool_id    VARCHAR(64)  NOT NULL,
			label      VARCHAR(255) NOT NULL DEFAULT '',
			balance    BIGINT       NOT NULL DEFAULT 0 CHECK (balance >= 0),
			PRIMARY KEY (account_id, tool_id)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id                VARCHAR(64)  PRIMARY KEY,
			account_id        VARCHAR(64)  NOT NULL REFERENCES accounts(id),
			amount            BIGINT       NOT NULL,
			tool_id           VARCHAR(64)  NOT NULL,
			type              VARCHAR(20)  NOT NULL,
			pocket_used       VARCHAR(20)  NOT NULL,
			description       TEXT         NOT NULL DEFAULT '',
			correlation_id    VARCHAR(64)  NOT NULL DEFAULT '',
			gateway_reference VARCHAR(255) NOT NULL DEFAULT '',
			ts                BIGINT       NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account_ts
			ON transactions(account_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id              VARCHAR(64)  PRIMARY KEY,
			student_id      VARCHAR(64)  NOT NULL,
			subject         VARCHAR(255) NOT NULL,
			status          VARCHAR(20)  NOT NULL,
			priority        VARCHAR(10)  NOT NULL,
			is_escalated    BOOLEAN      NOT NULL DEFAULT FALSE,
			last_message_at BIGINT       NOT NULL,
			nps             INT,
			created_at      BIGINT       NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status
			ON tickets(status)`,
		`CREATE TABLE IF NOT EXISTS ticket_messages (
			id             VARCHAR(64)  PRIMARY KEY,
			ticket_id      VARCHAR(64)  NOT NULL REFERENCES tickets(id),
			author_id      VARCHAR(64)  NOT NULL,
			author_role    VARCHAR(20)  NOT NULL,
			body           TEXT         NOT NULL,
			attachment_url VARCHAR(512) NOT NULL DEFAULT '',
			is_internal    BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at     BIGINT       NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticket_messages_ticket
			ON ticket_messages(ticket_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS finance_requests (
			id          VARCHAR(64) PRIMARY KEY,
			account_id  VARCHAR(64) NOT NULL REFERENCES accounts(id),
			agent_id    VARCHAR(64) NOT NULL,
			amount      BIGINT      NOT NULL CHECK (amount > 0),
			kind        VARCHAR(20) NOT NULL,
			reason      TEXT        NOT NULL,
			status      VARCHAR(10) NOT NULL,
			note        TEXT,
			resolved_by VARCHAR(64),
			resolved_at BIGINT,
			created_at  BIGINT      NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_finance_requests_status
			ON finance_requests(status, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id            VARCHAR(64)  PRIMARY KEY,
			display_name  VARCHAR(255) NOT NULL,
			role          VARCHAR(20)  NOT NULL,
			credit_limit  BIGINT       NOT NULL DEFAULT 0,
			password_hash VARCHAR(255) NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	slog.Info("migrations completed")
	return nil
}
