package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ocx/wsgateway/internal/audit"
)

// auditSchema is the DDL for the persisted audit table, per spec.md §6
// "Persisted audit record columns". Applied out-of-band by migration
// tooling; kept here as the canonical reference for the columns
// AuditStore writes.
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id               BIGSERIAL PRIMARY KEY,
	timestamp        TIMESTAMPTZ NOT NULL,
	user_id          TEXT NOT NULL,
	username         TEXT NOT NULL,
	user_roles       TEXT[] NOT NULL DEFAULT '{}',
	action_type      TEXT NOT NULL,
	resource         TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	ip_address       TEXT,
	user_agent       TEXT,
	request_id       TEXT,
	request_data     JSONB,
	response_status  INTEGER,
	error_message    TEXT,
	duration_ms      BIGINT
);
CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log (timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_user_id ON audit_log (user_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_username ON audit_log (username);
CREATE INDEX IF NOT EXISTS idx_audit_log_action_type ON audit_log (action_type);
CREATE INDEX IF NOT EXISTS idx_audit_log_outcome ON audit_log (outcome);
CREATE INDEX IF NOT EXISTS idx_audit_log_request_id ON audit_log (request_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_user_id_timestamp ON audit_log (user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_user_id_action_type ON audit_log (user_id, action_type);
`

// AuditStore persists batches of audit.Entry in a single transaction,
// implementing audit.Writer.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore builds an AuditStore over an open pool.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Schema returns the DDL used to provision the audit_log table.
func (s *AuditStore) Schema() string { return auditSchema }

// WriteBatch inserts every entry in one transaction. A failure rolls
// back the whole batch — the pipeline's caller treats the batch as
// entirely lost on error, per spec.md §4.4.
func (s *AuditStore) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin audit batch tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertAuditEntrySQL)
	if err != nil {
		return fmt.Errorf("storage: prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var requestData []byte
		if e.RequestData != nil {
			requestData, err = json.Marshal(e.RequestData)
			if err != nil {
				return fmt.Errorf("storage: marshal request_data: %w", err)
			}
		}

		var responseStatus sql.NullInt32
		if e.ResponseStatus != 0 {
			responseStatus = sql.NullInt32{Int32: int32(e.ResponseStatus), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			e.Timestamp,
			e.UserID,
			e.Username,
			pq.Array(e.UserRoles),
			e.ActionType,
			e.Resource,
			string(e.Outcome),
			nullableString(e.IPAddress),
			nullableString(e.UserAgent),
			nullableString(e.CorrelationID),
			nullableJSON(requestData),
			responseStatus,
			nullableString(e.ErrorMessage),
			e.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("storage: insert audit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit audit batch tx: %w", err)
	}
	return nil
}

const insertAuditEntrySQL = `
INSERT INTO audit_log
	(timestamp, user_id, username, user_roles, action_type, resource, outcome,
	 ip_address, user_agent, request_id, request_data, response_status,
	 error_message, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

func nullableString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableJSON(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
