package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to audit_events.
//
// NOTE: expects
//
//	CREATE TABLE audit_events (
//	  id uuid PRIMARY KEY, appointment_id bigint NOT NULL, type text NOT NULL,
//	  actor_name text, actor_role text, billing_id bigint, message text,
//	  metadata jsonb, created_at timestamptz NOT NULL);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, appointment_id, type, actor_name, actor_role, billing_id, message, metadata, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, 0), NULLIF($7, ''), NULLIF($8, '')::jsonb, $9)
	`, e.ID, e.AppointmentID, string(e.Type), e.ActorName, e.ActorRole, e.BillingID, e.Message, e.Metadata, e.CreatedAt)
	return err
}
