package appointments

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo reads and updates the appointments table written by the booking flow.
type PostgresRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db, now: time.Now} }

const appointmentColumns = `id, status, COALESCE(vehicle_name, ''), COALESCE(vehicle_number, ''),
	COALESCE(service_type, ''), COALESCE(provider_id, 0), provider_name, customer_name,
	COALESCE(user_id, ''), scheduled_at, updated_at`

func scanAppointment(row interface{ Scan(...any) error }) (Appointment, error) {
	var a Appointment
	var status string
	var scheduled, updated sql.NullTime
	if err := row.Scan(&a.ID, &status, &a.VehicleName, &a.VehicleNumber, &a.ServiceType,
		&a.ProviderID, &a.ProviderName, &a.CustomerName, &a.UserID, &scheduled, &updated); err != nil {
		return Appointment{}, err
	}
	// Rows written by older clients use other spellings.
	if s, ok := ParseStatus(status); ok {
		a.Status = s
	} else {
		a.Status = Status(status)
	}
	if scheduled.Valid {
		a.ScheduledAt = scheduled.Time.UTC()
	}
	if updated.Valid {
		a.UpdatedAt = updated.Time.UTC()
	}
	return a, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (Appointment, error) {
	a, err := scanAppointment(r.db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Appointment{}, ErrNotFound
	}
	return a, err
}

func (r *PostgresRepo) ListByProvider(ctx context.Context, providerName string) ([]Appointment, error) {
	return r.list(ctx, `WHERE provider_name = $1`, providerName)
}

func (r *PostgresRepo) ListByCustomer(ctx context.Context, customerName string) ([]Appointment, error) {
	return r.list(ctx, `WHERE customer_name = $1`, customerName)
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id int64, status Status) (Appointment, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), r.now().UTC())
	if err != nil {
		return Appointment{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Appointment{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *PostgresRepo) list(ctx context.Context, where string, args ...any) ([]Appointment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+appointmentColumns+` FROM appointments `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
