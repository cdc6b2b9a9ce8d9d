package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autocare-platform/pkg/utils"
)

// PostgresRepo persists bills in billing_records with their line items in
// billing_items.
//
// NOTE: expects
//
//	CREATE TABLE billing_records (
//	  id bigserial PRIMARY KEY, appointment_id bigint NOT NULL, user_id text,
//	  provider_name text NOT NULL, vehicle_name text, vehicle_number text,
//	  services_total_minor bigint NOT NULL, service_charge_minor bigint NOT NULL,
//	  total_amount_minor bigint NOT NULL, currency text NOT NULL,
//	  payment_status text NOT NULL, payment_method text, paid_at timestamptz,
//	  idempotency_key text UNIQUE, created_at timestamptz NOT NULL);
//	CREATE TABLE billing_items (
//	  billing_id bigint REFERENCES billing_records(id), position int NOT NULL,
//	  service_id text, name text NOT NULL, unit_price_minor bigint NOT NULL,
//	  quantity int NOT NULL, PRIMARY KEY (billing_id, position));
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `id, appointment_id, COALESCE(user_id, ''), provider_name, COALESCE(vehicle_name, ''),
	COALESCE(vehicle_number, ''), services_total_minor, service_charge_minor, total_amount_minor, currency,
	payment_status, COALESCE(payment_method, ''), paid_at, COALESCE(idempotency_key, ''), created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var r Record
	var status string
	var paidAt sql.NullTime
	err := s.Scan(&r.ID, &r.AppointmentID, &r.UserID, &r.ProviderName, &r.VehicleName, &r.VehicleNumber,
		&r.ServicesTotalMinor, &r.ServiceChargeMinor, &r.TotalAmountMinor, &r.Currency,
		&status, &r.PaymentMethod, &paidAt, &r.IdempotencyKey, &r.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	r.PaymentStatus = PaymentStatus(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		r.PaidAt = &t
	}
	return r, nil
}

func (p *PostgresRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO billing_records (appointment_id, user_id, provider_name, vehicle_name, vehicle_number,
				services_total_minor, service_charge_minor, total_amount_minor, currency, payment_status,
				idempotency_key, created_at)
			VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, NULLIF($11, ''), $12)
			RETURNING id
		`, rec.AppointmentID, rec.UserID, rec.ProviderName, rec.VehicleName, rec.VehicleNumber,
			rec.ServicesTotalMinor, rec.ServiceChargeMinor, rec.TotalAmountMinor, rec.Currency,
			string(rec.PaymentStatus), rec.IdempotencyKey, rec.CreatedAt).Scan(&rec.ID)
		if err != nil {
			return err
		}
		for i, li := range rec.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO billing_items (billing_id, position, service_id, name, unit_price_minor, quantity)
				VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
			`, rec.ID, i, li.ServiceID, li.Name, li.UnitPriceMinor, li.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A retried create with the same key returns the bill created the first time.
		if rec.IdempotencyKey != "" && utils.IsUniqueViolation(err) {
			return p.getByIdempotencyKey(ctx, rec.IdempotencyKey)
		}
		return Record{}, fmt.Errorf("insert billing: %w", err)
	}
	return rec, nil
}

func (p *PostgresRepo) getByIdempotencyKey(ctx context.Context, key string) (Record, error) {
	recs, err := p.list(ctx, `WHERE idempotency_key = $1`, key)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (p *PostgresRepo) Get(ctx context.Context, id int64) (Record, error) {
	recs, err := p.list(ctx, `WHERE id = $1`, id)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (p *PostgresRepo) ListByAppointment(ctx context.Context, appointmentID int64) ([]Record, error) {
	return p.list(ctx, `WHERE appointment_id = $1`, appointmentID)
}

func (p *PostgresRepo) ListByProvider(ctx context.Context, providerName string) ([]Record, error) {
	return p.list(ctx, `WHERE provider_name = $1`, providerName)
}

func (p *PostgresRepo) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	return p.list(ctx, `WHERE user_id = $1`, userID)
}

func (p *PostgresRepo) MarkPaid(ctx context.Context, id int64, method string, at time.Time) (Record, error) {
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT payment_status FROM billing_records WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if PaymentStatus(status) == PaymentPaid {
			return ErrAlreadyPaid
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE billing_records SET payment_status = $2, payment_method = $3, paid_at = $4 WHERE id = $1
		`, id, string(PaymentPaid), method, at)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return p.Get(ctx, id)
}

func (p *PostgresRepo) list(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM billing_records `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	index := map[int64]int{}
	ids := make([]int64, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		index[r.ID] = len(out)
		ids = append(ids, r.ID)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	itemRows, err := p.db.QueryContext(ctx, `
		SELECT billing_id, COALESCE(service_id, ''), name, unit_price_minor, quantity
		FROM billing_items WHERE billing_id = ANY($1) ORDER BY billing_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var billingID int64
		var li LineItem
		if err := itemRows.Scan(&billingID, &li.ServiceID, &li.Name, &li.UnitPriceMinor, &li.Quantity); err != nil {
			return nil, err
		}
		if i, ok := index[billingID]; ok {
			out[i].Items = append(out[i].Items, li)
		}
	}
	return out, itemRows.Err()
}
