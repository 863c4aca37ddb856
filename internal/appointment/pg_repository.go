package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgRepository struct {
	db db
}

func NewPgRepository(db db) *PgRepository {
	return &PgRepository{db: db}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.VaccineID,
		&a.DoseNumber,
		&a.CenterID,
		&a.Date,
		&a.TimeRange,
		&a.Status,
		&a.ReservationID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, vaccine_id, dose_number, center_id,
		                          slot_date, time_range, status, reservation_id,
		                          created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, a.ID, a.PatientID, a.VaccineID, a.DoseNumber, a.CenterID,
		a.Date, a.TimeRange, a.Status, a.ReservationID)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, vaccine_id, dose_number, center_id,
		       slot_date::text, time_range, status, reservation_id, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, patient_id, vaccine_id, dose_number, center_id,
		          slot_date::text, time_range, status, reservation_id, created_at, updated_at
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, patient_id, vaccine_id, dose_number, center_id,
		       slot_date::text, time_range, status, reservation_id, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY slot_date, time_range
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) AppendRecord(ctx context.Context, rec eligibility.DoseRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO vaccination_records (patient_id, vaccine_id, dose_number, administered_date)
		VALUES ($1, $2, $3, $4)
	`, rec.PatientID, rec.VaccineID, rec.DoseNumber, rec.AdministeredDate)
	if err != nil {
		return fmt.Errorf("insert vaccination record: %w", err)
	}
	return nil
}

func (r *PgRepository) ListRecords(ctx context.Context, patientID uuid.UUID) ([]eligibility.DoseRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT patient_id, vaccine_id, dose_number, administered_date
		FROM vaccination_records
		WHERE patient_id = $1
		ORDER BY administered_date, dose_number
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eligibility.DoseRecord
	for rows.Next() {
		var rec eligibility.DoseRecord
		if err := rows.Scan(&rec.PatientID, &rec.VaccineID, &rec.DoseNumber, &rec.AdministeredDate); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	return result, rows.Err()
}
