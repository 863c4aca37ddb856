package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgRepository struct {
	db db
}

func NewPgRepository(db db) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanVaccine(row pgx.Row) (*Vaccine, error) {
	var v Vaccine

	err := row.Scan(
		&v.ID,
		&v.Name,
		&v.TotalDoses,
		&v.MinIntervalDays,
		&v.BoosterEligible,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVaccineNotFound
		}
		return nil, err
	}

	return &v, nil
}

func scanCenter(row pgx.Row) (*Center, error) {
	var c Center

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Address,
		&c.City,
		&c.State,
		&c.Pincode,
		&c.Latitude,
		&c.Longitude,
		&c.OpenTime,
		&c.CloseTime,
		&c.SlotLengthMinutes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCenterNotFound
		}
		return nil, err
	}

	return &c, nil
}

// Interface methods

func (r *PgRepository) GetVaccine(ctx context.Context, id string) (*Vaccine, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, total_doses, min_interval_days, booster_eligible
		FROM vaccines
		WHERE id = $1
	`, id)
	return scanVaccine(row)
}

func (r *PgRepository) ListVaccines(ctx context.Context) ([]Vaccine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, total_doses, min_interval_days, booster_eligible
		FROM vaccines
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Vaccine
	for rows.Next() {
		v, err := scanVaccine(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	return result, rows.Err()
}

func (r *PgRepository) GetCenter(ctx context.Context, id string) (*Center, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, address, city, state, pincode, latitude, longitude,
		       open_time, close_time, slot_length_minutes
		FROM centers
		WHERE id = $1
	`, id)
	return scanCenter(row)
}

func (r *PgRepository) ListCenters(ctx context.Context) ([]Center, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, address, city, state, pincode, latitude, longitude,
		       open_time, close_time, slot_length_minutes
		FROM centers
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Center
	for rows.Next() {
		c, err := scanCenter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListStock(ctx context.Context, centerID string) ([]StockLevel, error) {
	rows, err := r.db.Query(ctx, `
		SELECT center_id, vaccine_id, total_units, allocated_units
		FROM center_stock
		WHERE center_id = $1
		ORDER BY vaccine_id
	`, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StockLevel
	for rows.Next() {
		var s StockLevel
		if err := rows.Scan(&s.CenterID, &s.VaccineID, &s.TotalUnits, &s.AllocatedUnits); err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	return result, rows.Err()
}

func (r *PgRepository) AvailableUnits(ctx context.Context, vaccineID string) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT center_id, total_units - allocated_units
		FROM center_stock
		WHERE vaccine_id = $1
	`, vaccineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var centerID string
		var available int
		if err := rows.Scan(&centerID, &available); err != nil {
			return nil, err
		}
		result[centerID] = available
	}

	return result, rows.Err()
}
