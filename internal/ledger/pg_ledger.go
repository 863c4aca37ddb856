package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vaxtrack/vaccination-scheduling/internal/redisclient"
)

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgLedger stores slot usage and stock in Postgres. Mutations run in a
// transaction with conditional UPDATEs, wrapped in the Redis per-slot lock
// so concurrent reservations for the same SlotKey are serialized before
// they ever reach the row.
type PgLedger struct {
	db     db
	locker redisclient.Locker
}

func NewPgLedger(db db, locker redisclient.Locker) *PgLedger {
	return &PgLedger{db: db, locker: locker}
}

func (l *PgLedger) Reserve(ctx context.Context, key SlotKey, vaccineID string) (uuid.UUID, error) {
	var reservationID uuid.UUID

	err := l.locker.WithSlotLock(ctx, key.String(), func(lockCtx context.Context) error {
		id, err := l.reserveTx(lockCtx, key, vaccineID)
		if err != nil {
			return err
		}
		reservationID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return uuid.Nil, ErrSlotContended
		}
		return uuid.Nil, err
	}

	return reservationID, nil
}

func (l *PgLedger) reserveTx(ctx context.Context, key SlotKey, vaccineID string) (uuid.UUID, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE slots
		SET reserved_count = reserved_count + 1
		WHERE center_id = $1 AND slot_date = $2 AND time_range = $3
		  AND reserved_count < capacity
	`, key.CenterID, key.Date, key.TimeRange)
	if err != nil {
		return uuid.Nil, fmt.Errorf("reserve slot capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM slots
				WHERE center_id = $1 AND slot_date = $2 AND time_range = $3
			)
		`, key.CenterID, key.Date, key.TimeRange).Scan(&exists)
		if err != nil {
			return uuid.Nil, fmt.Errorf("check slot exists: %w", err)
		}
		if !exists {
			return uuid.Nil, ErrUnknownSlot
		}
		return uuid.Nil, ErrSlotFull
	}

	tag, err = tx.Exec(ctx, `
		UPDATE center_stock
		SET allocated_units = allocated_units + 1
		WHERE center_id = $1 AND vaccine_id = $2
		  AND allocated_units < total_units
	`, key.CenterID, vaccineID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("allocate stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Rollback undoes the slot increment too.
		return uuid.Nil, ErrStockExhausted
	}

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (id, center_id, slot_date, time_range, vaccine_id, released, created_at)
		VALUES ($1, $2, $3, $4, $5, false, now())
	`, id, key.CenterID, key.Date, key.TimeRange, vaccineID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit reserve tx: %w", err)
	}

	return id, nil
}

func (l *PgLedger) Release(ctx context.Context, reservationID uuid.UUID) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var key SlotKey
	var vaccineID string
	err = tx.QueryRow(ctx, `
		UPDATE reservations
		SET released = true
		WHERE id = $1 AND released = false
		RETURNING center_id, slot_date::text, time_range, vaccine_id
	`, reservationID).Scan(&key.CenterID, &key.Date, &key.TimeRange, &vaccineID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyReleased
		}
		return fmt.Errorf("mark reservation released: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE slots
		SET reserved_count = reserved_count - 1
		WHERE center_id = $1 AND slot_date = $2 AND time_range = $3
		  AND reserved_count > 0
	`, key.CenterID, key.Date, key.TimeRange)
	if err != nil {
		return fmt.Errorf("release slot capacity: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE center_stock
		SET allocated_units = allocated_units - 1
		WHERE center_id = $1 AND vaccine_id = $2
		  AND allocated_units > 0
	`, key.CenterID, vaccineID)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit release tx: %w", err)
	}

	return nil
}

func (l *PgLedger) Availability(ctx context.Context, key SlotKey, vaccineID string) (*Availability, error) {
	var a Availability
	err := l.db.QueryRow(ctx, `
		SELECT s.capacity, s.reserved_count,
		       COALESCE(cs.total_units - cs.allocated_units, 0)
		FROM slots s
		LEFT JOIN center_stock cs
		  ON cs.center_id = s.center_id AND cs.vaccine_id = $4
		WHERE s.center_id = $1 AND s.slot_date = $2 AND s.time_range = $3
	`, key.CenterID, key.Date, key.TimeRange, vaccineID).Scan(&a.Capacity, &a.Reserved, &a.StockRemaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownSlot
		}
		return nil, fmt.Errorf("read availability: %w", err)
	}
	return &a, nil
}

func (l *PgLedger) ListSlots(ctx context.Context, centerID, date string) ([]Slot, error) {
	rows, err := l.db.Query(ctx, `
		SELECT center_id, slot_date::text, time_range, capacity, reserved_count
		FROM slots
		WHERE center_id = $1 AND slot_date = $2
		ORDER BY time_range
	`, centerID, date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.Key.CenterID, &s.Key.Date, &s.Key.TimeRange, &s.Capacity, &s.Reserved); err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	return result, rows.Err()
}

func (l *PgLedger) SetSlotCapacity(ctx context.Context, key SlotKey, capacity int) error {
	tag, err := l.db.Exec(ctx, `
		INSERT INTO slots (center_id, slot_date, time_range, capacity, reserved_count)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (center_id, slot_date, time_range) DO UPDATE
		SET capacity = EXCLUDED.capacity
		WHERE slots.reserved_count <= EXCLUDED.capacity
	`, key.CenterID, key.Date, key.TimeRange, capacity)
	if err != nil {
		return fmt.Errorf("set slot capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWouldUnderflow
	}
	return nil
}

func (l *PgLedger) SetStockTotal(ctx context.Context, centerID, vaccineID string, totalUnits int) error {
	tag, err := l.db.Exec(ctx, `
		INSERT INTO center_stock (center_id, vaccine_id, total_units, allocated_units)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (center_id, vaccine_id) DO UPDATE
		SET total_units = EXCLUDED.total_units
		WHERE center_stock.allocated_units <= EXCLUDED.total_units
	`, centerID, vaccineID, totalUnits)
	if err != nil {
		return fmt.Errorf("set stock total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWouldUnderflow
	}
	return nil
}
