package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxtrack/vaccination-scheduling/internal/db"
)

type seedVaccine struct {
	id              string
	name            string
	totalDoses      int
	minIntervalDays int
	boosterEligible bool
}

type seedCenter struct {
	id      string
	name    string
	address string
	pincode string
	lat     float64
	lng     float64
}

var vaccines = []seedVaccine{
	{"covid19", "COVID-19 Vaccine", 2, 21, true},
	{"influenza", "Influenza Vaccine", 1, 0, true},
	{"hepatitisb", "Hepatitis B Vaccine", 3, 28, false},
	{"mmr", "MMR (Measles, Mumps, Rubella) Vaccine", 2, 28, false},
	{"polio", "Polio Vaccine", 3, 28, false},
}

var centers = []seedCenter{
	{"C1", "City General Hospital", "123 Health Street, Central District", "400001", 18.9702, 72.8311},
	{"C2", "Public Health Center", "456 Medical Avenue, North District", "400002", 19.0176, 72.8562},
	{"C3", "Community Wellness Clinic", "789 Wellness Road, East District", "400003", 19.0330, 72.8656},
	{"C4", "Medical College & Hospital", "101 Education Lane, South District", "400004", 18.9388, 72.8354},
	{"C5", "Urban Primary Health Center", "202 Urban Road, West District", "400005", 19.0544, 72.8402},
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	seedCtx := context.Background()
	if err := seedVaccines(seedCtx, pool); err != nil {
		log.Fatalf("seed vaccines: %v", err)
	}
	if err := seedCenters(seedCtx, pool); err != nil {
		log.Fatalf("seed centers: %v", err)
	}
	if err := seedSlots(seedCtx, pool, 14); err != nil {
		log.Fatalf("seed slots: %v", err)
	}
	if err := seedHistories(seedCtx, pool, 200); err != nil {
		log.Fatalf("seed histories: %v", err)
	}

	log.Println("seed complete")
}

func seedVaccines(ctx context.Context, pool *pgxpool.Pool) error {
	log.Printf("seeding %d vaccines", len(vaccines))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, v := range vaccines {
		_, err := tx.Exec(ctx, `
			INSERT INTO vaccines (id, name, total_doses, min_interval_days, booster_eligible)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, v.id, v.name, v.totalDoses, v.minIntervalDays, v.boosterEligible)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedCenters(ctx context.Context, pool *pgxpool.Pool) error {
	log.Printf("seeding %d centers with stock", len(centers))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range centers {
		_, err := tx.Exec(ctx, `
			INSERT INTO centers (id, name, address, city, state, pincode, latitude, longitude,
			                     open_time, close_time, slot_length_minutes)
			VALUES ($1, $2, $3, 'Mumbai', 'Maharashtra', $4, $5, $6, '09:00', '17:00', 30)
			ON CONFLICT (id) DO NOTHING
		`, c.id, c.name, c.address, c.pincode, c.lat, c.lng)
		if err != nil {
			return err
		}

		// Not every center stocks every vaccine.
		for _, v := range vaccines {
			if gofakeit.Number(0, 9) < 3 {
				continue
			}
			total := gofakeit.Number(50, 500)
			_, err := tx.Exec(ctx, `
				INSERT INTO center_stock (center_id, vaccine_id, total_units, allocated_units)
				VALUES ($1, $2, $3, 0)
				ON CONFLICT (center_id, vaccine_id) DO NOTHING
			`, c.id, v.id, total)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// seedSlots publishes the half-hour grid for the booking horizon, with the
// 13:00-14:00 lunch break left out.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, days int) error {
	grid := timeGrid("09:00", "17:00", 30, "13:00", "14:00")
	log.Printf("seeding %d days x %d slots per center", days, len(grid))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	today := time.Now().UTC()
	for _, c := range centers {
		for day := 0; day < days; day++ {
			date := today.AddDate(0, 0, day).Format("2006-01-02")
			for _, timeRange := range grid {
				_, err := tx.Exec(ctx, `
					INSERT INTO slots (center_id, slot_date, time_range, capacity, reserved_count)
					VALUES ($1, $2, $3, $4, 0)
					ON CONFLICT (center_id, slot_date, time_range) DO NOTHING
				`, c.id, date, timeRange, gofakeit.Number(1, 5))
				if err != nil {
					return err
				}
			}
		}
	}

	return tx.Commit(ctx)
}

// seedHistories gives a population of fake patients partial vaccination
// records so eligibility answers vary.
func seedHistories(ctx context.Context, pool *pgxpool.Pool, patientCount int) error {
	log.Printf("seeding vaccination histories for %d patients", patientCount)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < patientCount; i++ {
		patientID := uuid.New()
		v := vaccines[gofakeit.Number(0, len(vaccines)-1)]
		doses := gofakeit.Number(0, v.totalDoses)

		administered := time.Now().UTC().AddDate(0, 0, -gofakeit.Number(14, 365))
		for dose := 1; dose <= doses; dose++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO vaccination_records (patient_id, vaccine_id, dose_number, administered_date)
				VALUES ($1, $2, $3, $4)
			`, patientID, v.id, dose, administered.Format("2006-01-02"))
			if err != nil {
				return err
			}
			administered = administered.AddDate(0, 0, v.minIntervalDays+gofakeit.Number(0, 14))
		}
	}

	return tx.Commit(ctx)
}

// timeGrid builds "HH:MM-HH:MM" ranges between open and close, skipping
// the break window.
func timeGrid(open, close string, stepMinutes int, breakStart, breakEnd string) []string {
	parse := func(v string) int {
		var h, m int
		fmt.Sscanf(v, "%d:%d", &h, &m)
		return h*60 + m
	}
	format := func(mins int) string {
		return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
	}

	var grid []string
	bs, be := parse(breakStart), parse(breakEnd)
	for start := parse(open); start+stepMinutes <= parse(close); start += stepMinutes {
		end := start + stepMinutes
		if start >= bs && start < be {
			continue
		}
		grid = append(grid, format(start)+"-"+format(end))
	}
	return grid
}
