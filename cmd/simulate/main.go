package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxtrack/vaccination-scheduling/internal/config"
	"github.com/vaxtrack/vaccination-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	SlotLimit    int
	PostgresDSN  string
}

type slotRef struct {
	CenterID  string
	Date      string
	TimeRange string
}

type stockRef struct {
	CenterID  string
	VaccineID string
}

type DataPool struct {
	Stock []stockRef
	Slots map[string][]slotRef // keyed by center ID

	mu           sync.RWMutex
	appointments []uuid.UUID
	patients     []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) AddPatient(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.patients = append(dp.patients, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) RandomPatient(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.patients) == 0 {
		return uuid.Nil, false
	}
	return dp.patients[rng.Intn(len(dp.patients))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return
}

type Metrics struct {
	BookingFlow OperationMetrics
	Cancel      OperationMetrics
	ReadByID    OperationMetrics
	ListPatient OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.CancelRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	slotCount := 0
	for _, slots := range dataPool.Slots {
		slotCount += len(slots)
	}
	log.Printf("loaded: %d stock pairs, %d slots across %d centers",
		len(dataPool.Stock), slotCount, len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()

	if err := checkInvariants(context.Background(), pgPool); err != nil {
		log.Fatalf("invariant check: %v", err)
	}
	log.Println("invariant check passed: no overbooked slots, no oversold stock")
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{Slots: make(map[string][]slotRef)}

	rows, err := pool.Query(ctx, `
		SELECT center_id, vaccine_id FROM center_stock
		WHERE allocated_units < total_units
	`)
	if err != nil {
		return nil, fmt.Errorf("load stock: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref stockRef
		if err := rows.Scan(&ref.CenterID, &ref.VaccineID); err != nil {
			return nil, err
		}
		dataPool.Stock = append(dataPool.Stock, ref)
	}

	rows, err = pool.Query(ctx, `
		SELECT center_id, slot_date::text, time_range FROM slots
		WHERE slot_date >= CURRENT_DATE
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref slotRef
		if err := rows.Scan(&ref.CenterID, &ref.Date, &ref.TimeRange); err != nil {
			return nil, err
		}
		dataPool.Slots[ref.CenterID] = append(dataPool.Slots[ref.CenterID], ref)
	}

	if len(dataPool.Stock) == 0 {
		return nil, fmt.Errorf("no stock loaded, run the seeder first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no slots loaded, run the seeder first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBookingFlow(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doReadByID(ctx, rng)
				} else {
					s.doListPatient(ctx, rng)
				}
			}
		}
	}
}

// doBookingFlow walks the whole workflow for a fresh patient: start,
// vaccine, center, slot, confirm. Fresh patients have no history so
// the eligibility gate admits dose one.
func (s *Simulator) doBookingFlow(ctx context.Context, rng *rand.Rand) {
	stock := s.pool.Stock[rng.Intn(len(s.pool.Stock))]
	slots := s.pool.Slots[stock.CenterID]
	if len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]
	patientID := uuid.New()

	start := time.Now()
	success, conflict := s.runBookingFlow(ctx, patientID, stock, slot)
	s.metrics.BookingFlow.Record(time.Since(start), success, conflict)

	if success {
		s.pool.AddPatient(patientID)
	}
}

func (s *Simulator) runBookingFlow(ctx context.Context, patientID uuid.UUID, stock stockRef, slot slotRef) (success, conflict bool) {
	var started struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.postJSON(ctx, "/bookings", map[string]any{
		"patient_id": patientID.String(),
		"latitude":   18.9702,
		"longitude":  72.8311,
	}, &started)
	if err != nil || status != http.StatusCreated {
		return false, false
	}

	base := "/bookings/" + started.ID.String()

	steps := []struct {
		path string
		body map[string]any
	}{
		{base + "/vaccine", map[string]any{"vaccine_id": stock.VaccineID}},
		{base + "/center", map[string]any{"center_id": stock.CenterID}},
		{base + "/slot", map[string]any{"date": slot.Date, "time_range": slot.TimeRange}},
	}
	for _, step := range steps {
		status, err := s.postJSON(ctx, step.path, step.body, nil)
		if err != nil {
			return false, false
		}
		if status != http.StatusOK {
			return false, status == http.StatusConflict || status == http.StatusUnprocessableEntity
		}
	}

	var confirmed struct {
		Appointment struct {
			ID uuid.UUID `json:"id"`
		} `json:"appointment"`
	}
	status, err = s.postJSON(ctx, base+"/confirm", nil, &confirmed)
	if err != nil {
		return false, false
	}
	if status != http.StatusCreated {
		return false, status == http.StatusConflict || status == http.StatusUnprocessableEntity
	}

	if confirmed.Appointment.ID != uuid.Nil {
		s.pool.AddAppointment(confirmed.Appointment.ID)
	}
	return true, false
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.postJSON(ctx, "/appointments/"+apptID.String()+"/cancel", nil, nil)
	latency := time.Since(start)

	success := err == nil && status == http.StatusOK
	conflict := err == nil && status == http.StatusConflict
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.get(ctx, "/appointments/"+apptID.String())
	s.metrics.ReadByID.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListPatient(ctx context.Context, rng *rand.Rand) {
	patientID, ok := s.pool.RandomPatient(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.get(ctx, "/patients/"+patientID.String()+"/appointments")
	s.metrics.ListPatient.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) postJSON(ctx context.Context, path string, body map[string]any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		if len(bodyBytes) > 0 {
			json.Unmarshal(bodyBytes, out)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) get(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// checkInvariants verifies the capacity and stock bounds directly in
// Postgres after the load has drained.
func checkInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var overbooked int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM slots WHERE reserved_count > capacity OR reserved_count < 0
	`).Scan(&overbooked)
	if err != nil {
		return err
	}
	if overbooked > 0 {
		return fmt.Errorf("%d slots violate reserved_count <= capacity", overbooked)
	}

	var oversold int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM center_stock WHERE allocated_units > total_units OR allocated_units < 0
	`).Scan(&oversold)
	if err != nil {
		return err
	}
	if oversold > 0 {
		return fmt.Errorf("%d stock rows violate allocated_units <= total_units", oversold)
	}

	var mismatched int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM slots s
		WHERE s.reserved_count <> (
			SELECT count(*) FROM reservations r
			WHERE r.center_id = s.center_id
			  AND r.slot_date = s.slot_date
			  AND r.time_range = s.time_range
			  AND r.released = false
		)
	`).Scan(&mismatched)
	if err != nil {
		return err
	}
	if mismatched > 0 {
		return fmt.Errorf("%d slots disagree with their active reservation count", mismatched)
	}

	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking flow", &s.metrics.BookingFlow)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by patient", &s.metrics.ListPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errors := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errors > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errors, float64(errors)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
