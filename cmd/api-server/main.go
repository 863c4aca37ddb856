package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaxtrack/vaccination-scheduling/internal/api"
	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
	"github.com/vaxtrack/vaccination-scheduling/internal/booking"
	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/config"
	"github.com/vaxtrack/vaccination-scheduling/internal/db"
	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
	"github.com/vaxtrack/vaccination-scheduling/internal/matcher"
	"github.com/vaxtrack/vaccination-scheduling/internal/redisclient"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s booking_horizon_days=%d",
		cfg.Env, cfg.HTTPPort, cfg.BookingHorizonDays)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns})
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword,
		redisclient.Options{PoolSize: cfg.RedisPoolSize, Timeout: cfg.RedisTimeout})
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	catalogRepo := catalog.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	led := ledger.NewPgLedger(pgPool, locker)
	engine := eligibility.NewEngine(cfg.BoosterIntervalDays)
	centerMatcher := matcher.New(catalogRepo)

	apptRepo := appointment.NewPgRepository(pgPool)
	appointments := appointment.NewService(apptRepo, led, catalogRepo, cfg.BookingHorizonDays)

	bookings := booking.NewService(catalogRepo, led, centerMatcher, engine, appointments, cfg.BookingHorizonDays)

	router := api.NewRouter(api.RouterConfig{
		Booking:      bookings,
		Appointments: appointments,
		Matcher:      centerMatcher,
		Catalog:      catalogRepo,
		Ledger:       led,
		Engine:       engine,
		PgPool:       pgPool,
		Redis:        rdb,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Sweep stale booking workflows to Abandoned in the background.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				bookings.SweepStale(cfg.WorkflowTTL)
			}
		}
	}()

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
