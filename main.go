package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"parking-district/internal/auth"
	"parking-district/internal/eventing"
	"parking-district/internal/observability/metrics"
	"parking-district/internal/parking/application"
	"parking-district/internal/parking/application/events"
	parking "parking-district/internal/parking/domain"
	parkingmemory "parking-district/internal/parking/infrastructure/memory"
	parkingrepo "parking-district/internal/parking/infrastructure/postgres"
	parkinghttp "parking-district/internal/parking/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db      *sql.DB
		journal parking.Journal
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		journal = parkingrepo.NewJournalRepository(db)
		logger.Printf("journal: postgres")
	} else {
		journal = parkingmemory.NewJournal()
		logger.Printf("journal: memory (DATABASE_URL not set)")
	}

	metrics.Init(db, logger)

	bus := eventing.NewInMemoryBus(cfg.ServiceName)
	subscribeClosureLog(bus, logger)
	broker := parkinghttp.NewSSEBroker()
	broker.Attach(bus)

	service, err := application.NewService(parking.NewDistrict(),
		application.WithJournal(journal),
		application.WithEventBus(bus),
		application.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("district service error: %v", err)
	}
	if err := service.Resume(ctx); err != nil {
		logger.Fatalf("journal resume error: %v", err)
	}

	layout, err := application.LoadLayout(cfg.DistrictConfig)
	if err != nil {
		logger.Fatalf("district layout error: %v", err)
	}
	bootCtx := eventing.WithActor(ctx, "bootstrap")
	if err := application.Bootstrap(bootCtx, service, layout); err != nil {
		logger.Fatalf("district bootstrap error: %v", err)
	}
	logger.Printf("district ready with %d lots", len(layout.Lots))

	handler, err := parkinghttp.NewHandler(service, parkinghttp.WithJournalLimit(cfg.JournalListLimit))
	if err != nil {
		logger.Fatalf("district handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy).WithLogger(logger)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/api/v1/events/stream", parkinghttp.NewStreamHandler(broker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when the process is asked to stop.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Printf("http shutting down")
		return server.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Fatalf("http server error: %v", err)
	}
}

type config struct {
	DatabaseURL      string
	HTTPAddr         string
	ServiceName      string
	DistrictConfig   string
	JournalListLimit int
	ShutdownTimeout  time.Duration
	JWTSecret        string
}

func loadConfig() config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("env file load error: %v", err)
	}

	cfg := config{
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		ServiceName:      getenvDefault("SERVICE_NAME", "parking-district"),
		DistrictConfig:   getenvDefault("DISTRICT_CONFIG", ""),
		JournalListLimit: getenvIntDefault("JOURNAL_LIST_LIMIT", 500),
		ShutdownTimeout:  getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		JWTSecret:        getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	if cfg.JournalListLimit <= 0 {
		log.Fatal("JOURNAL_LIST_LIMIT must be positive")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func subscribeClosureLog(bus eventing.EventBus, logger *log.Logger) {
	eventing.Subscribe(bus, func(ctx context.Context, evt events.LotClosureChanged) error {
		logger.Printf("lot %d (%s) closed=%t at minute %d, closed minutes %d", evt.LotIndex, evt.LotName, evt.Closed, evt.Minute, evt.ClosedMinutes)
		return nil
	})
	eventing.Subscribe(bus, func(ctx context.Context, evt events.DistrictClosureChanged) error {
		logger.Printf("district closed=%t at minute %d, closed minutes %d", evt.Closed, evt.Minute, evt.ClosedMinutes)
		return nil
	})
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the event stream working behind the logging middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
