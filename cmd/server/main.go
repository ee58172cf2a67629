package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/aoba-mfg/be-kanban-approvals/internal/client"
	"github.com/aoba-mfg/be-kanban-approvals/internal/config"
	"github.com/aoba-mfg/be-kanban-approvals/internal/database"
	"github.com/aoba-mfg/be-kanban-approvals/internal/export"
	"github.com/aoba-mfg/be-kanban-approvals/internal/handler"
	"github.com/aoba-mfg/be-kanban-approvals/internal/logger"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository/memory"
	"github.com/aoba-mfg/be-kanban-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Kanban Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the request store
	var (
		store     service.RequestStore
		deptStore service.DepartmentStore
	)
	switch cfg.StoreDriver {
	case "memory":
		mem := memory.NewStore()
		seedDevDepartments(mem)
		store, deptStore = mem, mem
		log.Warn().Msg("Using in-memory store (development only)")
	default:
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		store = repository.NewKanbanRepository(db)
		deptStore = repository.NewDepartmentRepository(db)
	}

	// Initialize notification publishing
	var subscribers []service.Subscriber
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		log.Info().Str("nats_url", cfg.NATSURL).Msg("NATS connection established")

		subscribers = append(subscribers, client.NewNotificationPublisher(nc, log.Logger))
	}
	dispatcher := service.NewDispatcher(log.Logger, subscribers...)

	// Initialize services
	policy := service.NewAccessPolicy()
	clock := service.SystemClock()
	engine := service.NewApprovalEngine(store, deptStore, policy, dispatcher, clock, log.Logger)
	reports := service.NewReportService(store, deptStore, policy, clock, log.Logger)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(engine, reports, export.NewFormatter(), log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Kanban routes
	mux.HandleFunc("/api/v1/kanbans", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRequests(w, r)
		case http.MethodPost:
			httpHandler.CreateRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("GET /api/v1/kanbans/get", httpHandler.GetRequest)
	mux.HandleFunc("POST /api/v1/kanbans/approve", httpHandler.Approve)
	mux.HandleFunc("POST /api/v1/kanbans/reject", httpHandler.Reject)
	mux.HandleFunc("POST /api/v1/kanbans/close", httpHandler.Close)

	// Report routes
	mux.HandleFunc("GET /api/v1/reports/monthly", httpHandler.MonthlyReport)
	mux.HandleFunc("GET /api/v1/reports/range", httpHandler.RangeReport)
	mux.HandleFunc("GET /api/v1/reports/department", httpHandler.DepartmentReport)
	mux.HandleFunc("GET /api/v1/reports/breakdown", httpHandler.BreakdownReport)
	mux.HandleFunc("GET /api/v1/reports/efficiency", httpHandler.EfficiencyReport)
	mux.HandleFunc("GET /api/v1/reports/activity", httpHandler.ActivityReport)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// seedDevDepartments gives the in-memory store a minimal department set so
// the service is usable out of the box in development.
func seedDevDepartments(store *memory.Store) {
	store.AddDepartment(&repository.Department{ID: "PC", Name: "Production Control", IsProductionControl: true})
	store.AddDepartment(&repository.Department{ID: "ASSY", Name: "Assembly"})
	store.AddDepartment(&repository.Department{ID: "PAINT", Name: "Paint"})
	store.AddDepartment(&repository.Department{ID: "WELD", Name: "Welding"})
}
