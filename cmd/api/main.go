package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/gorilla/mux"
	"github.com/johanbring/timedollar/internal/config"
	"github.com/johanbring/timedollar/internal/handler"
	"github.com/johanbring/timedollar/internal/mail"
	"github.com/johanbring/timedollar/internal/middleware"
	"github.com/johanbring/timedollar/internal/repository"
	"github.com/johanbring/timedollar/internal/service"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		logger.Fatalf("Failed to load settings: %v", err)
	}
	if settings.Email == "" {
		logger.Warnf("No mail account configured in %s; transactions will fail until one is set", cfg.SettingsFile)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		logger.Fatalf("Failed to ensure schema: %v", err)
	}
	transport := mail.NewTransport(settings, cfg, logger)
	svc := service.NewService(repo, transport, logger)
	h := handler.NewHandler(svc, settings, cfg, logger)

	// Optional scheduled reconciliation; the engine stays trigger-driven
	// when RECONCILE_CRON is unset.
	if cfg.ReconcileCron != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.ReconcileCron, func() {
			if _, err := svc.ReconcileInbox(context.Background()); err != nil {
				logger.Errorf("Scheduled reconciliation failed: %v", err)
			}
		})
		if err != nil {
			logger.Fatalf("Invalid RECONCILE_CRON %q: %v", cfg.ReconcileCron, err)
		}
		c.Start()
		defer c.Stop()
	}

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	authRouter.HandleFunc("/reconcile", h.Reconcile).Methods("POST")
	authRouter.HandleFunc("/ledger", h.GetLedger).Methods("GET")
	authRouter.HandleFunc("/ledger/export", h.ExportLedger).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
