package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kartoteket/kundeimport/internal/commit"
	"github.com/kartoteket/kundeimport/internal/config"
	"github.com/kartoteket/kundeimport/internal/db"
	"github.com/kartoteket/kundeimport/internal/fingerprint"
	"github.com/kartoteket/kundeimport/internal/importer"
	"github.com/kartoteket/kundeimport/internal/middleware"
	"github.com/kartoteket/kundeimport/internal/repository"
	"github.com/kartoteket/kundeimport/internal/validation"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database.URL(), cfg.MigrationsPath); err != nil {
		logrus.WithError(err).Fatal("failed to run migrations")
	}

	batchRepo := repository.NewBatchRepository(conn)
	rowRepo := repository.NewStagingRowRepository(conn.Pool)
	templateRepo := repository.NewTemplateRepository(conn.Pool)
	historyRepo := repository.NewColumnHistoryRepository(conn.Pool)
	auditRepo := repository.NewAuditLogRepository(conn.Pool)
	customerRepo := repository.NewCustomerRepository(conn.Pool)

	detector := fingerprint.NewDetector(historyRepo, templateRepo)
	validator := validation.NewValidator(customerRepo)
	engine := commit.NewEngine(customerRepo, rowRepo, auditRepo, conn, nil)

	service := importer.NewService(
		batchRepo, batchRepo, rowRepo, templateRepo, auditRepo,
		detector, validator, engine,
		cfg.ImporterOptions(),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := middleware.LoggingMiddleware(corsHandler.Handler(importer.NewRouter(service)))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logrus.WithField("addr", cfg.ListenAddr).Info("starting import server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Fatal("server forced to shutdown")
	}

	logrus.Info("server exited")
}
