package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/medgenius/ledger/cmd/ledger/container"
	"github.com/medgenius/ledger/cmd/ledger/routes"
	"github.com/medgenius/ledger/cmd/ledger/service"
	"github.com/medgenius/ledger/common/bootstrap"
	"github.com/medgenius/ledger/common/queue"
	"github.com/medgenius/ledger/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, "ledger")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap ledger: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (store backend, ledger, query evaluator)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	startAuditLogger(ctx, components)

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e)
	routes.RegisterRecordRoutes(e, serviceContainer)

	// Start with graceful shutdown
	srv := server.New("ledger", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "ledger",
		})
	})
}

// startAuditLogger subscribes to mint events and writes the audit trail
func startAuditLogger(ctx context.Context, components *bootstrap.Components) {
	if components.Queue == nil {
		return
	}

	log := components.Logger
	err := components.Queue.Subscribe(ctx, queue.TopicRecordMinted, func(ctx context.Context, key string, value []byte) error {
		var event service.MintedEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		log.Info("audit: record minted",
			"record_id", event.RecordID,
			"patient_id", event.PatientID,
			"doctor_id", event.DoctorID,
			"actor", event.Actor,
		)
		return nil
	})
	if err != nil {
		log.Warn("failed to start audit logger", "error", err)
	}
}
