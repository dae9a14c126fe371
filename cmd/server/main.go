// Copyright 2026 The Tenantgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/authority"
	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/observability/logger"
	"github.com/tenantgate/tenantgate/internal/observability/metrics"
	"github.com/tenantgate/tenantgate/internal/observability/tracing"
	"github.com/tenantgate/tenantgate/internal/permission"
	"github.com/tenantgate/tenantgate/internal/secret"
	"github.com/tenantgate/tenantgate/internal/store/postgres"
	"github.com/tenantgate/tenantgate/internal/tenant"
	transportHTTP "github.com/tenantgate/tenantgate/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting tenantgate authorization service")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	if tracer != nil {
		defer tracer.Shutdown(ctx)
	}

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Initialize the shared metadata store
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to metadata store")

	// Initialize repositories
	permRepo := postgres.NewPermissionRepository(db)
	authRepo := postgres.NewAuthorityRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	cipher, err := secret.NewFromBase64(cfg.Security.EncryptKey)
	if err != nil {
		slog.Error("failed to initialize credential cipher", logger.Error(err))
		os.Exit(1)
	}

	// Initialize services
	scopes := authority.NewScopeRegistry()
	tenantService := tenant.NewService(tenantRepo, cfg.Tenant.SuperTenantCode, auditLogger)
	permEngine := permission.NewEngine(scopes, permRepo, permRepo, tenantService)

	poolBounds := tenant.PoolBounds{
		InitialSize: cfg.Tenant.PoolInitialSize,
		MinIdle:     cfg.Tenant.PoolMinIdle,
		MaxIdle:     cfg.Tenant.PoolMaxIdle,
		MaxTotal:    cfg.Tenant.PoolMaxTotal,
		MaxWait:     cfg.Tenant.PoolMaxWait,
	}
	dataRouter := tenant.NewRouter(
		tenantService,
		cipher,
		postgres.NewPoolFactory(),
		db.Pool(),
		poolBounds,
		auditLogger,
		meter,
	)
	defer dataRouter.Close()

	// Ensure the super tenant exists with every feature granted.
	if err := tenantService.CreateIfMissing(ctx, tenantService.SuperTenant(), "Platform Super Tenant", true); err != nil {
		slog.Error("failed to provision super tenant", logger.Error(err))
		os.Exit(1)
	}

	// Initialize HTTP handler and declare the operation surface. Special
	// capabilities are registered by name and resolved during route
	// declaration.
	caps := authority.NewCapabilities()
	caps.RegisterParser("path_id", transportHTTP.PathIDParser{})
	caps.RegisterMultiParser("csv_ids", transportHTTP.CSVIDsParser{})

	handler := transportHTTP.NewHandler(
		permEngine,
		tenantService,
		dataRouter,
		cipher,
		auditLogger,
		[]byte(cfg.Security.JWTSecret),
	)
	registry, err := handler.Routes(caps)
	if err != nil {
		slog.Error("route declaration failed", logger.Error(err))
		os.Exit(1)
	}

	// Build the authority index before admitting any request. A defective
	// declaration anywhere aborts startup with every defect reported.
	index, err := authority.BuildIndex(ctx, registry, scopes, authRepo, cfg.Authority.AppName)
	if err != nil {
		slog.Error("authority index build failed", logger.Error(err))
		os.Exit(1)
	}
	auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAuthorityIndexed,
		Resource: cfg.Authority.AppName,
		Metadata: map[string]any{"operations": index.Size()},
	})

	guard := authority.NewGuard(index, scopes, permEngine)

	// Rate limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Create router
	router := transportHTTP.NewRouter(handler, registry, guard, rateLimiter, meter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
