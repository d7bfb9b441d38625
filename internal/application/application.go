package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/presence-service/internal/config"
	"github.com/psds-microservice/presence-service/internal/database"
	"github.com/psds-microservice/presence-service/internal/handler"
	"github.com/psds-microservice/presence-service/internal/router"
	"github.com/psds-microservice/presence-service/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// API is the HTTP + WebSocket API application.
type API struct {
	cfg         *config.Config
	srv         *http.Server
	db          *gorm.DB
	reg         *service.Registry
	broadcaster *service.Broadcaster
	ws          *handler.PresenceWSHandler
}

// NewAPI creates the API application: validates config, runs migrations,
// opens the DB, wires the registry and protocol services, builds the router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	reg := service.NewRegistry(logger)
	verifier := service.NewIdentityService(db, cfg.JWTSecret, logger)
	directory := service.NewUserService(db)
	audit := service.NewAuditService(db)

	binder := service.NewBinder(reg, verifier, directory, logger)
	broadcaster := service.NewBroadcaster(reg, logger)
	remote := service.NewRemoteControl(reg, audit, cfg.AckTimeout, logger)
	propagator := service.NewPropagator(reg, directory, logger)

	wsHandler := handler.NewPresenceWSHandler(
		reg, binder, broadcaster, remote, propagator,
		cfg.WSReadBufferSize, cfg.WSWriteBufferSize, cfg.WSMaxMessageSize,
		cfg.SessionCookieName, logger,
	)
	adminHandler := handler.NewAdminHandler(verifier, directory, broadcaster, propagator, cfg.SessionCookieName, logger)
	health := handler.NewHealthHandler()

	r := router.New(wsHandler, adminHandler, health)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{cfg: cfg, srv: srv, db: db, reg: reg, broadcaster: broadcaster, ws: wsHandler}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled; then shuts
// down gracefully, closing every live connection.
func (a *API) Run(ctx context.Context) error {
	addr := a.srv.Addr
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Ready:         %s/ready", base)
	log.Printf("  Admin online:  %s/admin/online", base)
	log.Printf("  WebSocket:     ws://%s:%s/ws/presence", host, a.cfg.HTTPPort)

	a.ws.SetContext(ctx)
	go a.broadcaster.Run(ctx)

	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	a.reg.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
