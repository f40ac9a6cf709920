package internal

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgellow/auth-front/internal/config"
	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/server"
	"github.com/dgellow/auth-front/internal/storage"
)

// AuthFront represents the complete auth callback coordinator application
type AuthFront struct {
	config     config.Config
	httpServer *server.HTTPServer
	storeClose func() error
}

// NewAuthFront creates the application with all dependencies built
func NewAuthFront(ctx context.Context, cfg config.Config) (*AuthFront, error) {
	log.LogInfoWithFields("authfront", "Building auth-front application", map[string]any{
		"baseURL": cfg.Server.BaseURL,
		"storage": string(cfg.Storage.Kind),
	})

	store, storeClose, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	srv, err := server.NewServer(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("failed to build server: %w", err)
	}

	return &AuthFront{
		config:     cfg,
		httpServer: server.NewHTTPServer(srv.Handler(), cfg.Server.Addr),
		storeClose: storeClose,
	}, nil
}

// Run starts the HTTP server and blocks until a shutdown signal arrives or
// the server fails.
func (a *AuthFront) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	err := g.Wait()

	if a.storeClose != nil {
		if closeErr := a.storeClose(); closeErr != nil {
			log.LogErrorWithFields("authfront", "Storage close error", map[string]any{
				"error": closeErr.Error(),
			})
		}
	}

	log.LogInfoWithFields("authfront", "Application shutdown complete", nil)
	return err
}

// setupStorage creates the persisted store based on configuration.
func setupStorage(ctx context.Context, cfg config.Config) (storage.Store, func() error, error) {
	if cfg.Storage.Kind == config.StorageKindFirestore {
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.Storage.ProjectID,
			"database":   cfg.Storage.Database,
			"collection": cfg.Storage.Collection,
		})
		store, err := storage.NewFirestoreStore(ctx, cfg.Storage.ProjectID, cfg.Storage.Database, cfg.Storage.Collection)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return store, store.Close, nil
	}

	log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
	return storage.NewMemoryStore(), nil, nil
}
