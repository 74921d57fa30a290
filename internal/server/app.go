// Package server assembles the GeoCrypt application: database, tiered blob
// store, services and the HTTP API, with graceful shutdown on signals.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
	"github.com/dmitrijs2005/geocrypt/internal/blobstore/gcsstore"
	"github.com/dmitrijs2005/geocrypt/internal/blobstore/localstore"
	"github.com/dmitrijs2005/geocrypt/internal/blobstore/s3store"
	"github.com/dmitrijs2005/geocrypt/internal/logging"
	"github.com/dmitrijs2005/geocrypt/internal/server/config"
	"github.com/dmitrijs2005/geocrypt/internal/server/httpapi"
	"github.com/dmitrijs2005/geocrypt/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/geocrypt/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	handler http.Handler
	closers []func() error
}

// NewApp connects to the database, applies migrations and builds the blob
// tiers selected by c.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	primary, err := app.newPrimary(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	fallback, err := localstore.NewOS(c.LocalStorageDir)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("fallback storage: %w", err)
	}

	blobs := blobstore.New(primary, fallback,
		blobstore.WithTimeout(c.StorageTimeout),
		blobstore.WithLogger(logger))

	us := services.NewUserService(db, m, c)
	fs := services.NewFileService(db, m, blobs, logger)
	app.handler = httpapi.NewServer(us, fs, logger, c.MaxUploadSize).Handler()

	return app, nil
}

func (app *App) newPrimary(ctx context.Context) (blobstore.Backend, error) {
	switch app.config.PrimaryBackend {
	case config.BackendS3:
		s, err := s3store.NewFromConfig(ctx, s3store.Config{
			Bucket:       app.config.S3Bucket,
			Region:       app.config.S3Region,
			AccessKey:    app.config.S3RootUser,
			SecretKey:    app.config.S3RootPassword,
			BaseEndpoint: app.config.S3BaseEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		return s, nil
	case config.BackendGCS:
		s, err := gcsstore.New(ctx, app.config.GCSBucket, app.config.GCSCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("gcs storage: %w", err)
		}
		app.closers = append(app.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown primary backend %q", app.config.PrimaryBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "http shutdown", "error", err.Error())
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) close() {
	for _, c := range app.closers {
		if err := c(); err != nil {
			app.logger.Error(context.Background(), "close", "error", err.Error())
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close", "error", err.Error())
	}
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close()
	app.logger.Info(context.Background(), "app stopped")
}
