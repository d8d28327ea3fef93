// Package server wires configuration, storage, the auth service and the HTTP
// API together and runs them until the process is signalled.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/agriflow/internal/credential"
	"github.com/dmitrijs2005/agriflow/internal/dbx"
	"github.com/dmitrijs2005/agriflow/internal/logging"
	"github.com/dmitrijs2005/agriflow/internal/server/config"
	"github.com/dmitrijs2005/agriflow/internal/server/httpapi"
	"github.com/dmitrijs2005/agriflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/agriflow/internal/server/seed"
	"github.com/dmitrijs2005/agriflow/internal/server/services"
	"github.com/dmitrijs2005/agriflow/internal/validator"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	userService *services.UserService
	httpServer  *httpapi.HTTPServer
}

func newLogger() logging.Logger {
	return logging.NewJSONLogger(os.Stdout, slog.LevelInfo)
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, c *config.Config, rm repomanager.RepositoryManager) (*sql.DB, error) {
	db, err := dbx.Open(ctx, repomanager.DriverName, c.DatabaseDSN, dbx.DefaultOpenOptions)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := newLogger()

	rm := repomanager.NewPostgresRepositoryManager()
	db, err := openDatabase(ctx, c, rm)
	if err != nil {
		return nil, err
	}

	us, err := services.NewUserService(db, rm, credential.Default, c, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	v, err := validator.New()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("validator init error: %w", err)
	}

	hs := httpapi.NewHTTPServer(c.EndpointAddrHTTP, logger, us, httpapi.NewCookieStore(c), v)

	return &App{config: c, logger: logger, db: db, userService: us, httpServer: hs}, nil
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
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server error", "error", err)
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled or a termination signal arrives.
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

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}

// Seed loads the demo accounts into the configured database.
func Seed(ctx context.Context, c *config.Config) error {
	logger := newLogger().With("module", "seed")

	rm := repomanager.NewPostgresRepositoryManager()
	db, err := openDatabase(ctx, c, rm)
	if err != nil {
		return err
	}
	defer db.Close()

	return seed.Run(ctx, db, rm, credential.Default, logger)
}
