// Package server initializes and runs the messaging server application.
// It opens the user store, wires the connection engine and handles
// graceful shutdown on OS signals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vkuskov/meeseng/internal/logging"
	"github.com/vkuskov/meeseng/internal/server/config"
	"github.com/vkuskov/meeseng/internal/server/engine"
	"github.com/vkuskov/meeseng/internal/server/users"
)

type App struct {
	config *config.Config
	logger logging.Logger
	store  users.Store
	engine *engine.Engine
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	store, err := users.Open(ctx, c.StoreDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	e := engine.New(engine.Config{
		Addr:             c.ListenAddr,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		MaxFrameBytes:    c.MaxFrameBytes,
	}, logger, store)

	return &App{config: c, logger: logger, store: store, engine: e}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.ListenAddr, "store", app.config.StoreDriver)

	app.initSignalHandler(cancelFunc)

	if err := app.engine.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
	}

	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close error", "error", err)
	}

	app.logger.Info(ctx, "Stopped.")
}
