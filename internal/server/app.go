// Package server wires storage, the admission gate, the connection registry
// and the delivery services, then runs the gRPC and HTTP endpoints until a
// shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/auth"
	"github.com/dmitrijs2005/chatrelay/internal/server/config"
	"github.com/dmitrijs2005/chatrelay/internal/server/gate"
	"github.com/dmitrijs2005/chatrelay/internal/server/metrics"
	"github.com/dmitrijs2005/chatrelay/internal/server/registry"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatrelay/internal/server/services"
	"github.com/dmitrijs2005/chatrelay/internal/server/session"
	"github.com/dmitrijs2005/chatrelay/internal/server/ws"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	gs "github.com/dmitrijs2005/chatrelay/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	grpcServer  *gs.GRPCServer
	httpServer  *ws.HTTPServer
}

// openDB is a seam for tests.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	m := metrics.New()
	reg := registry.New(m, logger)

	delivery := services.NewDeliveryService(db, rm, reg, m, logger)
	devices := services.NewDeviceService(db, rm, reg, logger)
	attachments := services.NewAttachmentService(db, rm, c)

	g := gate.New(rm.Devices(db), auth.NewVerifier([]byte(c.SecretKey)), c.DeviceFreshnessWindow, m, logger)

	handler := session.NewHandler(delivery, devices, attachments, logger)
	sessions := session.NewManager(reg, handler, session.Config{
		QueueSize:      c.OutboundQueueSize,
		RequestTimeout: c.RequestTimeout,
		RateLimit:      rate.Limit(c.RateLimitRPS),
		RateBurst:      c.RateLimitBurst,
	}, m, logger)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		repomanager: rm,
		grpcServer:  gs.NewGRPCServer(c.EndpointAddrGRPC, logger, g, sessions),
		httpServer:  ws.NewHTTPServer(c.EndpointAddrHTTP, logger, g, sessions, m.Handler()),
	}, nil
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

// Run migrates the schema and serves both endpoints. A failing endpoint
// stops the other one.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.db.Close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		app.logger.Error(ctx, "migrations failed", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.grpcServer.Run(gctx) })
	g.Go(func() error { return app.httpServer.Run(gctx) })

	if err := g.Wait(); err != nil {
		app.logger.Error(ctx, "server stopped", "error", err)
		return err
	}

	app.logger.Info(ctx, "Stopped")
	return nil
}
