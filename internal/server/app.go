// Package server initializes and runs the intake server: the HTTP API, the
// scan sweeper, the rate limiter janitor and the gRPC health endpoint.
// With the memory backend it also runs the extraction processor in process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/archive"
	"github.com/dmitrijs2005/intakevault/internal/backend"
	"github.com/dmitrijs2005/intakevault/internal/classify"
	"github.com/dmitrijs2005/intakevault/internal/config"
	"github.com/dmitrijs2005/intakevault/internal/health"
	"github.com/dmitrijs2005/intakevault/internal/httpapi"
	"github.com/dmitrijs2005/intakevault/internal/intake"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/processor"
	"github.com/dmitrijs2005/intakevault/internal/queue"
	"github.com/dmitrijs2005/intakevault/internal/ratelimit"
	"github.com/dmitrijs2005/intakevault/internal/scan"
	"github.com/dmitrijs2005/intakevault/internal/statustoken"
	"github.com/dmitrijs2005/intakevault/internal/storage"
	"github.com/dmitrijs2005/intakevault/internal/validate"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	backend backend.Manager
	handler *httpapi.Handler
	limiter *ratelimit.Limiter
	sweeper *scan.Sweeper
	health  *health.Server
	worker  *processor.Worker
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	m, err := backend.New(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("backend init error: %w", err)
	}
	if err := m.RunMigrations(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}

	app := &App{config: c, logger: logger, backend: m}

	// Without S3 event notifications the intake writes are fed straight to
	// an in-process queue.
	var events *queue.MemoryQueue
	if mem, ok := m.(*backend.InMemoryManager); ok {
		events = queue.NewMemoryQueue(c.VisibilityTimeout, c.MaxDeliveries, time.Second)
		mem.Wrap(func(s storage.Store) storage.Store {
			return backend.NewNotifyingStore(s, c.IntakeBucket, events)
		})
	}

	tracker, err := backend.NewTracker(c, m, logger)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	if events != nil {
		p := backend.NewProcessor(c, m, tracker, queue.NewMemoryPublisher(), logger)
		app.worker = processor.NewWorker(events, p, c.Workers, c.ReceiveBatch, c.ShutdownTimeout, logger)
	}

	svc := intake.NewService(
		intake.Options{
			Forms:           c.Forms,
			DefaultForm:     c.DefaultForm,
			DigestAlgorithm: c.DigestAlgorithm,
			MaxFiles:        c.MaxFiles,
			SyncScanWait:    c.SyncScanWait,
		},
		classify.New(c.StrictPDF),
		validate.NewTagValidator(validate.NewReservedKeys(c.ReservedKeys), c.MaxTags),
		archive.NewPackager(c.MaxFileBytes, c.MaxTotalBytes),
		intake.NewWriter(m.Store(), c.IntakeBucket, c.KeyPrefix, c.IndexedTags, 0, c.Retry()),
		m.Ledger(), tracker, logger,
	)

	app.limiter = ratelimit.New(c.RateLimitRequests, c.RateLimitWindow, c.RateLimitIdleTTL)
	app.handler = httpapi.NewHandler(
		httpapi.Options{MaxFileBytes: c.MaxFileBytes, MaxTotalBytes: c.MaxTotalBytes, TrustProxy: c.TrustProxy},
		svc,
		statustoken.NewIssuer([]byte(c.StatusTokenSecret), c.StatusTokenTTL),
		tracker,
		app.limiter,
		logger,
	)
	app.sweeper = scan.NewSweeper(tracker, m.Ledger(), c.SweepInterval, c.ScanAlertAfter, c.SweepBatch, logger)
	app.health = health.NewServer(c.HealthAddr, logger)

	return app, nil
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

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHealthServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "backend", app.config.Backend)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(4)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHealthServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		if err := app.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error(ctx, "sweeper stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		app.limiter.Run(ctx, app.config.RateLimitIdleTTL)
	}()

	if app.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.worker.Run(ctx); err != nil {
				app.logger.Error(ctx, "worker stopped", "error", err)
			}
		}()
	}

	wg.Wait()

	if err := app.backend.Close(); err != nil {
		app.logger.Error(ctx, "backend close", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
