// Package worker runs the extraction processor against the intake queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/intakevault/internal/awsx"
	"github.com/dmitrijs2005/intakevault/internal/backend"
	"github.com/dmitrijs2005/intakevault/internal/config"
	"github.com/dmitrijs2005/intakevault/internal/health"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/processor"
	"github.com/dmitrijs2005/intakevault/internal/queue"
)

// ErrMemoryBackend is returned for the memory backend, where the intake
// server runs the processor itself.
var ErrMemoryBackend = errors.New("the memory backend runs the processor inside the intake server")

type App struct {
	config  *config.Config
	logger  logging.Logger
	backend backend.Manager
	worker  *processor.Worker
	health  *health.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if c.Backend == config.BackendMemory {
		return nil, ErrMemoryBackend
	}
	if c.QueueURL == "" {
		return nil, errors.New("queue url is required")
	}

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	client, err := awsx.NewSQSClient(ctx, c.AWS())
	if err != nil {
		return nil, fmt.Errorf("sqs client init error: %w", err)
	}

	m, err := backend.New(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("backend init error: %w", err)
	}

	tracker, err := backend.NewTracker(c, m, logger)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	var publisher queue.Publisher
	if c.CompletionQueueURL != "" {
		publisher = queue.NewSQSPublisher(client, c.CompletionQueueURL)
	}

	p := backend.NewProcessor(c, m, tracker, publisher, logger)
	q := queue.NewSQSQueue(client, c.QueueURL, c.ReceiveWait, c.VisibilityTimeout)

	return &App{
		config:  c,
		logger:  logger,
		backend: m,
		worker:  processor.NewWorker(q, p, c.Workers, c.ReceiveBatch, c.ShutdownTimeout, logger),
		health:  health.NewServer(c.HealthAddr, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
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

	app.logger.Info(ctx, "Starting processor...", "queue", app.config.QueueURL)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := app.health.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()
	go func() {
		defer wg.Done()
		if err := app.worker.Run(ctx); err != nil {
			app.logger.Error(ctx, "worker stopped", "error", err)
		}
		// Consumers are gone; report not serving while the rest shuts down.
		app.health.SetServing("", false)
		cancelFunc()
	}()

	wg.Wait()

	if err := app.backend.Close(); err != nil {
		app.logger.Error(ctx, "backend close", "error", err)
	}
	app.logger.Info(ctx, "Processor stopped")
}
