package numstock

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgxlisten"

	"github.com/prasetyo/numstock/internal/notifyhub"
)

// stockChannel is the NOTIFY channel ingestion publishes on. The payload
// is the provider whose stock grew.
const stockChannel = "numstock_stock"

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// DB supplies the connection configuration for the LISTEN connection.
	// Required. The listener dials its own connection from it; pooled
	// connections are not tied up.
	DB *pgxpool.Pool

	// Logger receives structured logs. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c WatcherConfig) Validate() error {
	if c.DB == nil {
		return fmt.Errorf("%w: DB cannot be nil", ErrInvalidConfig)
	}
	return nil
}

// Watcher wakes waiters when new stock of a provider is ingested. It
// carries no state about the pool itself; a wake-up means a batch with
// that provider committed, not that allocation will succeed.
type Watcher struct {
	listener  *pgxlisten.Listener
	hub       *notifyhub.Hub
	log       *slog.Logger
	listening atomic.Bool
}

// NewWatcher returns a Watcher using the given configuration. Nothing is
// received until Listen runs.
func NewWatcher(conf WatcherConfig) (*Watcher, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watcher configuration: %w", err)
	}
	logger := conf.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hub := &notifyhub.Hub{}
	listener := &pgxlisten.Listener{
		Connect: func(ctx context.Context) (*pgx.Conn, error) {
			config := conf.DB.Config().ConnConfig.Copy()
			return pgx.ConnectConfig(ctx, config)
		},
		LogError: func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "stock listener error", "error", err)
		},
	}
	listener.Handle(stockChannel, hub)

	return &Watcher{
		listener: listener,
		hub:      hub,
		log:      logger,
	}, nil
}

// Listen connects and dispatches notifications until ctx is done. It
// blocks, so run it in its own goroutine. Connection drops are retried
// internally; notifications sent while disconnected are lost, which
// waiters must tolerate anyway since they may subscribe mid-stream.
func (w *Watcher) Listen(ctx context.Context) error {
	if !w.listening.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher is already listening")
	}
	defer w.listening.Store(false)

	w.log.InfoContext(ctx, "listening for stock notifications", "channel", stockChannel)
	return w.listener.Listen(ctx)
}

// WaitForStock blocks until the next batch containing numbers of provider
// commits, or ctx is done. It reports only batches ingested after the call
// started; stock that was already present does not wake it.
func (w *Watcher) WaitForStock(ctx context.Context, provider Provider) error {
	return notifyhub.Wait(ctx, w.hub, string(provider))
}
