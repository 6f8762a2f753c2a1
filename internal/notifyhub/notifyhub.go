// Package notifyhub fans LISTEN/NOTIFY payloads out to in-process waiters.
package notifyhub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgxlisten"
)

// Hub routes notifications to waiters by payload. Many waiters may be
// registered under the same key; one notification wakes all of them.
type Hub struct {
	mu sync.RWMutex

	waiters map[string]map[string]func(context.Context) error
}

var _ pgxlisten.Handler = (*Hub)(nil)

// HandleNotification implements the pgxlisten.Handler interface. The
// notification payload is the waiter key.
func (h *Hub) HandleNotification(ctx context.Context, notification *pgconn.Notification, _ *pgx.Conn) error {
	h.mu.RLock()
	callbacks := make([]func(context.Context) error, 0, len(h.waiters[notification.Payload]))
	for _, callback := range h.waiters[notification.Payload] {
		if callback != nil {
			callbacks = append(callbacks, callback)
		}
	}
	h.mu.RUnlock()

	for _, callback := range callbacks {
		// Run callbacks asynchronously so a slow waiter cannot stall the
		// listener connection.
		go func() {
			_ = callback(ctx)
		}()
	}

	return nil
}

// Register adds a callback under key. The id must be unique within the key.
func (h *Hub) Register(key, id string, callback func(context.Context) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.waiters == nil {
		h.waiters = make(map[string]map[string]func(context.Context) error)
	}
	if h.waiters[key] == nil {
		h.waiters[key] = make(map[string]func(context.Context) error)
	}
	if _, exists := h.waiters[key][id]; exists {
		return fmt.Errorf("duplicate waiter id: %s", id)
	}
	h.waiters[key][id] = callback
	return nil
}

// Has checks if a waiter with the given key and id is registered.
func (h *Hub) Has(key, id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.waiters[key][id]
	return exists
}

// Unregister removes a waiter. It reports whether the waiter was present.
func (h *Hub) Unregister(key, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.waiters[key][id]; !exists {
		return false
	}
	delete(h.waiters[key], id)
	if len(h.waiters[key]) == 0 {
		delete(h.waiters, key)
	}
	return true
}

// Wait blocks until a notification for key arrives, or ctx is done.
func Wait(ctx context.Context, hub *Hub, key string, opts ...WaitOption) error {
	if hub == nil {
		return errors.New("hub cannot be nil")
	}

	options := &WaitOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.id == "" {
		options.id = uuid.NewString()
	}

	notify := make(chan struct{}, 1)

	err := hub.Register(key, options.id, func(ctx context.Context) error {
		select {
		case notify <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register waiter: %w", err)
	}
	defer hub.Unregister(key, options.id)

	// The waiter is registered before afterRegister runs, so a caller can
	// re-check state here without a window where a notification slips by.
	if options.afterRegister != nil {
		if err := options.afterRegister(); err != nil {
			return fmt.Errorf("after register callback failed: %w", err)
		}
	}

	select {
	case <-notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type WaitOptions struct {
	// id is the unique identifier for the waiter within its key.
	id string

	// afterRegister is a callback that will be called after the waiter is
	// registered.
	afterRegister func() error
}

type WaitOption func(*WaitOptions)

// WithID allows setting a unique identifier for the waiter.
func WithID(id string) WaitOption {
	return func(opts *WaitOptions) {
		opts.id = id
	}
}

// WithAfterRegister allows setting a callback to be called after the waiter
// is registered.
func WithAfterRegister(callback func() error) WaitOption {
	return func(opts *WaitOptions) {
		opts.afterRegister = callback
	}
}
