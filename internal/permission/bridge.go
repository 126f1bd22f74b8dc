// Package permission connects the game's permission requests to the browser.
//
// The browser owns the real permission APIs. When the game asks for a
// permission the Bridge parks the request until the browser posts its answer
// or the wait expires, in which case the permission counts as denied.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/types"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned once the bridge has been shut down
	ErrClosed = errors.New("permission bridge closed")
	// ErrSuperseded is returned to a waiter replaced by a newer request of the same type
	ErrSuperseded = errors.New("permission request superseded")
)

// Answer is what the browser reports for a permission
type Answer struct {
	Granted   bool     `json:"granted"`
	Data      string   `json:"data,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Locator turns coordinates into a city name
type Locator interface {
	City(ctx context.Context, latitude, longitude float64) (string, error)
}

type waiter struct {
	answers chan Answer
	errs    chan error
	// claimed is set once Request is blocked on the waiter
	claimed  bool
	answered bool
}

func newWaiter() *waiter {
	return &waiter{answers: make(chan Answer, 1), errs: make(chan error, 1)}
}

// Bridge parks permission requests until the browser answers them
type Bridge struct {
	timeout time.Duration
	locator Locator
	logger  *zap.Logger

	lock    sync.Mutex
	waiting map[types.PermissionType]*waiter
	closed  bool
}

var _ interfaces.PermissionProvider = (*Bridge)(nil)

// NewBridge creates a bridge. A nil locator leaves geolocation answers without a city.
func NewBridge(timeout time.Duration, locator Locator, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		timeout: timeout,
		locator: locator,
		logger:  logger,
		waiting: make(map[types.PermissionType]*waiter),
	}
}

// Expect registers a request for permission before Request is called, so an
// answer the browser posts in between is kept for it
func (b *Bridge) Expect(permission types.PermissionType) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}
	if w, ok := b.waiting[permission]; ok && !w.claimed {
		return
	}
	b.replace(permission, newWaiter())
}

// replace installs w, failing any request already parked for permission.
// Callers must hold lock.
func (b *Bridge) replace(permission types.PermissionType, w *waiter) {
	if previous, ok := b.waiting[permission]; ok && !previous.answered {
		previous.errs <- ErrSuperseded
	}
	b.waiting[permission] = w
}

// Request waits for the browser's answer to permission
func (b *Bridge) Request(ctx context.Context, permission types.PermissionType) (types.PermissionResult, error) {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return types.PermissionResult{}, ErrClosed
	}
	w, ok := b.waiting[permission]
	if !ok || w.claimed {
		w = newWaiter()
		b.replace(permission, w)
	}
	w.claimed = true
	b.lock.Unlock()

	defer b.release(permission, w)

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	b.logger.Debug("Waiting for browser permission", zap.String("permission", string(permission)))

	select {
	case answer := <-w.answers:
		return b.result(ctx, permission, answer), nil
	case err := <-w.errs:
		return types.PermissionResult{}, err
	case <-ctx.Done():
		b.logger.Info("Permission request expired",
			zap.String("permission", string(permission)),
			zap.Error(ctx.Err()))
		return types.PermissionResult{}, fmt.Errorf("failed to receive %s answer: %w", permission, ctx.Err())
	}
}

func (b *Bridge) release(permission types.PermissionType, w *waiter) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.waiting[permission] == w {
		delete(b.waiting, permission)
	}
}

func (b *Bridge) result(ctx context.Context, permission types.PermissionType, answer Answer) types.PermissionResult {
	if !answer.Granted {
		return types.PermissionResult{Granted: false}
	}
	if permission != types.PermissionGeolocation {
		return types.PermissionResult{Granted: true, Data: answer.Data}
	}
	if answer.Data != "" {
		return types.PermissionResult{Granted: true, Data: answer.Data}
	}
	if answer.Latitude == nil || answer.Longitude == nil || b.locator == nil {
		return types.PermissionResult{Granted: true, Data: UnknownCity}
	}

	city, err := b.locator.City(ctx, *answer.Latitude, *answer.Longitude)
	if err != nil {
		b.logger.Warn("Failed to resolve city", zap.Error(err))
		city = UnknownCity
	}
	return types.PermissionResult{Granted: true, Data: city}
}

// Resolve hands the browser's answer to the waiting request.
// It reports false when nothing is waiting for permission.
func (b *Bridge) Resolve(permission types.PermissionType, answer Answer) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	w, ok := b.waiting[permission]
	if !ok || w.answered {
		return false
	}
	w.answered = true
	w.answers <- answer
	// an expected waiter stays registered until Request picks the answer up
	if w.claimed {
		delete(b.waiting, permission)
	}
	return true
}

// Waiting reports whether a request for permission is still unanswered
func (b *Bridge) Waiting(permission types.PermissionType) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	w, ok := b.waiting[permission]
	return ok && !w.answered
}

// Close fails every parked request and rejects new ones
func (b *Bridge) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for permission, w := range b.waiting {
		w.errs <- ErrClosed
		delete(b.waiting, permission)
	}
}
