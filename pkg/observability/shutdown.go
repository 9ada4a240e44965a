package observability

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager coordinates graceful teardown. Hooks run in reverse
// registration order so dependencies shut down after their dependents
// (HTTP listeners before the cron sweeper, the sweeper before the database).
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration
	mu      sync.Mutex
	hooks   []shutdownHook
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a named shutdown hook.
func (sm *ShutdownManager) Register(name string, fn func(context.Context) error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM, then runs every hook.
func (sm *ShutdownManager) WaitForSignal() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)

	return sm.Shutdown()
}

// Shutdown runs the registered hooks in reverse registration order under a
// single deadline. It keeps going past individual hook failures so later
// hooks (database close, telemetry flush) still run.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	hooks := make([]shutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mu.Unlock()

	var failed int
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]

		if ctx.Err() != nil {
			sm.logger.Warnf("Shutdown timeout reached, skipping %q and remaining hooks", hook.name)
			return fmt.Errorf("shutdown timeout reached")
		}

		sm.logger.Infof("Shutting down %s", hook.name)
		if err := hook.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown of %s failed", hook.name)
			failed++
			continue
		}
		sm.logger.Infof("Shutdown of %s complete", hook.name)
	}

	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failed)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
