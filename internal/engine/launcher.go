package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrRunActive means a run is already in flight; only one runs at a time.
var ErrRunActive = errors.New("archive run already in progress")

// StartParams selects between a full archive run and a single-URL download,
// with optional per-run overrides.
type StartParams struct {
	SingleURL      string
	Destination    string
	FormatOverride string
	JSRuntime      string
	Delivery       string
}

// RunCallback executes one run to completion. The launcher guarantees at
// most one callback is active at a time.
type RunCallback func(ctx context.Context, runID string, params StartParams)

// Launcher serializes run starts so the HTTP surface and the scheduler can
// both trigger runs without racing.
type Launcher struct {
	run    RunCallback
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewLauncher wraps a run callback.
func NewLauncher(run RunCallback, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{run: run, logger: logger}
}

// Active reports whether a run is currently in flight.
func (l *Launcher) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start launches a run in the background and returns its id, or
// ErrRunActive when one is already in flight.
func (l *Launcher) Start(params StartParams) (string, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return "", ErrRunActive
	}
	l.running = true
	l.mu.Unlock()

	runID := uuid.NewString()
	go func() {
		defer func() {
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
		}()
		l.run(context.Background(), runID, params)
	}()
	l.logger.Info("Archive run launched", "run_id", runID, "single", params.SingleURL != "")
	return runID, nil
}

// RunScheduled adapts Start for the scheduler; it reports whether a run
// actually started.
func (l *Launcher) RunScheduled(ctx context.Context) bool {
	_, err := l.Start(StartParams{})
	return err == nil
}
