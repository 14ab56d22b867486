package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// selfCheckTimeout bounds a single renderer self check
const selfCheckTimeout = 30 * time.Second

const (
	rendererUnchecked = "unchecked"
	rendererOK        = "ok"
	rendererFailing   = "failing"
)

// healthState holds the result of the last renderer self check
type healthState struct {
	mu        sync.RWMutex
	checked   bool
	lastError error
	lastCheck time.Time
}

func (h *healthState) record(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checked = true
	h.lastError = err
	h.lastCheck = time.Now()
}

func (h *healthState) status() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case !h.checked:
		return rendererUnchecked
	case h.lastError != nil:
		return rendererFailing
	default:
		return rendererOK
	}
}

// runSelfCheck renders the sample document and records the outcome
func (serverHandler *ServerHandler) runSelfCheck() error {
	// Add panic recovery so a broken backend cannot take the scheduler down
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in renderer self check", "panic", r)
			serverHandler.health.record(fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), selfCheckTimeout)
	defer cancel()

	start := time.Now()
	err := serverHandler.checkRenderer(ctx)
	serverHandler.health.record(err)
	if err != nil {
		Logger.Error("Renderer self check failed", "renderer", serverHandler.ServerConfig.Renderer, "error", err)
		return err
	}
	Logger.Debug("Renderer self check passed", "duration", time.Since(start))
	return nil
}

// InitializeSchedules starts the periodic renderer self check. The returned cron must be
// stopped on shutdown; it is nil when the check is disabled.
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	interval := serverHandler.ServerConfig.HealthCheckInterval
	if interval <= 0 {
		Logger.Info("Renderer self check schedule disabled")
		return nil
	}

	c := cron.New()
	var checkJob cron.Job
	checkJob = cron.FuncJob(func() { serverHandler.runSelfCheck() })
	checkJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(checkJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", interval), checkJob); err != nil {
		Logger.Error("Unable to schedule renderer self check", "error", err)
		return nil
	}
	Logger.Info("Adding renderer self check scheduler", "interval_minutes", interval)
	c.Start()
	return c
}
