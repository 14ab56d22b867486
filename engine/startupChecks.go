package engine

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// StartupChecks logs the effective limits and makes sure the renderer works. A failing
// renderer is logged and reported by /health, it does not stop the server.
func (serverHandler *ServerHandler) StartupChecks() error {
	cfg := serverHandler.ServerConfig
	Logger.Info("Conversion limits",
		"maxUpload", humanize.IBytes(uint64(cfg.MaxUploadBytes)),
		"minDPI", cfg.MinDPI,
		"maxDPI", cfg.MaxDPI,
		"defaultDPI", cfg.DefaultDPI,
		"quality", fmt.Sprintf("%d-%d", cfg.MinQuality, cfg.MaxQuality),
		"maxPages", cfg.MaxPages)
	Logger.Info("Admission control",
		"maxConcurrentRenders", cfg.MaxConcurrentRenders,
		"queueTimeout", cfg.QueueTimeout,
		"renderTimeout", cfg.RenderTimeout,
		"rateLimitRPS", cfg.RateLimitRPS)
	if cfg.RateLimitRPS <= 0 {
		Logger.Warn("Rate limiting disabled, set RATE_LIMIT_RPS to enable it")
	}

	if err := serverHandler.runSelfCheck(); err != nil {
		return err
	}
	Logger.Info("Renderer self check passed", "renderer", cfg.Renderer)
	return nil
}
