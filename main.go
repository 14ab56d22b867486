package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	config "github.com/drummonds/pdf2image/config"
	engine "github.com/drummonds/pdf2image/engine"
	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// shutdownTimeout bounds how long in-flight conversions get to finish on shutdown
const shutdownTimeout = 30 * time.Second

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	engine.Logger = Logger
	pdfrenderer.Logger = Logger
}

// @title PDF2Image API
// @version 1.0
// @description Converts uploaded PDF documents into PNG, JPEG or WebP page images

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8473
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @tag.name Convert
// @tag.description PDF rasterization

// @tag.name Health
// @tag.description Service health check

func main() {
	port := flag.String("port", "", "Port to listen on, overrides SERVER_PORT")
	flag.Parse()

	serverConfig, logger, err := config.SetupServer()
	if logger != nil {
		injectGlobals(logger) //inject the logger into all of the packages
	}
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		serverConfig.ListenAddrPort = *port
		if err := serverConfig.Validate(); err != nil {
			Logger.Error("Invalid -port flag", "port", *port, "error", err)
			os.Exit(1)
		}
	}

	renderer, err := pdfrenderer.NewRenderer(serverConfig.Renderer, serverConfig.MaxConcurrentRenders)
	if err != nil {
		Logger.Error("Unable to create renderer", "renderer", serverConfig.Renderer, "error", err)
		os.Exit(1)
	}
	defer renderer.Close()
	Logger.Info("Renderer created", "renderer", serverConfig.Renderer)

	e := echo.New()
	serverHandler, err := engine.NewServerHandler(e, serverConfig, renderer)
	if err != nil {
		Logger.Error("Unable to create server handler", "error", err)
		os.Exit(1)
	}
	serverHandler.SetupRoutes()

	if err := serverHandler.StartupChecks(); err != nil {
		Logger.Warn("Startup checks failed, /health will report the renderer as failing", "error", err)
	}
	if schedules := serverHandler.InitializeSchedules(); schedules != nil {
		defer schedules.Stop()
	}

	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 2 * time.Minute

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		addr := serverConfig.ListenAddress()
		Logger.Info("Starting HTTP server", "address", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if isAddressInUse(err) {
			Logger.Error("Port already in use", "port", serverConfig.ListenAddrPort)
		} else if !errors.Is(err, http.ErrServerClosed) {
			Logger.Error("Failed to start server", "error", err)
		}
		os.Exit(1)
	case <-ctx.Done():
	}

	Logger.Info("Shutting down, waiting for in-flight conversions", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		Logger.Error("Graceful shutdown failed", "error", err)
	}
	fmt.Println("pdf2image stopped")
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
