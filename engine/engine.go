package engine

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/drummonds/pdf2image/config"
	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Auth         *Authenticator
	Validator    *Validator
	Pool         *RenderPool

	health *healthState
}

// NewServerHandler builds the handler and its collaborators from an immutable config.
// It fails when the config carries no shared secret.
func NewServerHandler(e *echo.Echo, serverConfig config.ServerConfig, renderer pdfrenderer.Renderer) (*ServerHandler, error) {
	auth, err := NewAuthenticator(serverConfig.APIKey)
	if err != nil {
		return nil, fmt.Errorf("cannot start without API_KEY: %w", err)
	}
	return &ServerHandler{
		Echo:         e,
		ServerConfig: serverConfig,
		Auth:         auth,
		Validator:    NewValidator(serverConfig),
		Pool: NewRenderPool(renderer, serverConfig.MaxConcurrentRenders,
			serverConfig.QueueTimeout, serverConfig.RenderTimeout),
		health: &healthState{},
	}, nil
}

// SetupRoutes installs middleware, the error handler and every route
func (serverHandler *ServerHandler) SetupRoutes() {
	e := serverHandler.Echo
	e.HideBanner = true
	e.HTTPErrorHandler = HTTPErrorHandler
	e.IPExtractor = ipExtractor(serverHandler.ServerConfig.TrustedProxies)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return ulid.Make().String() },
	}))
	e.Use(requestLogger())

	e.GET("/", serverHandler.GetServiceInfo)
	e.GET("/health", serverHandler.HealthCheck)

	convertMiddleware := []echo.MiddlewareFunc{}
	if limiter := serverHandler.rateLimiter(); limiter != nil {
		convertMiddleware = append(convertMiddleware, limiter)
	}
	convertMiddleware = append(convertMiddleware, serverHandler.Auth.Middleware())
	e.POST("/convert", serverHandler.ConvertPDF, convertMiddleware...)
}

// rateLimiter limits /convert per client IP, nil when RATE_LIMIT_RPS is 0
func (serverHandler *ServerHandler) rateLimiter() echo.MiddlewareFunc {
	cfg := serverHandler.ServerConfig
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RateLimitRPS),
		Burst:     cfg.RateLimitBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return errRateLimited(err)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return errRateLimited(err)
		},
	})
}

// ipExtractor uses the peer address unless the peer is a trusted proxy, in which case the
// nearest untrusted X-Forwarded-For entry is the client
func ipExtractor(trustedProxies []string) echo.IPExtractor {
	if len(trustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}
	options := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			Logger.Warn("Ignoring invalid trusted proxy range", "cidr", cidr, "error", err)
			continue
		}
		options = append(options, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(options...)
}

// requestLogger writes one slog line per request
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			Logger.LogAttrs(c.Request().Context(), level, "HTTP request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remoteIP", v.RemoteIP),
				slog.String("requestID", v.RequestID),
			)
			return nil
		},
	})
}
