package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrMissingAPIKey is returned when no shared secret is configured. The server must not
// start without one.
var ErrMissingAPIKey = errors.New("API_KEY is not set")

// ServerConfig contains all of the server settings. It is built once at startup and
// treated as read-only afterwards.
type ServerConfig struct {
	ListenAddrIP   string
	ListenAddrPort string `validate:"required,numeric"`

	APIKey string `json:"-" validate:"required"`

	MaxUploadBytes int64 `validate:"min=1"`
	MaxPages       int   `validate:"min=0"`

	MinDPI     int `validate:"min=1"`
	MaxDPI     int `validate:"gtefield=MinDPI"`
	DefaultDPI int `validate:"gtefield=MinDPI,ltefield=MaxDPI"`

	MinQuality int `validate:"min=1,max=100"`
	MaxQuality int `validate:"gtefield=MinQuality,max=100"`

	Renderer             string        `validate:"oneof=fitz pdfium"`
	MaxConcurrentRenders int           `validate:"min=1"`
	QueueTimeout         time.Duration `validate:"gt=0"`
	RenderTimeout        time.Duration `validate:"gt=0"`

	RateLimitRPS   float64 `validate:"min=0"`
	RateLimitBurst int     `validate:"min=1"`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed, empty means the
	// peer address is the client
	TrustedProxies []string `validate:"dive,cidr"`

	HealthCheckInterval int `validate:"min=0"` // minutes, 0 disables the scheduled renderer check
}

// ListenAddress returns the host:port the server binds to.
func (c ServerConfig) ListenAddress() string {
	return c.ListenAddrIP + ":" + c.ListenAddrPort
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		Logger.Warn("Ignoring invalid integer setting", "key", key, "value", value)
		return defaultValue
	}
	return intVal
}

// getEnvInt64 gets a 64 bit integer environment variable with a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		Logger.Warn("Ignoring invalid integer setting", "key", key, "value", value)
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		Logger.Warn("Ignoring invalid number setting", "key", key, "value", value)
		return defaultValue
	}
	return floatVal
}

// getEnvList splits a comma separated environment variable, dropping empty items
func getEnvList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvDuration gets a duration environment variable (e.g. "30s") with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		Logger.Warn("Ignoring invalid duration setting", "key", key, "value", value)
		return defaultValue
	}
	return d
}

// Load reads the configuration from the environment and validates it.
func Load() (ServerConfig, error) {
	serverConfig := ServerConfig{
		ListenAddrIP:   getEnv("SERVER_ADDR", ""),
		ListenAddrPort: getEnv("SERVER_PORT", "8473"),

		APIKey: os.Getenv("API_KEY"),

		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 50<<20),
		MaxPages:       getEnvInt("MAX_PAGES", 500),

		MinDPI:     getEnvInt("MIN_DPI", 72),
		MaxDPI:     getEnvInt("MAX_DPI", 600),
		DefaultDPI: getEnvInt("DEFAULT_DPI", 300),

		MinQuality: getEnvInt("MIN_QUALITY", 1),
		MaxQuality: getEnvInt("MAX_QUALITY", 100),

		Renderer:             strings.ToLower(getEnv("RENDERER", "fitz")),
		MaxConcurrentRenders: getEnvInt("MAX_CONCURRENT_RENDERS", runtime.NumCPU()),
		QueueTimeout:         getEnvDuration("QUEUE_TIMEOUT", 10*time.Second),
		RenderTimeout:        getEnvDuration("RENDER_TIMEOUT", 2*time.Minute),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		HealthCheckInterval: getEnvInt("HEALTH_CHECK_INTERVAL", 5),
	}

	if err := serverConfig.Validate(); err != nil {
		return serverConfig, err
	}
	return serverConfig, nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c ServerConfig) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make([]string, 0, len(validationErrors))
			for _, fe := range validationErrors {
				fields = append(fields, fmt.Sprintf("%s (%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SetupServer loads .env files, builds the logger and returns the validated ServerConfig
func SetupServer() (ServerConfig, *slog.Logger, error) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	serverConfig, err := Load()
	if err != nil {
		return serverConfig, logger, err
	}

	logger.Info("Configuration loaded",
		"listen", serverConfig.ListenAddress(),
		"renderer", serverConfig.Renderer,
		"maxUploadBytes", serverConfig.MaxUploadBytes,
		"dpiRange", fmt.Sprintf("%d-%d", serverConfig.MinDPI, serverConfig.MaxDPI),
		"maxConcurrentRenders", serverConfig.MaxConcurrentRenders,
		"renderTimeout", serverConfig.RenderTimeout)

	return serverConfig, logger, nil
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer = os.Stdout

	if logOutput == "file" {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdf2image.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	var handler slog.Handler
	if getEnv("LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(logWriter, handlerOptions)
	} else {
		handler = slog.NewTextHandler(logWriter, handlerOptions)
	}
	return slog.New(handler)
}
