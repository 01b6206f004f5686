package configuration

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sowflow/sowflow/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist, searching the working directory
// first and then the nearest parent containing go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if fileExists(file) {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		if root, ok := findModuleRoot(); ok {
			for _, file := range envFiles {
				candidate := filepath.Join(root, file)
				if fileExists(candidate) {
					existing = append(existing, candidate)
				}
			}
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func findModuleRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string        `env:"-"`
	Name     string        `env:"DB_NAME" envDefault:"sowflow"`
	Host     string        `env:"DB_HOST" envDefault:"localhost"`
	Port     string        `env:"DB_PORT" envDefault:"5432"`
	User     string        `env:"DB_USER" envDefault:"postgres"`
	Password string        `env:"DB_PASSWORD" envDefault:"postgres"`
	MaxConns int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	Timeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable pool_max_conns=%d",
		d.Host, d.Port, d.User, d.Name, d.Password, d.MaxConns,
	)
}

type LogOptions struct {
	Path  string `env:"LOG_PATH" envDefault:"./logs/app.log"`
	Level string `env:"LOG_LEVEL" envDefault:"error"`
	// Console disables the rotated file and logs to stdout only.
	Console bool `env:"LOG_CONSOLE" envDefault:"false"`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"sowflow"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type RateLimitOptions struct {
	Enabled   bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	GlobalRPS int    `env:"RATE_LIMIT_GLOBAL_RPS" envDefault:"1000"`
	Storage   string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"` // memory or redis
	RedisURL  string `env:"RATE_LIMIT_REDIS_URL"`
}

// Validate checks the rate limit configuration for errors
func (r *RateLimitOptions) Validate() error {
	if r.GlobalRPS < 0 {
		return fmt.Errorf("rate limit GlobalRPS must be non-negative, got %d", r.GlobalRPS)
	}
	if r.GlobalRPS > 1000000 {
		return fmt.Errorf("rate limit GlobalRPS too high, maximum is 1,000,000, got %d", r.GlobalRPS)
	}
	if r.Storage != "memory" && r.Storage != "redis" {
		return fmt.Errorf("rate limit Storage must be 'memory' or 'redis', got '%s'", r.Storage)
	}
	if r.Storage == "redis" && r.RedisURL == "" {
		return fmt.Errorf("rate limit RedisURL is required when Storage is 'redis'")
	}
	return nil
}

type OutboxOptions struct {
	Table string `env:"SOW_OUTBOX_TABLE" envDefault:"public.sow_workflow_outbox"`

	RelayEnabled         bool          `env:"OUTBOX_RELAY_ENABLED" envDefault:"true"`
	RelayPollInterval    time.Duration `env:"OUTBOX_RELAY_POLL_INTERVAL" envDefault:"1s"`
	RelayBatchSize       int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"50"`
	RelayLockTTL         time.Duration `env:"OUTBOX_RELAY_LOCK_TTL" envDefault:"60s"`
	RelayMaxAttempts     int           `env:"OUTBOX_RELAY_MAX_ATTEMPTS" envDefault:"10"`
	RelaySingleActive    bool          `env:"OUTBOX_RELAY_SINGLE_ACTIVE" envDefault:"true"`
	RelayDispatchTimeout time.Duration `env:"OUTBOX_RELAY_DISPATCH_TIMEOUT" envDefault:"10s"`
	LastErrorMaxBytes    int           `env:"OUTBOX_LAST_ERROR_MAX_BYTES" envDefault:"2048"`

	CleanerEnabled   bool          `env:"OUTBOX_CLEANER_ENABLED" envDefault:"true"`
	CleanerInterval  time.Duration `env:"OUTBOX_CLEANER_INTERVAL" envDefault:"1m"`
	CleanerRetention time.Duration `env:"OUTBOX_CLEANER_RETENTION" envDefault:"168h"`
}

// WorkflowOptions carries the approval policy knobs.
type WorkflowOptions struct {
	AllowRedecision      bool          `env:"SOW_ALLOW_REDECISION" envDefault:"false"`
	EnforceStageAssignee bool          `env:"SOW_ENFORCE_STAGE_ASSIGNEE" envDefault:"false"`
	StoreTimeout         time.Duration `env:"SOW_STORE_TIMEOUT" envDefault:"5s"`
	StageCacheTTL        time.Duration `env:"SOW_STAGE_CACHE_TTL" envDefault:"5m"`
	ReconcileBatchSize   int           `env:"SOW_RECONCILE_BATCH_SIZE" envDefault:"500"`
}

type SlackOptions struct {
	WebhookURL string        `env:"SLACK_WEBHOOK_URL"`
	Channel    string        `env:"SLACK_CHANNEL"`
	Timeout    time.Duration `env:"SLACK_TIMEOUT" envDefault:"5s"`
}

func (s *SlackOptions) Enabled() bool {
	return strings.TrimSpace(s.WebhookURL) != ""
}

type Configuration struct {
	Database      DatabaseOptions
	Log           LogOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	RateLimit     RateLimitOptions
	Outbox        OutboxOptions
	Workflow      WorkflowOptions
	Slack         SlackOptions

	// Empty disables the Redis stage cache.
	RedisURL         string `env:"REDIS_URL"`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	Domain           string `env:"DOMAIN" envDefault:"localhost"`
	Origin           string `env:"ORIGIN" envDefault:"http://localhost:3200"`
	// Comma-separated origins allowed by CORS.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
	// SDK will look for this header in the request, if it's not present, it will generate a random uuidv4
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	// SDK will look for this header in the request, if it's not present, it will use request.RemoteAddr
	RealIPHeader string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`
	// Upstream auth proxies put the authenticated user here.
	ActorHeader string `env:"ACTOR_HEADER" envDefault:"X-Actor-ID"`

	logFile io.Closer
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.Log.Level {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func (c *Configuration) Scheme() string {
	if c.GoAppEnvironment == Production { // assume 'https' on production mode
		return "https"
	}
	return "http"
}

func (c *Configuration) AllowedOrigins() []string {
	var out []string
	for _, part := range strings.Split(c.CORSAllowedOrigins, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.validate(); err != nil {
		return err
	}

	if c.Log.Console {
		c.logger = logging.ConsoleLogger(c.LogrusLogLevel())
	} else {
		f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.Log.Path)
		if err != nil {
			return err
		}
		c.logFile = f
		c.logger = logger
	}

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}

	if os.Getenv("ORIGIN") == "" {
		// Only include port in Origin for development environment
		if c.GoAppEnvironment == "development" {
			c.Origin = fmt.Sprintf("%s://%s:%d", c.Scheme(), c.Domain, c.ServerPort)
		} else {
			c.Origin = fmt.Sprintf("%s://%s", c.Scheme(), c.Domain)
		}
	}

	return nil
}

func (c *Configuration) validate() error {
	var errs []error
	if err := c.RateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rate limit configuration error: %w", err))
	}
	if c.Workflow.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid SOW_STORE_TIMEOUT=%s (must be positive)", c.Workflow.StoreTimeout))
	}
	if c.Workflow.ReconcileBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid SOW_RECONCILE_BATCH_SIZE=%d (must be positive)", c.Workflow.ReconcileBatchSize))
	}
	if c.Outbox.RelayMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("invalid OUTBOX_RELAY_MAX_ATTEMPTS=%d (must be positive)", c.Outbox.RelayMaxAttempts))
	}
	if c.Slack.Enabled() {
		u, err := url.Parse(c.Slack.WebhookURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL (expected https URL)"))
		}
	}
	return errors.Join(errs...)
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
