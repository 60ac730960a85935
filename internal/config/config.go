package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DispatchInProcess = "inprocess"
	DispatchHTTP      = "http"
)

type Config struct {
	DatabaseDriver string `env:"DATABASE_DRIVER,default=postgres"`
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	RedisURL       string `env:"REDIS_URL"`
	RabbitMQURL    string `env:"RABBITMQ_URL"`
	AppURL         string `env:"APP_URL"`
	DispatchMode   string `env:"DISPATCH_MODE,default=inprocess"`

	GatewayURL   string        `env:"WHATSAPP_GATEWAY_URL,required=true"`
	GatewayToken string        `env:"WHATSAPP_GATEWAY_TOKEN"`
	Robots       string        `env:"WHATSAPP_ROBOTS,default=1:client-one,2:client-two"`
	ReadyTimeout time.Duration `env:"WHATSAPP_READY_TIMEOUT,default=30s"`

	CountryCode  string `env:"PHONE_COUNTRY_CODE,default=62"`
	MediaBaseURL string `env:"MEDIA_BASE_URL"`

	PollSchedule      string        `env:"POLL_SCHEDULE,default=* * * * *"`
	PollTimezone      string        `env:"POLL_TIMEZONE,default=Asia/Jakarta"`
	PollBatchLimit    int           `env:"POLL_BATCH_LIMIT,default=100"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=8"`
	DeliveryTimeout   time.Duration `env:"DELIVERY_TIMEOUT,default=30s"`
	StaleClaimAfter   time.Duration `env:"STALE_CLAIM_AFTER,default=10m"`

	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=5"`
	APIPort         int    `env:"API_PORT,default=8080"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
	LogFormat       string `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}

	switch c.DispatchMode {
	case DispatchInProcess:
	case DispatchHTTP:
		if strings.TrimSpace(c.AppURL) == "" {
			return fmt.Errorf("APP_URL is required when DISPATCH_MODE=%s", DispatchHTTP)
		}
	default:
		return fmt.Errorf("unsupported dispatch mode %q", c.DispatchMode)
	}

	// Stale claims are failed, so the window must outlast a running send.
	if c.StaleClaimAfter <= c.DeliveryTimeout {
		return fmt.Errorf("STALE_CLAIM_AFTER (%s) must be greater than DELIVERY_TIMEOUT (%s)", c.StaleClaimAfter, c.DeliveryTimeout)
	}

	if _, err := c.RobotSessions(); err != nil {
		return err
	}
	return nil
}

// RobotSession binds a robot selector to a gateway session id.
type RobotSession struct {
	Robot   int
	Session string
}

// RobotSessions parses WHATSAPP_ROBOTS ("1:client-one,2:client-two") sorted by robot.
func (c *Config) RobotSessions() ([]RobotSession, error) {
	seen := make(map[int]struct{})
	sessions := make([]RobotSession, 0, 2)

	for _, item := range strings.Split(c.Robots, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		rawRobot, session, ok := strings.Cut(item, ":")
		if !ok || strings.TrimSpace(session) == "" {
			return nil, fmt.Errorf("invalid robot mapping %q, want <robot>:<session>", item)
		}
		robot, err := strconv.Atoi(strings.TrimSpace(rawRobot))
		if err != nil || robot < 1 {
			return nil, fmt.Errorf("invalid robot selector %q", rawRobot)
		}
		if _, dup := seen[robot]; dup {
			return nil, fmt.Errorf("duplicate robot selector %d", robot)
		}
		seen[robot] = struct{}{}

		sessions = append(sessions, RobotSession{Robot: robot, Session: strings.TrimSpace(session)})
	}

	if len(sessions) == 0 {
		return nil, fmt.Errorf("at least one robot mapping is required")
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Robot < sessions[j].Robot })
	return sessions, nil
}
