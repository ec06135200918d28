package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Ledger      LedgerConfig
	Fraud       FraudConfig
	Broadcaster BroadcasterConfig
	Risk        RiskConfig
	GCP         GCPConfig
	PubSub      PubSubConfig
	NATS        NATSConfig
	Outbox      OutboxConfig
	Cron        CronConfig
	Metrics     MetricsConfig
	API         APIConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Broadcaster.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ECHOPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"ECHOPAY_APP_PORT" required:"true"`
	ServiceID    string `envconfig:"ECHOPAY_SERVICE_ID" default:"echopay-core"`
	LogLevel     string `envconfig:"ECHOPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ECHOPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"ECHOPAY_DB_DSN"`
	Driver string `envconfig:"ECHOPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ECHOPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"ECHOPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ECHOPAY_DB_USER"`
	LegacyPassword string `envconfig:"ECHOPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"ECHOPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"ECHOPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ECHOPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ECHOPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ECHOPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ECHOPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	RunMigrations   bool          `envconfig:"ECHOPAY_DB_RUN_MIGRATIONS" default:"false"`
}

type RedisConfig struct {
	URL            string        `envconfig:"ECHOPAY_REDIS_URL" required:"true"`
	Address        string        `envconfig:"ECHOPAY_REDIS_ADDR"`
	Password       string        `envconfig:"ECHOPAY_REDIS_PASSWORD"`
	DB             int           `envconfig:"ECHOPAY_REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"ECHOPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"ECHOPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout    time.Duration `envconfig:"ECHOPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"ECHOPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"ECHOPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
	IdempotencyTTL time.Duration `envconfig:"ECHOPAY_REDIS_IDEMPOTENCY_TTL" default:"24h"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ECHOPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ECHOPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ECHOPAY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type LedgerConfig struct {
	MaxTransactionAmount string        `envconfig:"ECHOPAY_LEDGER_MAX_TRANSACTION_AMOUNT" default:"1000000000"`
	Currencies           []string      `envconfig:"ECHOPAY_LEDGER_CURRENCIES" default:"USD-CBDC,EUR-CBDC,GBP-CBDC"`
	LockWaitTimeout      time.Duration `envconfig:"ECHOPAY_LEDGER_LOCK_WAIT_TIMEOUT" default:"5s"`
	RiskScoreTimeout     time.Duration `envconfig:"ECHOPAY_LEDGER_RISK_SCORE_TIMEOUT" default:"3s"`
	AuditSigningKey      string        `envconfig:"ECHOPAY_AUDIT_SIGNING_KEY"`
}

// MaxAmount parses the configured ceiling.
func (l LedgerConfig) MaxAmount() decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(l.MaxTransactionAmount))
	if err != nil {
		return decimal.NewFromInt(1_000_000_000)
	}
	return v
}

func (l LedgerConfig) validate() error {
	if _, err := decimal.NewFromString(strings.TrimSpace(l.MaxTransactionAmount)); err != nil {
		return fmt.Errorf("%s must be a decimal: %w", EnvLedgerMaxAmount, err)
	}
	if len(l.Currencies) == 0 {
		return fmt.Errorf("%s must list at least one currency", EnvLedgerCurrencies)
	}
	return nil
}

type FraudConfig struct {
	MinDescriptionLength  int           `envconfig:"ECHOPAY_FRAUD_MIN_DESCRIPTION_LENGTH" default:"10"`
	MaxDescriptionLength  int           `envconfig:"ECHOPAY_FRAUD_MAX_DESCRIPTION_LENGTH" default:"2000"`
	CriticalAmount        float64       `envconfig:"ECHOPAY_FRAUD_CRITICAL_AMOUNT" default:"10000"`
	HighAmount            float64       `envconfig:"ECHOPAY_FRAUD_HIGH_AMOUNT" default:"1000"`
	EscalationAfter       time.Duration `envconfig:"ECHOPAY_FRAUD_ESCALATION_AFTER" default:"72h"`
	AutomatedMinAge       time.Duration `envconfig:"ECHOPAY_FRAUD_AUTOMATED_MIN_AGE" default:"1h"`
	ConfidenceThreshold   float64       `envconfig:"ECHOPAY_FRAUD_CONFIDENCE_THRESHOLD" default:"0.8"`
	ReportsPerHour        int           `envconfig:"ECHOPAY_FRAUD_REPORTS_PER_HOUR" default:"10"`
	AutomatedSweepMaxCase int           `envconfig:"ECHOPAY_FRAUD_AUTOMATED_SWEEP_MAX_CASES" default:"100"`
}

type BroadcasterConfig struct {
	BufferSize    int           `envconfig:"ECHOPAY_BROADCASTER_BUFFER_SIZE" default:"100"`
	DropPolicy    string        `envconfig:"ECHOPAY_BROADCASTER_DROP_POLICY" default:"drop_newest"`
	SweepInterval time.Duration `envconfig:"ECHOPAY_BROADCASTER_SWEEP_INTERVAL" default:"5m"`
	InactiveAfter time.Duration `envconfig:"ECHOPAY_BROADCASTER_INACTIVE_AFTER" default:"10m"`
}

func (b BroadcasterConfig) validate() error {
	if b.BufferSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvBroadcasterBufferSize)
	}
	switch b.DropPolicy {
	case DropPolicyNewest, DropPolicyOldest:
		return nil
	default:
		return fmt.Errorf("%s must be %s or %s", EnvBroadcasterDropPolicy, DropPolicyNewest, DropPolicyOldest)
	}
}

type RiskConfig struct {
	BaseURL       string        `envconfig:"ECHOPAY_RISK_BASE_URL"`
	Timeout       time.Duration `envconfig:"ECHOPAY_RISK_TIMEOUT" default:"5s"`
	ConfidenceTTL time.Duration `envconfig:"ECHOPAY_RISK_CONFIDENCE_TTL" default:"10m"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"ECHOPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"ECHOPAY_PUBSUB_DOMAIN_TOPIC" default:"echopay-domain-events"`
	NotificationTopic        string `envconfig:"ECHOPAY_PUBSUB_NOTIFICATION_TOPIC" default:"echopay-notification-events"`
	NotificationSubscription string `envconfig:"ECHOPAY_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"echopay-notification-delivery"`
	EmulatorHost             string `envconfig:"PUBSUB_EMULATOR_HOST"`
}

type NATSConfig struct {
	URL            string        `envconfig:"ECHOPAY_NATS_URL" default:"nats://127.0.0.1:4222"`
	SubjectPrefix  string        `envconfig:"ECHOPAY_NATS_SUBJECT_PREFIX" default:"echopay"`
	ConnectTimeout time.Duration `envconfig:"ECHOPAY_NATS_CONNECT_TIMEOUT" default:"5s"`
	MaxReconnects  int           `envconfig:"ECHOPAY_NATS_MAX_RECONNECTS" default:"10"`
	StreamName     string        `envconfig:"ECHOPAY_NATS_STREAM" default:"ECHOPAY_EVENTS"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"ECHOPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"ECHOPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"ECHOPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Transport      string        `envconfig:"ECHOPAY_OUTBOX_TRANSPORT" default:"pubsub"`
	Retention      time.Duration `envconfig:"ECHOPAY_OUTBOX_RETENTION" default:"720h"`
}

func (o OutboxConfig) validate() error {
	switch o.Transport {
	case OutboxTransportPubSub, OutboxTransportNATS:
		return nil
	default:
		return fmt.Errorf("%s must be %s or %s", EnvOutboxTransport, OutboxTransportPubSub, OutboxTransportNATS)
	}
}

type CronConfig struct {
	Interval time.Duration `envconfig:"ECHOPAY_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"ECHOPAY_CRON_LOCK_TTL" default:"4m"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"ECHOPAY_METRICS_ENABLED" default:"true"`
	Path    string `envconfig:"ECHOPAY_METRICS_PATH" default:"/metrics"`
}

type APIConfig struct {
	CORSOrigins      []string      `envconfig:"ECHOPAY_API_CORS_ORIGINS"`
	WriteRateWindow  time.Duration `envconfig:"ECHOPAY_API_WRITE_RATE_WINDOW" default:"1m"`
	WriteRateLimit   int           `envconfig:"ECHOPAY_API_WRITE_RATE_LIMIT" default:"120"`
	ReadTimeout      time.Duration `envconfig:"ECHOPAY_API_READ_TIMEOUT" default:"15s"`
	WriteTimeout     time.Duration `envconfig:"ECHOPAY_API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout  time.Duration `envconfig:"ECHOPAY_API_SHUTDOWN_TIMEOUT" default:"15s"`
	StreamPingPeriod time.Duration `envconfig:"ECHOPAY_API_STREAM_PING_PERIOD" default:"30s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
