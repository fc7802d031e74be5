package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every tunable of the service. Only this struct is used to read
// configuration, nothing else touches the environment directly.
type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	AppName  string `env:"APP_NAME,default=visit_reminders"`
	AppDebug bool   `env:"APP_DEBUG,default=false"`

	HttpListenAddr     string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=15s"`
	HttpPrefork        bool          `env:"HTTP_PREFORK,default=false"`

	MetricsListenAddr string `env:"METRICS_LISTEN_ADDR,default=:9100"`
	MetricsURI        string `env:"METRICS_URI,default=/metrics"`
	PromNamespace     string `env:"PROM_NAMESPACE,default=visit_reminders"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresMaxOpenConns  int    `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=reminders:"`

	WhatsAppAPIBaseURL       string `env:"WHATSAPP_API_BASE_URL,default=https://graph.facebook.com"`
	WhatsAppAPIVersion       string `env:"WHATSAPP_API_VERSION,default=v21.0"`
	WhatsAppPhoneNumberID    string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAccessToken      string `env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppDefaultTemplate  string `env:"WHATSAPP_DEFAULT_TEMPLATE,default=service_reminder"`
	WhatsAppTemplateLanguage string `env:"WHATSAPP_TEMPLATE_LANGUAGE,default=pl"`
	WhatsAppVerifyToken      string `env:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppAppSecret        string `env:"WHATSAPP_APP_SECRET"`

	GatewayTimeout                 time.Duration `env:"GATEWAY_TIMEOUT,default=10s"`
	GatewayMaxRetries              int           `env:"GATEWAY_MAX_RETRIES,default=1"`
	GatewayRetryDelay              time.Duration `env:"GATEWAY_RETRY_DELAY,default=500ms"`
	GatewayMaxConns                int           `env:"GATEWAY_MAX_CONNS,default=16"`
	GatewayCircuitBreakerThreshold int           `env:"GATEWAY_CIRCUIT_BREAKER_THRESHOLD,default=5"`
	GatewayCircuitBreakerTimeout   time.Duration `env:"GATEWAY_CIRCUIT_BREAKER_TIMEOUT,default=30s"`

	// SendDelay is the fixed pause between two consecutive sends (batch and queued dispatch).
	SendDelay time.Duration `env:"SEND_DELAY,default=1s"`

	SweepInterval  time.Duration `env:"SWEEP_INTERVAL,default=1m"`
	SweepCutoff    time.Duration `env:"SWEEP_CUTOFF,default=5m"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE,default=200"`
	SweepLeaseTTL  time.Duration `env:"SWEEP_LEASE_TTL,default=2m"`

	WebhookTimeout   time.Duration `env:"WEBHOOK_TIMEOUT,default=10s"`
	InboundReplayTTL time.Duration `env:"INBOUND_REPLAY_TTL,default=24h"`

	FacilitySeedFile       string  `env:"FACILITY_SEED_FILE"`
	FacilityMatchThreshold float64 `env:"FACILITY_MATCH_THRESHOLD,default=0.6"`
	DefaultFacilityName    string  `env:"DEFAULT_FACILITY_NAME,default=our service centre"`
	DefaultFacilityPhone   string  `env:"DEFAULT_FACILITY_PHONE,default=-"`

	QueueName              string        `env:"QUEUE_NAME,default=reminders:dispatch"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=dispatchers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=dispatcher"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=1m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	if err := c.validate(); err != nil {
		return err
	}

	config = c
	return nil
}

func (c *Config) validate() error {
	if c.SendDelay < 0 {
		return errors.New("SEND_DELAY must not be negative")
	}
	if c.SweepCutoff < 0 {
		return errors.New("SWEEP_CUTOFF must not be negative")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if c.FacilityMatchThreshold <= 0 || c.FacilityMatchThreshold > 1 {
		return errors.Errorf("FACILITY_MATCH_THRESHOLD must be in (0, 1], got %v", c.FacilityMatchThreshold)
	}
	return nil
}

// Set replaces the loaded configuration, used by tests and tools that build a Config by hand.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
