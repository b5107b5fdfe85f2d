package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Booking  BookingConfig  `yaml:"booking"`
	Reaper   ReaperConfig   `yaml:"reaper"`
	Auth     AuthConfig     `yaml:"auth"`
	Voucher  VoucherConfig  `yaml:"voucher"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	FrontendURL  string        `yaml:"frontend_url"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type DatabaseConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Enabled bool        `yaml:"enabled"`
	GroupID string      `yaml:"group_id"`
	Topics  TopicConfig `yaml:"topics"`
}

type TopicConfig struct {
	Notifications string `yaml:"notifications"`
	BookingStatus string `yaml:"booking_status"`
}

// GatewayConfig holds the shared-secret credentials of the wallet gateway.
type GatewayConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	PartnerCode string        `yaml:"partner_code"`
	AccessKey   string        `yaml:"access_key"`
	SecretKey   string        `yaml:"secret_key"`
	RedirectURL string        `yaml:"redirect_url"`
	IPNURL      string        `yaml:"ipn_url"`
	RequestType string        `yaml:"request_type"`
	Lang        string        `yaml:"lang"`
	MinAmount   int64         `yaml:"min_amount"`
	MaxAmount   int64         `yaml:"max_amount"`
	Timeout     time.Duration `yaml:"timeout"`
}

type BookingConfig struct {
	HoldDuration         time.Duration `yaml:"hold_duration"`
	PaymentSuccessStatus string        `yaml:"payment_success_status"`
	PaymentLockTTL       time.Duration `yaml:"payment_lock_ttl"`
}

type ReaperConfig struct {
	Interval         time.Duration `yaml:"interval"`
	SideEffectGrace  time.Duration `yaml:"side_effect_grace"`
	ListenExpiryKeys bool          `yaml:"listen_expiry_keys"`
}

type AuthConfig struct {
	OIDCIssuer string `yaml:"oidc_issuer"`
	// DevSecret enables HS256-signed staff tokens when no issuer is set.
	DevSecret string `yaml:"dev_secret"`
}

type VoucherConfig struct {
	SecretKey string `yaml:"secret_key"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and finally the environment, which always wins.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8084",
			FrontendURL:  "http://localhost:3000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 25,
			MaxLifetime:  5 * time.Minute,
			AutoMigrate:  true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Enabled: true,
			GroupID: "booking-service",
			Topics: TopicConfig{
				Notifications: "tourbooking.notifications",
				BookingStatus: "tourbooking.booking.status",
			},
		},
		Gateway: GatewayConfig{
			Endpoint:    "https://test-payment.momo.vn/v2/gateway/api/create",
			RequestType: "captureWallet",
			Lang:        "vi",
			MinAmount:   1000,
			MaxAmount:   50000000,
			Timeout:     30 * time.Second,
		},
		Booking: BookingConfig{
			HoldDuration:         5 * time.Minute,
			PaymentSuccessStatus: "confirmed",
			PaymentLockTTL:       15 * time.Second,
		},
		Reaper: ReaperConfig{
			Interval:         30 * time.Second,
			SideEffectGrace:  time.Minute,
			ListenExpiryKeys: true,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.FrontendURL = getEnv("FRONTEND_URL", cfg.Server.FrontendURL)

	cfg.Database.DSN = getEnv("POSTGRES_DSN", cfg.Database.DSN)
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.MaxLifetime = getEnvMinutes("DB_MAX_LIFETIME_MINUTES", cfg.Database.MaxLifetime)
	cfg.Database.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", cfg.Database.AutoMigrate)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	cfg.Kafka.Topics.Notifications = getEnv("KAFKA_TOPIC_NOTIFICATIONS", cfg.Kafka.Topics.Notifications)
	cfg.Kafka.Topics.BookingStatus = getEnv("KAFKA_TOPIC_BOOKING_STATUS", cfg.Kafka.Topics.BookingStatus)

	cfg.Gateway.Endpoint = getEnv("MOMO_ENDPOINT", cfg.Gateway.Endpoint)
	cfg.Gateway.PartnerCode = getEnv("MOMO_PARTNER_CODE", cfg.Gateway.PartnerCode)
	cfg.Gateway.AccessKey = getEnv("MOMO_ACCESS_KEY", cfg.Gateway.AccessKey)
	cfg.Gateway.SecretKey = getEnv("MOMO_SECRET_KEY", cfg.Gateway.SecretKey)
	cfg.Gateway.RedirectURL = getEnv("MOMO_REDIRECT_URL", cfg.Gateway.RedirectURL)
	cfg.Gateway.IPNURL = getEnv("MOMO_IPN_URL", cfg.Gateway.IPNURL)
	cfg.Gateway.RequestType = getEnv("MOMO_REQUEST_TYPE", cfg.Gateway.RequestType)
	cfg.Gateway.MinAmount = int64(getEnvInt("MOMO_MIN_AMOUNT", int(cfg.Gateway.MinAmount)))
	cfg.Gateway.MaxAmount = int64(getEnvInt("MOMO_MAX_AMOUNT", int(cfg.Gateway.MaxAmount)))

	cfg.Booking.HoldDuration = getEnvMinutes("BOOKING_HOLD_MINUTES", cfg.Booking.HoldDuration)
	cfg.Booking.PaymentSuccessStatus = getEnv("BOOKING_PAYMENT_SUCCESS_STATUS", cfg.Booking.PaymentSuccessStatus)

	if secs := getEnvInt("REAPER_INTERVAL_SECONDS", 0); secs > 0 {
		cfg.Reaper.Interval = time.Duration(secs) * time.Second
	}
	cfg.Reaper.ListenExpiryKeys = getEnvBool("REAPER_LISTEN_EXPIRY_KEYS", cfg.Reaper.ListenExpiryKeys)

	cfg.Auth.OIDCIssuer = getEnv("OIDC_ISSUER", cfg.Auth.OIDCIssuer)
	cfg.Auth.DevSecret = getEnv("AUTH_DEV_SECRET", cfg.Auth.DevSecret)
	cfg.Voucher.SecretKey = getEnv("VOUCHER_SECRET_KEY", cfg.Voucher.SecretKey)
}

// Validate rejects configurations the booking flow cannot run with.
func (c *Config) Validate() error {
	switch c.Booking.PaymentSuccessStatus {
	case "confirmed", "pending":
	default:
		return fmt.Errorf("invalid BOOKING_PAYMENT_SUCCESS_STATUS %q: want confirmed or pending", c.Booking.PaymentSuccessStatus)
	}
	if c.Booking.HoldDuration <= 0 {
		return fmt.Errorf("booking hold duration must be positive")
	}
	if c.Gateway.MinAmount <= 0 || c.Gateway.MaxAmount < c.Gateway.MinAmount {
		return fmt.Errorf("invalid gateway amount range [%d, %d]", c.Gateway.MinAmount, c.Gateway.MaxAmount)
	}
	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper interval must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvMinutes(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Minute
		}
	}
	return defaultValue
}
