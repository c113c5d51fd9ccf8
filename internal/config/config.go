package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

const defaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		// AllowedOrigins feeds the CORS handler.
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL     string        `yaml:"url"`
		LockTTL time.Duration `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Paystack struct {
		SecretKey   string `yaml:"secret_key"`
		BaseURL     string `yaml:"base_url"`
		CallbackURL string `yaml:"callback_url"`
	} `yaml:"paystack"`
	Payments struct {
		FeePercent        string `yaml:"fee_percent"`
		CommissionPercent string `yaml:"commission_percent"`
		NodeID            int64  `yaml:"node_id"`
	} `yaml:"payments"`
	Workers struct {
		ExpiryInterval    time.Duration `yaml:"expiry_interval"`
		ReminderInterval  time.Duration `yaml:"reminder_interval"`
		ReminderDays      []int         `yaml:"reminder_days"`
		ReconcileInterval time.Duration `yaml:"reconcile_interval"`
		ReconcileAfter    time.Duration `yaml:"reconcile_after"`
		ReconcileBatch    int           `yaml:"reconcile_batch"`
	} `yaml:"workers"`
	Notify struct {
		QueueSize          int      `yaml:"queue_size"`
		Workers            int      `yaml:"workers"`
		KafkaBrokers       []string `yaml:"kafka_brokers"`
		KafkaTopic         string   `yaml:"kafka_topic"`
		FirebaseCredential string   `yaml:"firebase_credentials"`
		AWSRegion          string   `yaml:"aws_region"`
		SMSSenderID        string   `yaml:"sms_sender_id"`
		ReceiptBucket      string   `yaml:"receipt_bucket"`
	} `yaml:"notify"`
}

func defaults() Config {
	var cfg Config
	cfg.Server.Address = ":4001"
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Database.Driver = "mysql"
	cfg.Redis.LockTTL = 30 * time.Second
	cfg.Payments.FeePercent = "1.5"
	cfg.Payments.CommissionPercent = "2.5"
	cfg.Payments.NodeID = 1
	cfg.Workers.ExpiryInterval = time.Hour
	cfg.Workers.ReminderInterval = 24 * time.Hour
	cfg.Workers.ReminderDays = []int{30, 14, 7, 1}
	cfg.Workers.ReconcileInterval = 5 * time.Minute
	cfg.Workers.ReconcileAfter = 15 * time.Minute
	cfg.Workers.ReconcileBatch = 50
	cfg.Notify.QueueSize = 256
	cfg.Notify.Workers = 2
	cfg.Notify.KafkaTopic = "motopay.payments"
	return cfg
}

// LoadConfig reads the YAML file named by CONFIG_PATH (a missing file is
// fine) and then applies environment overrides.
func LoadConfig() (Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Address = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Paystack.SecretKey, "PAYSTACK_SECRET_KEY")
	setString(&cfg.Paystack.BaseURL, "PAYSTACK_BASE_URL")
	setString(&cfg.Paystack.CallbackURL, "PAYSTACK_CALLBACK_URL")
	setString(&cfg.Payments.FeePercent, "PAYMENT_FEE_PERCENT")
	setString(&cfg.Payments.CommissionPercent, "AGENT_COMMISSION_PERCENT")
	setString(&cfg.Notify.KafkaTopic, "KAFKA_TOPIC")
	setString(&cfg.Notify.FirebaseCredential, "FIREBASE_CREDENTIALS")
	setString(&cfg.Notify.AWSRegion, "AWS_REGION")
	setString(&cfg.Notify.SMSSenderID, "SMS_SENDER_ID")
	setString(&cfg.Notify.ReceiptBucket, "RECEIPT_BUCKET")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Notify.KafkaBrokers = splitList(v)
	}

	if v, err := readIntEnv("NODE_ID"); err != nil {
		return fmt.Errorf("parse NODE_ID: %w", err)
	} else if v != nil {
		cfg.Payments.NodeID = int64(*v)
	}
	if v, err := readIntEnv("RECONCILE_BATCH"); err != nil {
		return fmt.Errorf("parse RECONCILE_BATCH: %w", err)
	} else if v != nil {
		cfg.Workers.ReconcileBatch = *v
	}
	if v := os.Getenv("REMINDER_DAYS"); v != "" {
		days, err := parseDays(v)
		if err != nil {
			return fmt.Errorf("parse REMINDER_DAYS: %w", err)
		}
		cfg.Workers.ReminderDays = days
	}
	if v := os.Getenv("RECONCILE_AFTER_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RECONCILE_AFTER_SECONDS: %w", err)
		}
		cfg.Workers.ReconcileAfter = time.Duration(secs) * time.Second
	}
	return nil
}

// Validate checks the values the service cannot start without.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database url is required")
	}
	if c.Database.Driver != "mysql" && c.Database.Driver != "pgx" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Paystack.SecretKey == "" {
		return errors.New("paystack secret key is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if _, err := c.FeePercent(); err != nil {
		return err
	}
	if _, err := c.CommissionPercent(); err != nil {
		return err
	}
	for _, d := range c.Workers.ReminderDays {
		if d <= 0 {
			return fmt.Errorf("reminder day %d must be positive", d)
		}
	}
	return nil
}

func (c Config) FeePercent() (decimal.Decimal, error) {
	return parsePercent("fee_percent", c.Payments.FeePercent)
}

func (c Config) CommissionPercent() (decimal.Decimal, error) {
	return parsePercent("commission_percent", c.Payments.CommissionPercent)
}

func parsePercent(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", name, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("%s must be between 0 and 100", name)
	}
	return d, nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func readIntEnv(key string) (*int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDays(v string) ([]int, error) {
	var days []int
	for _, p := range splitList(v) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		days = append(days, n)
	}
	return days, nil
}
