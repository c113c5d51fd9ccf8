package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const baseYAML = `
database:
  driver: pgx
  url: postgres://localhost/motopay
auth:
  jwt_secret: s3cret
paystack:
  secret_key: sk_test_x
payments:
  fee_percent: "2"
workers:
  reconcile_after: 30m
`

func TestLoadConfigFileAndEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, baseYAML))
	t.Setenv("PORT", "8080")
	t.Setenv("AGENT_COMMISSION_PERCENT", "3.25")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REMINDER_DAYS", "10,3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Database.Driver != "pgx" {
		t.Fatalf("unexpected server/database config %+v %+v", cfg.Server, cfg.Database)
	}
	fee, _ := cfg.FeePercent()
	comm, _ := cfg.CommissionPercent()
	if !fee.Equal(decimal.NewFromInt(2)) || !comm.Equal(decimal.RequireFromString("3.25")) {
		t.Fatalf("unexpected percents fee=%s commission=%s", fee, comm)
	}
	if len(cfg.Notify.KafkaBrokers) != 2 || cfg.Notify.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Notify.KafkaBrokers)
	}
	if len(cfg.Workers.ReminderDays) != 2 || cfg.Workers.ReminderDays[0] != 10 {
		t.Fatalf("unexpected reminder days %v", cfg.Workers.ReminderDays)
	}
	if cfg.Workers.ReconcileAfter != 30*time.Minute || cfg.Workers.ReconcileBatch != 50 {
		t.Fatalf("unexpected worker config %+v", cfg.Workers)
	}
}

func TestLoadConfigMissingFileUsesEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("DATABASE_URL", "user:pass@/motopay?parseTime=true")
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("PAYSTACK_SECRET_KEY", "sk_test_x")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Driver != "mysql" || cfg.Server.Address != ":4001" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, baseYAML))

	t.Setenv("PAYMENT_FEE_PERCENT", "abc")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected bad fee percent to fail")
	}
	t.Setenv("PAYMENT_FEE_PERCENT", "150")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected fee above 100 to fail")
	}
	t.Setenv("PAYMENT_FEE_PERCENT", "1.5")
	t.Setenv("DB_DRIVER", "sqlite")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected unsupported driver to fail")
	}
}
