package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the terminal agent settings. Every field maps to one env var.
type Config struct {
	// Local API
	Port           int    `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"` // development | production
	TerminalSecret string `mapstructure:"TERMINAL_SECRET"`
	TerminalID     string `mapstructure:"TERMINAL_ID"`

	// Remote backend
	BackendURL   string        `mapstructure:"BACKEND_URL"`
	BackendToken string        `mapstructure:"BACKEND_TOKEN"`
	RealtimeURL  string        `mapstructure:"REALTIME_URL"`
	HTTPTimeout  time.Duration `mapstructure:"HTTP_TIMEOUT"`

	// Storage; postgres wins over redis, memory when both are empty
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	// SnapshotPath is the sqlite file used when neither DATABASE_URL nor
	// REDIS_URL is set. MemorySnapshots keeps snapshots in process memory.
	SnapshotPath string `mapstructure:"SNAPSHOT_PATH"`

	ReconnectDelay time.Duration `mapstructure:"RECONNECT_DELAY"`
	CartTTL        time.Duration `mapstructure:"CART_TTL"`
	BackupTTL      time.Duration `mapstructure:"BACKUP_TTL"`
	ToastTTL       time.Duration `mapstructure:"TOAST_TTL"`

	// QR payments
	QRTTL             time.Duration `mapstructure:"QR_TTL"`
	QRAutoCancel      bool          `mapstructure:"QR_AUTO_CANCEL"`
	PaymentReturnURL  string        `mapstructure:"PAYMENT_RETURN_URL"`
	PaymentCancelURL  string        `mapstructure:"PAYMENT_CANCEL_URL"`
	TransactionPrefix string        `mapstructure:"TRANSACTION_PREFIX"`
}

// MemorySnapshots as SNAPSHOT_PATH disables the local snapshot file.
const MemorySnapshots = "memory"

// Load reads configuration from environment variables. Call godotenv first to
// pick up a local .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 8090)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("TERMINAL_SECRET", "")
	v.SetDefault("TERMINAL_ID", "till-1")
	v.SetDefault("BACKEND_URL", "http://localhost:8080/api/v1/")
	v.SetDefault("BACKEND_TOKEN", "")
	v.SetDefault("REALTIME_URL", "ws://localhost:8080/ws")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SNAPSHOT_PATH", "data/terminal.db")
	v.SetDefault("RECONNECT_DELAY", "3s")
	v.SetDefault("CART_TTL", "1h")
	v.SetDefault("BACKUP_TTL", "5m")
	v.SetDefault("TOAST_TTL", "4s")
	v.SetDefault("QR_TTL", "300s")
	v.SetDefault("QR_AUTO_CANCEL", false)
	v.SetDefault("PAYMENT_RETURN_URL", "http://localhost:8090/payment/return")
	v.SetDefault("PAYMENT_CANCEL_URL", "http://localhost:8090/payment/cancel")
	v.SetDefault("TRANSACTION_PREFIX", "POS")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return errors.New("BACKEND_URL is required")
	}
	if strings.TrimSpace(c.TerminalID) == "" {
		return errors.New("TERMINAL_ID is required")
	}
	if c.ReconnectDelay < 0 || c.QRTTL <= 0 || c.CartTTL <= 0 || c.BackupTTL <= 0 {
		return errors.New("durations must be positive")
	}
	return nil
}

// IsDevelopment switches the logger to the console writer.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}
