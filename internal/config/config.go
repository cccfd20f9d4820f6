package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBConn        string
	LogLevel      string
	JWTSecret     string
	SMTPPort      string
	IMAPPort      string
	ReconcileCron string
	SettingsFile  string
}

// Settings is the persisted mail account document. It is editable at runtime
// via the settings surface, so it lives in its own file rather than the
// environment.
type Settings struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	SMTPServer string `json:"smtp_server"`
	IMAPServer string `json:"imap_server"`
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5432 user=test password=test dbname=ledger sslmode=disable"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		IMAPPort:      getEnv("IMAP_PORT", "993"),
		ReconcileCron: getEnv("RECONCILE_CRON", ""),
		SettingsFile:  getEnv("SETTINGS_FILE", "settings.json"),
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// LoadSettings reads the mail account document. A missing file is not an
// error: it yields empty defaults so the process can start unconfigured.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	settings := &Settings{}
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return settings, nil
}

// SaveSettings writes the mail account document back to disk.
func SaveSettings(path string, settings *Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
