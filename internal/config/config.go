package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Inventory InventoryConfig `yaml:"inventory"`
	Session   SessionConfig   `yaml:"session"`
	Database  DatabaseConfig  `yaml:"database"`
}

// ServerConfig controls the HTTP listeners
type ServerConfig struct {
	Port        int    `yaml:"port" env:"PORT" validate:"gt=0,lt=65536"`
	MetricsPort int    `yaml:"metrics_port" env:"STOCKROOM_METRICS_PORT" validate:"gte=0,lt=65536"`
	LogLevel    string `yaml:"log_level" env:"STOCKROOM_LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// SheetsConfig identifies the backing spreadsheet
type SheetsConfig struct {
	SpreadsheetID     string  `yaml:"spreadsheet_id" env:"STOCKROOM_SPREADSHEET_ID" validate:"required"`
	ItemSheet         string  `yaml:"item_sheet" env:"STOCKROOM_SHEET_NAME" validate:"required"`
	ReferenceSheet    string  `yaml:"reference_sheet" env:"STOCKROOM_DATA_SHEET_NAME" validate:"required"`
	APIKey            string  `yaml:"api_key" env:"STOCKROOM_GOOGLE_API_KEY" validate:"required"`
	Endpoint          string  `yaml:"endpoint" env:"STOCKROOM_SHEETS_ENDPOINT"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"STOCKROOM_SHEETS_RPS" validate:"gt=0"`
	Burst             int     `yaml:"burst" env:"STOCKROOM_SHEETS_BURST" validate:"gt=0"`
}

// OAuthConfig is the Google OAuth client registration
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" env:"STOCKROOM_GOOGLE_CLIENT_ID" validate:"required"`
	ClientSecret string   `yaml:"client_secret" env:"STOCKROOM_GOOGLE_CLIENT_SECRET" validate:"required"`
	RedirectURL  string   `yaml:"redirect_url" env:"STOCKROOM_REDIRECT_URL" validate:"required,url"`
	Scopes       []string `yaml:"scopes"`
}

// InventoryConfig holds inventory defaults
type InventoryConfig struct {
	LowStockThreshold int `yaml:"low_stock_threshold" env:"STOCKROOM_LOW_STOCK_THRESHOLD" validate:"gte=0"`
}

// SessionConfig bounds the token lifecycle
type SessionConfig struct {
	TokenLifetime  time.Duration `yaml:"token_lifetime" validate:"gt=0"`
	SignInTimeout  time.Duration `yaml:"sign_in_timeout" validate:"gt=0"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" validate:"gt=0"`
	Probe          *bool         `yaml:"probe"`
}

// DatabaseConfig locates the session store
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"STOCKROOM_DATABASE_DRIVER" validate:"oneof=sqlite3 postgres"`
	DSN    string `yaml:"dsn" env:"STOCKROOM_DATABASE_DSN" validate:"required"`
}

// SpreadsheetsScope grants read/write access to the user's spreadsheets
const SpreadsheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	probe := true
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			MetricsPort: 9090,
			LogLevel:    "info",
		},
		Sheets: SheetsConfig{
			ItemSheet:         "Sheet1",
			ReferenceSheet:    "Data",
			RequestsPerSecond: 1,
			Burst:             5,
		},
		OAuth: OAuthConfig{
			RedirectURL: "http://localhost:8080/auth/callback",
			Scopes:      []string{SpreadsheetsScope, "openid", "email"},
		},
		Inventory: InventoryConfig{LowStockThreshold: 10},
		Session: SessionConfig{
			TokenLifetime:  time.Hour,
			SignInTimeout:  30 * time.Second,
			RefreshTimeout: 3 * time.Second,
			Probe:          &probe,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "stockroom.db",
		},
	}
}

// envBindings maps each viper key to the environment variable that overrides it.
var envBindings = map[string]string{
	"server.port":                   "PORT",
	"server.metrics_port":           "STOCKROOM_METRICS_PORT",
	"server.log_level":              "STOCKROOM_LOG_LEVEL",
	"sheets.spreadsheet_id":         "STOCKROOM_SPREADSHEET_ID",
	"sheets.item_sheet":             "STOCKROOM_SHEET_NAME",
	"sheets.reference_sheet":        "STOCKROOM_DATA_SHEET_NAME",
	"sheets.api_key":                "STOCKROOM_GOOGLE_API_KEY",
	"sheets.endpoint":               "STOCKROOM_SHEETS_ENDPOINT",
	"sheets.requests_per_second":    "STOCKROOM_SHEETS_RPS",
	"sheets.burst":                  "STOCKROOM_SHEETS_BURST",
	"oauth.client_id":               "STOCKROOM_GOOGLE_CLIENT_ID",
	"oauth.client_secret":           "STOCKROOM_GOOGLE_CLIENT_SECRET",
	"oauth.redirect_url":            "STOCKROOM_REDIRECT_URL",
	"inventory.low_stock_threshold": "STOCKROOM_LOW_STOCK_THRESHOLD",
	"database.driver":               "STOCKROOM_DATABASE_DRIVER",
	"database.dsn":                  "STOCKROOM_DATABASE_DSN",
}

// Load reads path over the defaults, applies environment overrides and validates the result.
// A missing file is not an error; the environment alone can configure the service.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				var perr viper.ConfigParseError
				if errors.As(err, &perr) {
					return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
				}
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Redacted returns a copy with secrets masked, for printing.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Sheets.APIKey = mask(c.Sheets.APIKey)
	out.OAuth.ClientSecret = mask(c.OAuth.ClientSecret)
	return &out
}

// ProbeEnabled reports whether cached tokens are checked with a liveness call.
func (c *Config) ProbeEnabled() bool {
	return c.Session.Probe == nil || *c.Session.Probe
}

// Validate enumerates every missing or invalid value by its environment variable name.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Tag.Get("yaml")
	})
	err := v.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field()+" is required")
			continue
		}
		invalid = append(invalid, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing required configuration: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(invalid, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}
