package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
)

// Config holds every setting the console application reads at start-up.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Rates    RatesConfig
	Argon2   Argon2Config
	Ledger   LedgerConfig
	Log      LogConfig
	Display  DisplayConfig
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	Driver          string
	Path            string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	RatesTTL time.Duration
}

// RatesConfig drives the exchange rate feed and the cache in front of it.
type RatesConfig struct {
	APIURL      string
	Base        string
	Currencies  []string
	TTL         time.Duration
	HTTPTimeout time.Duration
	BuySpread   decimal.Decimal
	SellSpread  decimal.Decimal
}

type Argon2Config struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength int
}

type LedgerConfig struct {
	// RecordExchanges writes an ExchangeBuy ledger entry for currency purchases.
	RecordExchanges bool
	HistoryLimit    int
}

type LogConfig struct {
	Level string
	File  string
}

type DisplayConfig struct {
	Locale string
}

var bindings = map[string]string{
	"database.driver":            "DATABASE_DRIVER",
	"database.path":              "DATABASE_PATH",
	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",

	"redis.enabled":   "REDIS_ENABLED",
	"redis.host":      "REDIS_HOST",
	"redis.port":      "REDIS_PORT",
	"redis.password":  "REDIS_PASSWORD",
	"redis.db":        "REDIS_DB",
	"redis.rates_ttl": "REDIS_RATES_TTL",

	"rates.api_url":      "RATES_API_URL",
	"rates.base":         "RATES_BASE",
	"rates.currencies":   "RATES_CURRENCIES",
	"rates.ttl":          "RATES_TTL",
	"rates.http_timeout": "RATES_HTTP_TIMEOUT",
	"rates.buy_spread":   "RATES_BUY_SPREAD",
	"rates.sell_spread":  "RATES_SELL_SPREAD",

	"argon2.time":        "ARGON2_TIME",
	"argon2.memory":      "ARGON2_MEMORY",
	"argon2.threads":     "ARGON2_THREADS",
	"argon2.key_length":  "ARGON2_KEY_LENGTH",
	"argon2.salt_length": "ARGON2_SALT_LENGTH",

	"ledger.record_exchanges": "LEDGER_RECORD_EXCHANGES",
	"ledger.history_limit":    "LEDGER_HISTORY_LIMIT",

	"log.level": "LOG_LEVEL",
	"log.file":  "LOG_FILE",

	"display.locale": "DISPLAY_LOCALE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "atabank.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "atabank")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rates_ttl", 24*time.Hour)

	v.SetDefault("rates.api_url", "https://api.exchangerate-api.com/v4")
	v.SetDefault("rates.base", "TRY")
	v.SetDefault("rates.currencies", "USD,EUR,GBP")
	v.SetDefault("rates.ttl", time.Minute)
	v.SetDefault("rates.http_timeout", 10*time.Second)
	v.SetDefault("rates.buy_spread", "0.985")
	v.SetDefault("rates.sell_spread", "1.015")

	v.SetDefault("argon2.time", 1)
	v.SetDefault("argon2.memory", 64*1024)
	v.SetDefault("argon2.threads", 4)
	v.SetDefault("argon2.key_length", 32)
	v.SetDefault("argon2.salt_length", 16)

	v.SetDefault("ledger.record_exchanges", true)
	v.SetDefault("ledger.history_limit", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "atabank.log")

	v.SetDefault("display.locale", "en")
}

// Load reads configuration from an optional env-style file, the process
// environment and built-in defaults, in that order of precedence (env wins).
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
		// dotenv files key values by env name; lift them onto the dotted keys
		// below the environment so real env vars still override the file.
		for key, env := range bindings {
			if name := strings.ToLower(env); v.InConfig(name) {
				v.SetDefault(key, v.Get(name))
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	buy, err := decimal.NewFromString(v.GetString("rates.buy_spread"))
	if err != nil {
		return nil, fmt.Errorf("invalid rates.buy_spread: %w", err)
	}
	sell, err := decimal.NewFromString(v.GetString("rates.sell_spread"))
	if err != nil {
		return nil, fmt.Errorf("invalid rates.sell_spread: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("database.driver")),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			RatesTTL: v.GetDuration("redis.rates_ttl"),
		},
		Rates: RatesConfig{
			APIURL:      strings.TrimRight(v.GetString("rates.api_url"), "/"),
			Base:        strings.ToUpper(strings.TrimSpace(v.GetString("rates.base"))),
			Currencies:  splitCodes(v.GetString("rates.currencies")),
			TTL:         v.GetDuration("rates.ttl"),
			HTTPTimeout: v.GetDuration("rates.http_timeout"),
			BuySpread:   buy,
			SellSpread:  sell,
		},
		Argon2: Argon2Config{
			Time:       uint32(v.GetUint("argon2.time")),
			Memory:     uint32(v.GetUint("argon2.memory")),
			Threads:    uint8(v.GetUint("argon2.threads")),
			KeyLength:  uint32(v.GetUint("argon2.key_length")),
			SaltLength: v.GetInt("argon2.salt_length"),
		},
		Ledger: LedgerConfig{
			RecordExchanges: v.GetBool("ledger.record_exchanges"),
			HistoryLimit:    v.GetInt("ledger.history_limit"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
		Display: DisplayConfig{
			Locale: v.GetString("display.locale"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the application cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return errors.New("database.path is required for sqlite")
	}
	if c.Rates.Base == "" {
		return errors.New("rates.base is required")
	}
	if len(c.Rates.Currencies) == 0 {
		return errors.New("rates.currencies must list at least one currency")
	}
	if c.Rates.TTL <= 0 {
		return fmt.Errorf("rates.ttl must be positive, got %s", c.Rates.TTL)
	}
	if !c.Rates.BuySpread.IsPositive() || !c.Rates.SellSpread.IsPositive() {
		return errors.New("rates spreads must be positive")
	}
	if c.Argon2.SaltLength <= 0 || c.Argon2.KeyLength == 0 {
		return errors.New("argon2 salt_length and key_length must be positive")
	}
	if c.Ledger.HistoryLimit <= 0 {
		return fmt.Errorf("ledger.history_limit must be positive, got %d", c.Ledger.HistoryLimit)
	}
	if _, err := language.Parse(c.Display.Locale); err != nil {
		return fmt.Errorf("invalid display.locale %q: %w", c.Display.Locale, err)
	}
	return nil
}

// PostgresDSN builds a lib/pq connection string from the database settings.
func (d DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

func splitCodes(raw string) []string {
	var codes []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		code := strings.ToUpper(strings.TrimSpace(part))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}
