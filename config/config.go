package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// StoreDriver selects where estimates are persisted: none, postgres or sqlite.
	StoreDriver string
	SQLitePath  string

	ChromeBin          string
	PoolMaxSessions    int
	PoolSessionTimeout time.Duration
	PoolAcquireBackoff time.Duration

	CrawlTimeout      time.Duration
	SourceTimeout     time.Duration
	MaxItemsPerSource int
	MaxRetries        int
	EnabledSources    []string
	// SourceRPS caps outgoing HTTP requests per second across all sources; 0 disables the cap.
	SourceRPS float64

	BunjangAPIURL string
	BunjangWebURL string
	JoongnaAPIURL string
	JoongnaWebURL string
	DaangnWebURL  string
	UserAgent     string

	TaxonomyPath string
	SnapshotSize int

	CSVOutputPath string
	MetricsAddr   string
	LogLevel      string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "pricer"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "pricer123"),
		PostgresDB:       getEnv("POSTGRES_DB", "resale_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "none")),
		SQLitePath:  getEnv("SQLITE_PATH", "./output/estimates.db"),

		ChromeBin:          getEnv("CHROME_BIN", ""),
		PoolMaxSessions:    getEnvInt("POOL_MAX_SESSIONS", 3),
		PoolSessionTimeout: getEnvDuration("POOL_SESSION_TIMEOUT", 60*time.Second),
		PoolAcquireBackoff: getEnvDuration("POOL_ACQUIRE_BACKOFF", 2*time.Second),

		CrawlTimeout:      getEnvDuration("CRAWL_TIMEOUT", 45*time.Second),
		SourceTimeout:     getEnvDuration("SOURCE_TIMEOUT", 30*time.Second),
		MaxItemsPerSource: getEnvInt("MAX_ITEMS_PER_SOURCE", 40),
		MaxRetries:        getEnvInt("MAX_RETRIES", 2),
		EnabledSources:    getEnvList("ENABLED_SOURCES", []string{"bunjang", "joongna", "daangn"}),
		SourceRPS:         getEnvFloat("SOURCE_RPS", 5),

		BunjangAPIURL: getEnv("BUNJANG_API_URL", "https://api.bunjang.co.kr"),
		BunjangWebURL: getEnv("BUNJANG_WEB_URL", "https://m.bunjang.co.kr"),
		JoongnaAPIURL: getEnv("JOONGNA_API_URL", "https://search-api.joongna.com"),
		JoongnaWebURL: getEnv("JOONGNA_WEB_URL", "https://web.joongna.com"),
		DaangnWebURL:  getEnv("DAANGN_WEB_URL", "https://www.daangn.com"),
		UserAgent: getEnv("USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),

		TaxonomyPath: getEnv("TAXONOMY_PATH", ""),
		SnapshotSize: getEnvInt("SNAPSHOT_SIZE", 20),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// Validate rejects settings the crawler cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.PoolMaxSessions < 1 {
		errs = append(errs, fmt.Errorf("POOL_MAX_SESSIONS must be positive, got %d", c.PoolMaxSessions))
	}
	if c.PoolSessionTimeout <= 0 {
		errs = append(errs, errors.New("POOL_SESSION_TIMEOUT must be positive"))
	}
	if c.CrawlTimeout <= 0 || c.SourceTimeout <= 0 {
		errs = append(errs, errors.New("CRAWL_TIMEOUT and SOURCE_TIMEOUT must be positive"))
	}
	if c.MaxItemsPerSource < 1 {
		errs = append(errs, fmt.Errorf("MAX_ITEMS_PER_SOURCE must be positive, got %d", c.MaxItemsPerSource))
	}
	if c.SourceRPS < 0 {
		errs = append(errs, fmt.Errorf("SOURCE_RPS must not be negative, got %v", c.SourceRPS))
	}
	if c.SnapshotSize < 2 {
		errs = append(errs, fmt.Errorf("SNAPSHOT_SIZE must be at least 2, got %d", c.SnapshotSize))
	}
	switch c.StoreDriver {
	case "none", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be none, postgres or sqlite, got %q", c.StoreDriver))
	}
	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("30s") or bare milliseconds ("30000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
