package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Holdings and market data backends.
const (
	ProviderYahoo = "yahoo"
	ProviderEODHD = "eodhd"

	HoldingsSSGA    = "ssga"
	HoldingsSPDRCSV = "spdr-csv"
	HoldingsDir     = "dir"

	BlobS3   = "s3"
	BlobDir  = "dir"
	BlobNone = "none"
)

// DefaultSectors are the Select Sector SPDR funds.
var DefaultSectors = []string{"xlb", "xlc", "xle", "xlf", "xli", "xlk", "xlp", "xlre", "xlu", "xlv", "xly"}

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Universe
	Sectors     []string
	TickersFile string

	// Sources
	MarketDataProvider  string
	EODHDAPIKey         string
	HoldingsSource      string
	HoldingsDir         string
	HoldingsURLTemplate string
	SPDRBaseURL         string

	// Snapshots
	BlobBackend  string
	BlobDir      string
	AWSRegion    string
	S3Bucket     string
	AWSAccessKey string
	AWSSecretKey string
	S3Endpoint   string
	SnapshotDir  string

	// Execution
	SyncWorkers  int
	FetchTimeout time.Duration
	RunInterval  time.Duration
	RunOnStart   bool

	// API
	APIPort         int
	APIKey          string
	CORSAllowOrigin string

	// Observability
	WebhookURL     string
	PushgatewayURL string
	LogLevel       string
	LogFormat      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Database
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "stock_data"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),

		// Universe
		TickersFile: envStr("TICKERS_FILE", ""),

		// Sources
		MarketDataProvider:  strings.ToLower(envStr("MARKET_DATA_PROVIDER", ProviderYahoo)),
		EODHDAPIKey:         envStr("EODHD_API_KEY", ""),
		HoldingsSource:      strings.ToLower(envStr("HOLDINGS_SOURCE", HoldingsSSGA)),
		HoldingsDir:         envStr("HOLDINGS_DIR", "downloads"),
		HoldingsURLTemplate: envStr("HOLDINGS_URL_TEMPLATE", ""),
		SPDRBaseURL:         envStr("SPDR_BASE_URL", ""),

		// Snapshots
		BlobBackend:  strings.ToLower(envStr("BLOB_BACKEND", BlobNone)),
		BlobDir:      envStr("BLOB_DIR", "snapshots"),
		AWSRegion:    envStr("AWS_REGION", "us-east-1"),
		S3Bucket:     envStr("STOCK_DATA_PIPELINE_BUCKET_NAME", ""),
		AWSAccessKey: envStr("AWS_ACCESS_KEY", ""),
		AWSSecretKey: envStr("AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:   envStr("S3_ENDPOINT", ""),
		SnapshotDir:  envStr("SNAPSHOT_DIR", os.TempDir()),

		// Execution
		SyncWorkers:  envInt("SYNC_WORKERS", 4),
		FetchTimeout: envDuration("FETCH_TIMEOUT", 60*time.Second),
		RunInterval:  envDuration("RUN_INTERVAL", 24*time.Hour),
		RunOnStart:   envBool("RUN_ON_START", true),

		// API
		APIPort:         envInt("API_PORT", 3001),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		// Observability
		WebhookURL:     envStr("WEBHOOK_URL", ""),
		PushgatewayURL: envStr("PUSHGATEWAY_URL", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		LogFormat:      envStr("LOG_FORMAT", "console"),
	}

	sectors, err := loadSectors(envStr("SECTORS", ""), envStr("SECTORS_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Sectors = sectors

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	switch c.MarketDataProvider {
	case ProviderYahoo:
	case ProviderEODHD:
		if c.EODHDAPIKey == "" {
			errs = append(errs, "EODHD_API_KEY is required for MARKET_DATA_PROVIDER=eodhd")
		}
	default:
		errs = append(errs, fmt.Sprintf("MARKET_DATA_PROVIDER %q is not one of yahoo, eodhd", c.MarketDataProvider))
	}

	switch c.HoldingsSource {
	case HoldingsSSGA, HoldingsSPDRCSV:
	case HoldingsDir:
		if c.HoldingsDir == "" {
			errs = append(errs, "HOLDINGS_DIR is required for HOLDINGS_SOURCE=dir")
		}
	default:
		errs = append(errs, fmt.Sprintf("HOLDINGS_SOURCE %q is not one of ssga, spdr-csv, dir", c.HoldingsSource))
	}

	switch c.BlobBackend {
	case BlobNone, BlobDir:
	case BlobS3:
		if c.S3Bucket == "" {
			errs = append(errs, "STOCK_DATA_PIPELINE_BUCKET_NAME is required for BLOB_BACKEND=s3")
		}
	default:
		errs = append(errs, fmt.Sprintf("BLOB_BACKEND %q is not one of s3, dir, none", c.BlobBackend))
	}

	if c.SyncWorkers < 1 {
		errs = append(errs, "SYNC_WORKERS must be at least 1")
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, "FETCH_TIMEOUT must be positive")
	}
	if len(c.Sectors) == 0 && c.TickersFile == "" {
		errs = append(errs, "no SECTORS and no TICKERS_FILE: nothing to do")
	}

	if c.BlobBackend == BlobNone {
		log.Warn().Msg("BLOB_BACKEND=none: sector tables are not snapshotted")
	}
	if c.APIKey == "" {
		log.Warn().Msg("API_KEY not set: REST API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	log.Info().
		Str("db", fmt.Sprintf("%s:%d/%s", c.DBHost, c.DBPort, c.DBName)).
		Strs("sectors", c.Sectors).
		Str("tickers_file", c.TickersFile).
		Str("market_data", c.MarketDataProvider).
		Str("holdings", c.HoldingsSource).
		Str("blob_backend", c.BlobBackend).
		Str("bucket", c.S3Bucket).
		Int("sync_workers", c.SyncWorkers).
		Dur("fetch_timeout", c.FetchTimeout).
		Dur("run_interval", c.RunInterval).
		Bool("run_on_start", c.RunOnStart).
		Int("api_port", c.APIPort).
		Str("webhook", boolLabel(c.WebhookURL != "", "configured", "not set")).
		Str("pushgateway", boolLabel(c.PushgatewayURL != "", c.PushgatewayURL, "not set")).
		Msg("configuration")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// loadSectors reads the sector list from a comma separated value, or from
// a file with one sector per line, or falls back to DefaultSectors.
func loadSectors(list, file string) ([]string, error) {
	if list != "" {
		return splitList(strings.Split(list, ",")), nil
	}
	if file != "" {
		lines, err := ReadLines(file)
		if err != nil {
			return nil, fmt.Errorf("sectors file: %w", err)
		}
		return splitList(lines), nil
	}
	return append([]string(nil), DefaultSectors...), nil
}

// ReadLines returns the non-empty, non-comment lines of a file.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func splitList(items []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range items {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
