package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

// Default source locations. The Sciensano CSVs and the StatBel boundary
// archive are fetched over HTTP; the two spreadsheets are local files.
const (
	defaultCasesURL      = "https://epistat.sciensano.be/Data/COVID19BE_CASES_MUNI.csv"
	defaultVaccURL       = "https://epistat.sciensano.be/data/COVID19BE_VACC_MUNI_CUM.csv"
	defaultBoundariesURL = "https://statbel.fgov.be/sites/default/files/files/opendata/statistical_sectors.geojson.zip"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	CasesURL       string
	VaccURL        string
	BoundariesURL  string
	PopulationXLSX string
	StringencyXLSX string

	CacheDir        string
	OutputDir       string
	ForceRefresh    bool
	AllowStaleCache bool

	Granularity domain.Granularity
	RangeStart  time.Time
	RangeEnd    time.Time

	FetchTimeout time.Duration
	FetchRetries int

	// GeometryTolerance is the Douglas-Peucker tolerance in degrees; zero
	// disables boundary simplification.
	GeometryTolerance float64

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Kafka publishing is optional; enabled when brokers are configured.
	KafkaBrokers    []string
	KafkaPanelTopic string
}

// KafkaEnabled reports whether the finished panel should be published.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	gran, err := domain.ParseGranularity(envOrDefault("PERIOD_GRANULARITY", string(domain.Weekly)))
	if err != nil {
		return nil, err
	}

	rangeStart, err := parseDate("RANGE_START", "2020-03-01")
	if err != nil {
		return nil, err
	}
	rangeEnd, err := parseDate("RANGE_END", "2022-12-31")
	if err != nil {
		return nil, err
	}
	if rangeEnd.Before(rangeStart) {
		return nil, errors.New("RANGE_END precedes RANGE_START")
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	fetchRetries, err := parseNonNegativeInt("FETCH_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	tolerance, err := parseNonNegativeFloat("GEOMETRY_TOLERANCE", 0.0005)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		CasesURL:       envOrDefault("CASES_URL", defaultCasesURL),
		VaccURL:        envOrDefault("VACC_URL", defaultVaccURL),
		BoundariesURL:  envOrDefault("BOUNDARIES_URL", defaultBoundariesURL),
		PopulationXLSX: envOrDefault("POPULATION_XLSX", "data/population_by_NIS.xlsx"),
		StringencyXLSX: envOrDefault("STRINGENCY_XLSX", "data/si_be_muni_daily.xlsx"),

		CacheDir:        envOrDefault("CACHE_DIR", "data/cache"),
		OutputDir:       envOrDefault("OUTPUT_DIR", "data/out"),
		ForceRefresh:    envBool("FORCE_REFRESH"),
		AllowStaleCache: envBoolDefault("ALLOW_STALE_CACHE", true),

		Granularity: gran,
		RangeStart:  rangeStart,
		RangeEnd:    rangeEnd,

		FetchTimeout: fetchTimeout,
		FetchRetries: fetchRetries,

		GeometryTolerance: tolerance,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:    splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
		KafkaPanelTopic: envOrDefault("KAFKA_PANEL_TOPIC", "covid-panel-rows"),
	}

	if cfg.CasesURL == "" {
		return nil, errors.New("CASES_URL is required")
	}
	if cfg.VaccURL == "" {
		return nil, errors.New("VACC_URL is required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("CACHE_DIR is required")
	}
	if cfg.KafkaEnabled() && cfg.KafkaPanelTopic == "" {
		return nil, errors.New("KAFKA_BROKERS is set but KAFKA_PANEL_TOPIC is empty")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	return os.Getenv(key) == "true"
}

func envBoolDefault(key string, def bool) bool {
	switch os.Getenv(key) {
	case "true":
		return true
	case "false":
		return false
	default:
		return def
	}
}

func parseDate(key, def string) (time.Time, error) {
	s := envOrDefault(key, def)
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want YYYY-MM-DD", key, s)
	}
	return t.UTC(), nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

func parseNonNegativeFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return f, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
