package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	LogLevel      string
	RedisAddr     string
	RedisPassword string
	DatabaseURL   string
	DBMaxConns    int

	Source       SourceConfig
	Credential   CredentialConfig
	Jobs         JobsConfig
	Generator    GeneratorConfig
	Orchestrator OrchestratorConfig
}

// SourceConfig describes the external property-search endpoint.
type SourceConfig struct {
	BaseURL    string
	SearchPath string
	Year       string
	PageSize   int
	MaxPages   int
	Timeout    time.Duration
	RPS        float64
	Attempts   int
	Backoff    time.Duration
}

// CredentialConfig controls how the bearer token is obtained and refreshed.
// RefreshInterval and RefreshCron are mutually exclusive.
type CredentialConfig struct {
	StaticToken     string
	CaptureURL      string
	CaptureMatch    string
	CaptureInput    string
	CaptureTimeout  time.Duration
	RefreshInterval time.Duration
	RefreshCron     string
}

type JobsConfig struct {
	Concurrency int
	Attempts    int
	Backoff     time.Duration
	Timeout     time.Duration
	TermSpacing time.Duration
	ChunkSize   int
}

type GeneratorConfig struct {
	VocabFile      string
	ReloadInterval time.Duration
}

type OrchestratorConfig struct {
	Target     int
	MaxBacklog int
	Batch      int
	Tick       time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return i, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

// envReader collects the first parse error so Load can stay linear.
type envReader struct{ err error }

func (r *envReader) int(key string, def int) int {
	v, err := getenvInt(key, def)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *envReader) float(key string, def float64) float64 {
	v, err := getenvFloat(key, def)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v, err := getenvDuration(key, def)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

// Load reads the environment and returns a validated Config.
func Load() (Config, error) {
	r := &envReader{}
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8081"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBMaxConns:    r.int("DB_MAX_CONNS", 4),

		Source: SourceConfig{
			BaseURL:    strings.TrimRight(getenv("SOURCE_BASE_URL", "https://prod-container.trueprodigyapi.com"), "/"),
			SearchPath: getenv("SOURCE_SEARCH_PATH", "/public/property/searchfulltext"),
			Year:       getenv("SOURCE_YEAR", strconv.Itoa(time.Now().Year())),
			PageSize:   r.int("SOURCE_PAGE_SIZE", 1000),
			MaxPages:   r.int("SOURCE_MAX_PAGES", 50),
			Timeout:    r.duration("SOURCE_TIMEOUT", 30*time.Second),
			RPS:        r.float("SOURCE_RPS", 2),
			Attempts:   r.int("COLLECT_ATTEMPTS", 3),
			Backoff:    r.duration("COLLECT_BACKOFF", time.Second),
		},

		Credential: CredentialConfig{
			StaticToken:     os.Getenv("CREDENTIAL_STATIC_TOKEN"),
			CaptureURL:      os.Getenv("CREDENTIAL_CAPTURE_URL"),
			CaptureMatch:    getenv("CREDENTIAL_CAPTURE_MATCH", "trueprodigyapi.com"),
			CaptureInput:    os.Getenv("CREDENTIAL_CAPTURE_INPUT"),
			CaptureTimeout:  r.duration("CREDENTIAL_CAPTURE_TIMEOUT", 45*time.Second),
			RefreshInterval: r.duration("CREDENTIAL_REFRESH_INTERVAL", 0),
			RefreshCron:     os.Getenv("CREDENTIAL_REFRESH_CRON"),
		},

		Jobs: JobsConfig{
			Concurrency: r.int("WORKER_CONCURRENCY", 2),
			Attempts:    r.int("JOB_ATTEMPTS", 3),
			Backoff:     r.duration("JOB_BACKOFF", 5*time.Second),
			Timeout:     r.duration("JOB_TIMEOUT", 10*time.Minute),
			TermSpacing: r.duration("TERM_SPACING", 10*time.Minute),
			ChunkSize:   r.int("PERSIST_CHUNK_SIZE", 500),
		},

		Generator: GeneratorConfig{
			VocabFile:      os.Getenv("GENERATOR_VOCAB_FILE"),
			ReloadInterval: r.duration("CORPUS_RELOAD_INTERVAL", time.Minute),
		},

		Orchestrator: OrchestratorConfig{
			Target:     r.int("ORCHESTRATOR_TARGET", 0),
			MaxBacklog: r.int("ORCHESTRATOR_MAX_BACKLOG", 50),
			Batch:      r.int("ORCHESTRATOR_BATCH", 10),
			Tick:       r.duration("ORCHESTRATOR_TICK", 15*time.Second),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}
	// Default to a 4 minute interval only when no cron expression was given.
	if cfg.Credential.RefreshInterval == 0 && cfg.Credential.RefreshCron == "" {
		cfg.Credential.RefreshInterval = 4 * time.Minute
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.Credential.RefreshInterval > 0 && c.Credential.RefreshCron != "" {
		return fmt.Errorf("CREDENTIAL_REFRESH_INTERVAL and CREDENTIAL_REFRESH_CRON are mutually exclusive")
	}
	if c.Jobs.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Jobs.Concurrency)
	}
	if c.Jobs.Attempts < 1 {
		return fmt.Errorf("JOB_ATTEMPTS must be at least 1, got %d", c.Jobs.Attempts)
	}
	if c.Jobs.ChunkSize < 1 {
		return fmt.Errorf("PERSIST_CHUNK_SIZE must be at least 1, got %d", c.Jobs.ChunkSize)
	}
	if c.Source.PageSize < 1 || c.Source.MaxPages < 1 {
		return fmt.Errorf("SOURCE_PAGE_SIZE and SOURCE_MAX_PAGES must be positive")
	}
	if c.Source.Attempts < 1 {
		return fmt.Errorf("COLLECT_ATTEMPTS must be at least 1, got %d", c.Source.Attempts)
	}
	return nil
}

// RequireCredential is used by commands that call the external source.
func (c Config) RequireCredential() error {
	if c.Credential.StaticToken == "" && c.Credential.CaptureURL == "" {
		return fmt.Errorf("one of CREDENTIAL_STATIC_TOKEN or CREDENTIAL_CAPTURE_URL is required")
	}
	return nil
}

// RequireDatabase is used by commands that touch Postgres.
func (c Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
