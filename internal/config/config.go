package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvRunName         = "RUN_NAME"
	EnvPlatform        = "MOSAICML_PLATFORM"
	EnvAccessTokenFile = "MOSAICML_ACCESS_TOKEN_FILE"
	EnvAPIKey          = "MOSAICML_API_KEY"
	EnvAPIEndpoint     = "MOSAICML_API_ENDPOINT"
	EnvRank            = "RANK"
	EnvLogInterval     = "TRAINHOOKS_LOG_INTERVAL"
	EnvIgnoreKeys      = "TRAINHOOKS_IGNORE_KEYS"
	EnvMetadataDSN     = "TRAINHOOKS_METADATA_DSN"

	defaultAPIEndpoint = "https://api.mosaicml.com"
	defaultLogInterval = 60 * time.Second
)

type Config struct {
	Platform    PlatformConfig    `yaml:"platform"`
	EvalOutput  EvalOutputConfig  `yaml:"eval_output"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
}

type PlatformConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RunName         string        `yaml:"run_name"`
	Rank            int           `yaml:"rank"`
	Endpoint        string        `yaml:"endpoint"`
	AccessTokenFile string        `yaml:"access_token_file"`
	APIKey          string        `yaml:"-"`
	MetadataDSN     string        `yaml:"metadata_dsn"`
	LogInterval     time.Duration `yaml:"log_interval"`
	IgnoreKeys      []string      `yaml:"ignore_keys"`
}

type EvalOutputConfig struct {
	Enabled            bool   `yaml:"enabled"`
	PrintOnlyIncorrect bool   `yaml:"print_only_incorrect"`
	SubsetSample       int    `yaml:"subset_sample"`
	OutputDirectory    string `yaml:"output_directory"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	interval, err := parseDurationEnv(EnvLogInterval, defaultLogInterval)
	if err != nil {
		return nil, err
	}
	rank, err := parseIntEnv(EnvRank, 0)
	if err != nil {
		return nil, err
	}

	return &Config{
		Platform: PlatformConfig{
			Enabled:         parseBool(os.Getenv(EnvPlatform), false),
			RunName:         strings.TrimSpace(os.Getenv(EnvRunName)),
			Rank:            rank,
			Endpoint:        firstNonEmpty(strings.TrimSpace(os.Getenv(EnvAPIEndpoint)), defaultAPIEndpoint),
			AccessTokenFile: strings.TrimSpace(os.Getenv(EnvAccessTokenFile)),
			APIKey:          strings.TrimSpace(os.Getenv(EnvAPIKey)),
			MetadataDSN:     strings.TrimSpace(os.Getenv(EnvMetadataDSN)),
			LogInterval:     interval,
			IgnoreKeys:      splitList(os.Getenv(EnvIgnoreKeys)),
		},
		EvalOutput: EvalOutputConfig{
			SubsetSample: -1,
		},
		ObjectStore: loadObjectStoreConfig(),
	}, nil
}

// LoadFile applies a YAML overlay on top of the environment configuration.
// Secrets are never read from the file.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Platform.LogInterval <= 0 {
		cfg.Platform.LogInterval = defaultLogInterval
	}
	return cfg, nil
}

func loadObjectStoreConfig() ObjectStoreConfig {
	return ObjectStoreConfig{
		Endpoint:  strings.TrimSpace(os.Getenv("OBJECT_STORE_S3_ENDPOINT")),
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("OBJECT_STORE_S3_REGION")), strings.TrimSpace(os.Getenv("AWS_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("OBJECT_STORE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("OBJECT_STORE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))),
		UseSSL:    parseBool(os.Getenv("OBJECT_STORE_S3_USE_SSL"), true),
	}
}

// parseDurationEnv accepts Go durations ("90s") or a bare number of seconds.
func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func parseBool(raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
