// Package config provides configuration loading and validation for vacuumd.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a vacuumd process.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Search        SearchConfig        `yaml:"search"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Lease         LeaseConfig         `yaml:"lease"`
	Vacuum        VacuumConfig        `yaml:"vacuum"`
	Report        ReportConfig        `yaml:"report"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type StoreConfig struct {
	DSN      string `yaml:"dsn" env:"VACUUM_STORE_DSN"`
	Table    string `yaml:"table" env:"VACUUM_STORE_TABLE"`
	MaxConns int32  `yaml:"maxConns" env:"VACUUM_STORE_MAX_CONNS"`
}

type SearchConfig struct {
	Addresses   []string `yaml:"addresses" env:"VACUUM_SEARCH_ADDRESSES"`
	IndexPrefix string   `yaml:"indexPrefix" env:"VACUUM_SEARCH_INDEX_PREFIX"`
	Username    string   `yaml:"username" env:"VACUUM_SEARCH_USERNAME"`
	Password    string   `yaml:"password" env:"VACUUM_SEARCH_PASSWORD"`
	APIKey      string   `yaml:"apiKey" env:"VACUUM_SEARCH_API_KEY"`
}

// Checkpoint backends.
const (
	CheckpointMemory = "memory"
	CheckpointOxia   = "oxia"
	CheckpointRedis  = "redis"
)

type CheckpointConfig struct {
	Backend       string `yaml:"backend" env:"VACUUM_CHECKPOINT_BACKEND"`
	OxiaEndpoint  string `yaml:"oxiaEndpoint" env:"VACUUM_OXIA_ENDPOINT"`
	OxiaNamespace string `yaml:"oxiaNamespace" env:"VACUUM_OXIA_NAMESPACE"`
	RedisAddr     string `yaml:"redisAddr" env:"VACUUM_REDIS_ADDR"`
	RedisPassword string `yaml:"redisPassword" env:"VACUUM_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redisDb" env:"VACUUM_REDIS_DB"`
	RedisHash     string `yaml:"redisHash" env:"VACUUM_REDIS_HASH"`
}

// LeaseConfig enables per-scope leases. Leases live in Oxia, so they need
// the oxia endpoint of the checkpoint section.
type LeaseConfig struct {
	Enabled               bool `yaml:"enabled" env:"VACUUM_LEASE_ENABLED"`
	SessionTimeoutSeconds int  `yaml:"sessionTimeoutSeconds" env:"VACUUM_LEASE_SESSION_TIMEOUT"`
}

type VacuumConfig struct {
	Continuous           bool `yaml:"continuous" env:"VACUUM_CONTINUOUS"`
	SleepSeconds         int  `yaml:"sleepSeconds" env:"VACUUM_SLEEP_SECONDS"`
	PageSize             int  `yaml:"pageSize" env:"VACUUM_PAGE_SIZE"`
	BulkSize             int  `yaml:"bulkSize" env:"VACUUM_BULK_SIZE"`
	MaxInFlight          int  `yaml:"maxInFlight" env:"VACUUM_MAX_IN_FLIGHT"`
	ScopeConcurrency     int  `yaml:"scopeConcurrency" env:"VACUUM_SCOPE_CONCURRENCY"`
	ConfirmBeforeDelete  bool `yaml:"confirmBeforeDelete" env:"VACUUM_CONFIRM_BEFORE_DELETE"`
	DropOrphanSubIndexes bool `yaml:"dropOrphanSubIndexes" env:"VACUUM_DROP_ORPHAN_SUB_INDEXES"`
	HotCacheSize         int  `yaml:"hotCacheSize" env:"VACUUM_HOT_CACHE_SIZE"`
	ScopeCacheSize       int  `yaml:"scopeCacheSize" env:"VACUUM_SCOPE_CACHE_SIZE"`
}

// Sleep is the pause between continuous passes.
func (v VacuumConfig) Sleep() time.Duration {
	return time.Duration(v.SleepSeconds) * time.Second
}

type ReportConfig struct {
	KafkaBrokers []string `yaml:"kafkaBrokers" env:"VACUUM_KAFKA_BROKERS"`
	KafkaTopic   string   `yaml:"kafkaTopic" env:"VACUUM_KAFKA_TOPIC"`
	ClientID     string   `yaml:"clientId" env:"VACUUM_KAFKA_CLIENT_ID"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"VACUUM_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"VACUUM_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"VACUUM_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Table:    "objects",
			MaxConns: 8,
		},
		Search: SearchConfig{
			Addresses: []string{"http://localhost:9200"},
		},
		Checkpoint: CheckpointConfig{
			Backend:       CheckpointMemory,
			OxiaEndpoint:  "localhost:6648",
			OxiaNamespace: "vacuum",
		},
		Lease: LeaseConfig{
			SessionTimeoutSeconds: 15,
		},
		Vacuum: VacuumConfig{
			SleepSeconds:         600,
			PageSize:             1000,
			BulkSize:             10,
			MaxInFlight:          2,
			ScopeConcurrency:     1,
			DropOrphanSubIndexes: true,
			HotCacheSize:         10000,
			ScopeCacheSize:       10000,
		},
		Report: ReportConfig{
			KafkaTopic: "vacuum-summaries",
			ClientID:   "vacuumd",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the defaults overlaid with VACUUM_* environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromPath reads a YAML file over the defaults, then applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Table == "" {
		errs = append(errs, errors.New("store.table is required"))
	}
	if len(c.Search.Addresses) == 0 {
		errs = append(errs, errors.New("search.addresses is required"))
	}
	switch c.Checkpoint.Backend {
	case CheckpointMemory:
	case CheckpointOxia:
		if c.Checkpoint.OxiaEndpoint == "" {
			errs = append(errs, errors.New("checkpoint.oxiaEndpoint is required for the oxia backend"))
		}
	case CheckpointRedis:
		if c.Checkpoint.RedisAddr == "" {
			errs = append(errs, errors.New("checkpoint.redisAddr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is not one of memory, oxia, redis", c.Checkpoint.Backend))
	}
	if c.Lease.Enabled {
		if c.Checkpoint.OxiaEndpoint == "" {
			errs = append(errs, errors.New("lease.enabled requires checkpoint.oxiaEndpoint"))
		}
		if c.Lease.SessionTimeoutSeconds < 5 {
			errs = append(errs, errors.New("lease.sessionTimeoutSeconds must be at least 5"))
		}
	}
	if c.Vacuum.PageSize <= 0 {
		errs = append(errs, errors.New("vacuum.pageSize must be positive"))
	}
	if c.Vacuum.BulkSize <= 0 {
		errs = append(errs, errors.New("vacuum.bulkSize must be positive"))
	}
	if c.Vacuum.MaxInFlight <= 0 {
		errs = append(errs, errors.New("vacuum.maxInFlight must be positive"))
	}
	if c.Vacuum.ScopeConcurrency <= 0 {
		errs = append(errs, errors.New("vacuum.scopeConcurrency must be positive"))
	}
	if c.Vacuum.SleepSeconds < 0 {
		errs = append(errs, errors.New("vacuum.sleepSeconds must not be negative"))
	}
	if len(c.Report.KafkaBrokers) > 0 && c.Report.KafkaTopic == "" {
		errs = append(errs, errors.New("report.kafkaTopic is required when brokers are set"))
	}
	switch c.Observability.LogFormat {
	case "json", "console", "text":
	default:
		errs = append(errs, fmt.Errorf("observability.logFormat %q is not one of json, console, text", c.Observability.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// applyEnv sets every field tagged `env` whose variable is set. Lists are
// comma separated.
func applyEnv(v reflect.Value, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, lookup); err != nil {
				return err
			}
			continue
		}
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
