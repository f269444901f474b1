// Package config loads server configuration from environment variables,
// optionally layered over a YAML file. Env vars always win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable of the ranking server.
type Config struct {
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	DatabaseURL string `koanf:"database_url"`

	// Redis for the ranking and aggregate caches. Optional; when empty the
	// server falls back to an in-process cache.
	RedisURL string `koanf:"redis_url"`

	// Ranking
	WeightsFile        string  `koanf:"weights_file"`         // JSON blend-weight calibration file
	ColdStartThreshold int     `koanf:"cold_start_threshold"` // interactions below which behavior weights are zeroed
	RankCacheTTLSec    int     `koanf:"rank_cache_ttl_sec"`
	EngineBudgetMS     int     `koanf:"engine_budget_ms"`
	MinSimilarity      float64 `koanf:"min_similarity"`

	// Analytics monitor
	MonitorEnabled       bool `koanf:"monitor_enabled"`
	NotificationsEnabled bool `koanf:"notifications_enabled"`
}

// Validation errors.
var (
	ErrMissingDatabaseURL        = errors.New("DATABASE_URL is required")
	ErrInvalidPort               = errors.New("PORT must be a valid integer")
	ErrInvalidColdStartThreshold = errors.New("COLD_START_THRESHOLD must not be negative")
)

// Defaults for everything that is not a secret.
const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultColdStartThreshold = 5
	DefaultRankCacheTTLSec    = 300
	DefaultEngineBudgetMS     = 2000
	DefaultMonitorEnabled     = true
)

// Load builds the config from the environment plus an optional YAML file.
// It returns the config together with every validation error found, so the
// caller can report all problems at once instead of one per restart.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// RANKMIX_PORT wins over the generic PORT many hosts inject.
	port, portErr := getEnvIntOrDefaultMulti([]string{"RANKMIX_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	coldStart, coldStartErr := getEnvIntOrDefault("COLD_START_THRESHOLD", k.Int("cold_start_threshold"), DefaultColdStartThreshold)
	if coldStartErr != nil {
		loadErrs = append(loadErrs, coldStartErr)
	}

	cacheTTL, cacheTTLErr := getEnvIntOrDefault("RANK_CACHE_TTL_SEC", k.Int("rank_cache_ttl_sec"), DefaultRankCacheTTLSec)
	if cacheTTLErr != nil {
		loadErrs = append(loadErrs, cacheTTLErr)
	}

	engineBudget, engineBudgetErr := getEnvIntOrDefault("ENGINE_BUDGET_MS", k.Int("engine_budget_ms"), DefaultEngineBudgetMS)
	if engineBudgetErr != nil {
		loadErrs = append(loadErrs, engineBudgetErr)
	}

	minSimilarity, minSimilarityErr := getEnvFloatOrDefault("MIN_SIMILARITY", k.Float64("min_similarity"), 0)
	if minSimilarityErr != nil {
		loadErrs = append(loadErrs, minSimilarityErr)
	}

	cfg := &Config{
		Port:                 port,
		Env:                  getEnvOrDefaultMulti([]string{"RANKMIX_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:          getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:             getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		WeightsFile:          getEnvOrKoanf("WEIGHTS_FILE", k, "weights_file"),
		ColdStartThreshold:   coldStart,
		RankCacheTTLSec:      cacheTTL,
		EngineBudgetMS:       engineBudget,
		MinSimilarity:        minSimilarity,
		MonitorEnabled:       getEnvBoolOrDefault("MONITOR_ENABLED", k, "monitor_enabled", DefaultMonitorEnabled),
		NotificationsEnabled: getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", k, "notifications_enabled", false),
	}

	return cfg, append(loadErrs, cfg.Validate()...)
}

func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti takes the first non-empty env var from keys, then the
// file value, then the default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault errors only when the env var is set but unparseable.
// A zero in the file falls through to the default; zero values are not
// representable via YAML here.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault reads the file value first, then lets the env var
// override it. Unrecognized env values leave the previous result alone.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// Validate reports every missing or out-of-range value.
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.ColdStartThreshold < 0 {
		errs = append(errs, ErrInvalidColdStartThreshold)
	}

	return errs
}

// LogSummary renders the config for the startup log line, with credentials
// in connection URLs masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"database_url":          maskConnURL(c.DatabaseURL),
		"redis_url":             maskConnURL(c.RedisURL),
		"weights_file":          c.WeightsFile,
		"cold_start_threshold":  fmt.Sprintf("%d", c.ColdStartThreshold),
		"rank_cache_ttl_sec":    fmt.Sprintf("%d", c.RankCacheTTLSec),
		"engine_budget_ms":      fmt.Sprintf("%d", c.EngineBudgetMS),
		"min_similarity":        fmt.Sprintf("%g", c.MinSimilarity),
		"monitor_enabled":       fmt.Sprintf("%t", c.MonitorEnabled),
		"notifications_enabled": fmt.Sprintf("%t", c.NotificationsEnabled),
	}
}

// maskSecret keeps the first 4 characters when the value is long enough to
// stay unguessable, otherwise masks everything.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskConnURL hides the password of a user:password@host connection URL.
// Works for postgres:// and redis:// alike.
func maskConnURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		// No credentials embedded.
		return s
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		// Username only.
		return s
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
