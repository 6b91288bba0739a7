// Package config loads the Kestrel configuration from a tier preset, an
// optional YAML file and KESTREL_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "KESTREL"

	// EnvConfigFile names the YAML file read when Load gets an empty path.
	EnvConfigFile = "KESTREL_CONFIG"
)

// Load builds the configuration. path may be empty, in which case
// KESTREL_CONFIG is consulted; no file at all is valid.
//
// Environment keys are the config keys upper-cased with dots replaced by
// underscores, with camel case either split or kept:
// KESTREL_SCORING_REMOTE_URL and KESTREL_SCORING_REMOTEURL both set
// scoring.remoteUrl.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	preset := domain.DefaultConfig()
	if tierOf(v) == domain.TierPro {
		preset = domain.ProConfig()
	}

	for key, value := range flatten(preset) {
		v.SetDefault(key, value)
		if err := v.BindEnv(append([]string{key}, envNames(key)...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Errorf("unknown tier %q", cfg.Tier))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", cfg.Server.Port))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository.driver %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache.type %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "", "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported eventBus.type %q", cfg.EventBus.Type))
	}
	if cfg.Scoring.Timeout < 0 {
		errs = append(errs, fmt.Errorf("scoring.timeout must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func tierOf(v *viper.Viper) domain.Tier {
	if t := os.Getenv(EnvPrefix + "_TIER"); t != "" {
		return domain.Tier(strings.ToLower(t))
	}
	return domain.Tier(strings.ToLower(v.GetString("tier")))
}

// envNames returns the accepted environment variables for a config key.
func envNames(key string) []string {
	var split strings.Builder
	var prev rune
	for _, r := range key {
		if unicode.IsUpper(r) && unicode.IsLower(prev) {
			split.WriteByte('_')
		}
		split.WriteRune(r)
		prev = r
	}

	replacer := strings.NewReplacer(".", "_")
	snake := EnvPrefix + "_" + strings.ToUpper(replacer.Replace(split.String()))
	flat := EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
	if snake == flat {
		return []string{snake}
	}
	return []string{snake, flat}
}

// flatten lists every leaf setting of cfg under its viper key.
func flatten(cfg *domain.Config) map[string]any {
	return map[string]any{
		"tier": string(cfg.Tier),

		"server.host":         cfg.Server.Host,
		"server.port":         cfg.Server.Port,
		"server.readTimeout":  cfg.Server.ReadTimeout,
		"server.writeTimeout": cfg.Server.WriteTimeout,

		"scoring.remoteUrl": cfg.Scoring.RemoteURL,
		"scoring.timeout":   cfg.Scoring.Timeout,

		"repository.driver":           cfg.Repository.Driver,
		"repository.sqlitePath":       cfg.Repository.SQLitePath,
		"repository.postgresHost":     cfg.Repository.PostgresHost,
		"repository.postgresPort":     cfg.Repository.PostgresPort,
		"repository.postgresUser":     cfg.Repository.PostgresUser,
		"repository.postgresPassword": cfg.Repository.PostgresPassword,
		"repository.postgresDB":       cfg.Repository.PostgresDB,
		"repository.postgresSSLMode":  cfg.Repository.PostgresSSLMode,
		"repository.maxOpenConns":     cfg.Repository.MaxOpenConns,
		"repository.maxIdleConns":     cfg.Repository.MaxIdleConns,
		"repository.connMaxLifetime":  cfg.Repository.ConnMaxLifetime,

		"cache.type":           cfg.Cache.Type,
		"cache.localMaxSize":   cfg.Cache.LocalMaxSize,
		"cache.localTTL":       cfg.Cache.LocalTTL,
		"cache.redisAddr":      cfg.Cache.RedisAddr,
		"cache.redisPassword":  cfg.Cache.RedisPassword,
		"cache.redisDB":        cfg.Cache.RedisDB,
		"cache.enableTwoPhase": cfg.Cache.EnableTwoPhase,
		"cache.counterWindow":  cfg.Cache.CounterWindow,

		"eventBus.type":              cfg.EventBus.Type,
		"eventBus.channelBufferSize": cfg.EventBus.ChannelBufferSize,
		"eventBus.natsUrl":           cfg.EventBus.NATSUrl,
		"eventBus.natsToken":         cfg.EventBus.NATSToken,
		"eventBus.natsMaxReconnects": cfg.EventBus.NATSMaxReconnects,
		"eventBus.natsReconnectWait": cfg.EventBus.NATSReconnectWait,
		"eventBus.queueGroup":        cfg.EventBus.QueueGroup,

		"worker.enabled": cfg.Worker.Enabled,

		"logging.level":  cfg.Logging.Level,
		"logging.format": cfg.Logging.Format,

		"tracing.enabled":      cfg.Tracing.Enabled,
		"tracing.serviceName":  cfg.Tracing.ServiceName,
		"tracing.exporterType": cfg.Tracing.ExporterType,
		"tracing.endpoint":     cfg.Tracing.Endpoint,
	}
}
