// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Prediction records are append-only; the only removal is ClearPredictions.
type Repository interface {
	// Prediction records
	SavePrediction(ctx context.Context, rec *PredictionRecord) (string, error)
	CountPredictions(ctx context.Context) (int64, error)
	ListPredictions(ctx context.Context) ([]*PredictionRecord, error)
	TopPredictions(ctx context.Context, n int) ([]*PredictionRecord, error)
	CountByRiskLevel(ctx context.Context) (map[string]int64, error)
	ClearPredictions(ctx context.Context) error

	// Retention playbook rules
	SavePlaybookRule(ctx context.Context, rule *PlaybookRule) error
	GetPlaybookRule(ctx context.Context, ruleID string) (*PlaybookRule, error)
	ListPlaybookRules(ctx context.Context) ([]*PlaybookRule, error)
	DeletePlaybookRule(ctx context.Context, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresUser"`
	PostgresPassword string `mapstructure:"postgresPassword"`
	PostgresDB       string `mapstructure:"postgresDB"`
	PostgresSSLMode  string `mapstructure:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}
