// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var openers = map[string]func(domain.RepositoryConfig) (*sql.DB, error){
	"sqlite":   openSQLite,
	"postgres": openPostgres,
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const predictionColumns = `id, label, probability, risk_level, confidence_score,
	suggested_action, source, model_version, top_features, tenure,
	monthly_charges, contract, internet_service, online_security, created_at`

// SavePrediction appends a prediction record and returns its ID.
func (r *SQLRepository) SavePrediction(ctx context.Context, rec *domain.PredictionRecord) (string, error) {
	if rec == nil || rec.ID == "" {
		return "", fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}

	topFeatures, err := json.Marshal(rec.TopFeatures)
	if err != nil {
		return "", fmt.Errorf("failed to encode top features: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT INTO predictions (` + predictionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.Label, rec.Probability, rec.RiskLevel, rec.ConfidenceScore,
		rec.SuggestedAction, rec.Source, rec.ModelVersion, string(topFeatures), rec.Tenure,
		rec.MonthlyCharges, rec.Contract, rec.InternetService, rec.OnlineSecurity, createdAt.UTC(),
	)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// CountPredictions returns the number of stored records.
func (r *SQLRepository) CountPredictions(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}

// ListPredictions returns every stored record, oldest first.
func (r *SQLRepository) ListPredictions(ctx context.Context) ([]*domain.PredictionRecord, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions ORDER BY created_at, id`
	return r.queryPredictions(ctx, query)
}

// TopPredictions returns up to n records with the highest probability.
func (r *SQLRepository) TopPredictions(ctx context.Context, n int) ([]*domain.PredictionRecord, error) {
	if n <= 0 {
		return []*domain.PredictionRecord{}, nil
	}
	query := `SELECT ` + predictionColumns + ` FROM predictions
		ORDER BY probability DESC, created_at DESC
		LIMIT ?`
	return r.queryPredictions(ctx, r.rebind(query), n)
}

// CountByRiskLevel groups record counts by the stored risk label.
func (r *SQLRepository) CountByRiskLevel(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT risk_level, COUNT(*) FROM predictions GROUP BY risk_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[level] = n
	}
	return counts, rows.Err()
}

// ClearPredictions removes every prediction record.
func (r *SQLRepository) ClearPredictions(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM predictions`)
	return err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*domain.PredictionRecord, error) {
	var (
		rec         domain.PredictionRecord
		topFeatures string
	)
	if err := row.Scan(
		&rec.ID, &rec.Label, &rec.Probability, &rec.RiskLevel, &rec.ConfidenceScore,
		&rec.SuggestedAction, &rec.Source, &rec.ModelVersion, &topFeatures, &rec.Tenure,
		&rec.MonthlyCharges, &rec.Contract, &rec.InternetService, &rec.OnlineSecurity, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topFeatures), &rec.TopFeatures); err != nil {
		return nil, fmt.Errorf("failed to parse top features for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func (r *SQLRepository) queryPredictions(ctx context.Context, query string, args ...any) ([]*domain.PredictionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.PredictionRecord{}
	for rows.Next() {
		rec, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const (
	ruleColumns = `id, name, description, expression, action, priority, enabled, created_at, updated_at`

	upsertRule = `INSERT INTO playbook_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			action = excluded.action,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`
)

func scanRule(row rowScanner) (*domain.PlaybookRule, error) {
	var (
		rule        domain.PlaybookRule
		description sql.NullString
		enabled     int
	)
	if err := row.Scan(
		&rule.ID, &rule.Name, &description, &rule.Expression, &rule.Action,
		&rule.Priority, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Description = description.String
	rule.Enabled = enabled == 1
	return &rule, nil
}

// SavePlaybookRule inserts or updates a playbook rule. CreatedAt is kept
// on update.
func (r *SQLRepository) SavePlaybookRule(ctx context.Context, rule *domain.PlaybookRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	_, err := r.db.ExecContext(ctx, r.rebind(upsertRule),
		rule.ID, rule.Name, rule.Description, rule.Expression, rule.Action,
		rule.Priority, enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetPlaybookRule returns ErrNotFound for an unknown ID.
func (r *SQLRepository) GetPlaybookRule(ctx context.Context, ruleID string) (*domain.PlaybookRule, error) {
	query := r.rebind(`SELECT ` + ruleColumns + ` FROM playbook_rules WHERE id = ?`)

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListPlaybookRules returns every rule in evaluation order.
func (r *SQLRepository) ListPlaybookRules(ctx context.Context) ([]*domain.PlaybookRule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM playbook_rules ORDER BY priority, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []*domain.PlaybookRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeletePlaybookRule returns ErrNotFound when nothing was deleted.
func (r *SQLRepository) DeletePlaybookRule(ctx context.Context, ruleID string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM playbook_rules WHERE id = ?`), ruleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c != '?' {
			b.WriteRune(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
