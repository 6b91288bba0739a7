package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    probability REAL NOT NULL,
    risk_level TEXT NOT NULL,
    confidence_score REAL NOT NULL,
    suggested_action TEXT NOT NULL,
    source TEXT NOT NULL,
    model_version TEXT NOT NULL,
    top_features TEXT NOT NULL,
    tenure INTEGER NOT NULL DEFAULT 0,
    monthly_charges REAL NOT NULL DEFAULT 0,
    contract TEXT NOT NULL DEFAULT '',
    internet_service TEXT NOT NULL DEFAULT '',
    online_security TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_probability ON predictions(probability);
CREATE INDEX IF NOT EXISTS idx_predictions_risk ON predictions(risk_level);
CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
`

// schemaPlaybookRules defines the retention playbook table.
const schemaPlaybookRules = `
CREATE TABLE IF NOT EXISTS playbook_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_playbook_rules_priority ON playbook_rules(priority);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPredictions,
		schemaPlaybookRules,
	}
}
