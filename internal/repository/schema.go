package repository

// Schema definitions for the Peregrine database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, timestamp);
`

// The unique index on transaction_id is the idempotency anchor: concurrent
// evaluations of the same transaction race on the insert, the loser gets a
// uniqueness violation and falls through to the update path.
const schemaRiskRecords = `
CREATE TABLE IF NOT EXISTS risk_records (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL UNIQUE,
    user_id TEXT,
    risk_score REAL NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL DEFAULT 'LOW',
    is_flagged INTEGER NOT NULL DEFAULT 0,
    flagged_at TIMESTAMP,
    flag_reason TEXT,
    risk_factors TEXT,
    evaluation_log TEXT,
    review_status TEXT NOT NULL DEFAULT 'PENDING_REVIEW',
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    admin_notes TEXT,
    overridden INTEGER NOT NULL DEFAULT 0,
    overridden_by TEXT,
    override_reason TEXT,
    override_level TEXT,
    velocity TEXT,
    device TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_records_flagged ON risk_records(is_flagged, overridden);
CREATE INDEX IF NOT EXISTS idx_risk_records_review ON risk_records(review_status);
CREATE INDEX IF NOT EXISTS idx_risk_records_created ON risk_records(created_at);
CREATE INDEX IF NOT EXISTS idx_risk_records_user ON risk_records(user_id);
`

const schemaDeviceTrust = `
CREATE TABLE IF NOT EXISTS device_trust (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    device_key TEXT NOT NULL,
    trust_score INTEGER NOT NULL DEFAULT 50,
    trust_level TEXT NOT NULL DEFAULT 'neutral',
    manually_trusted INTEGER NOT NULL DEFAULT 0,
    manually_risky INTEGER NOT NULL DEFAULT 0,
    failed_login_count INTEGER NOT NULL DEFAULT 0,
    last_ip TEXT,
    last_user_agent TEXT,
    last_country TEXT,
    last_city TEXT,
    last_lat REAL NOT NULL DEFAULT 0,
    last_lng REAL NOT NULL DEFAULT 0,
    has_geo INTEGER NOT NULL DEFAULT 0,
    last_login_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE(user_id, device_key)
);

CREATE INDEX IF NOT EXISTS idx_device_trust_user ON device_trust(user_id);
`

const schemaExpressionRules = `
CREATE TABLE IF NOT EXISTS expression_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expression_rules_enabled ON expression_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRiskRecords,
		schemaDeviceTrust,
		schemaExpressionRules,
	}
}
