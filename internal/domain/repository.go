package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction projections backing the velocity windows.
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	// CountAndSumByUser counts and sums the user's velocity-eligible
	// transactions with timestamp in [from, to).
	CountAndSumByUser(ctx context.Context, userID string, from, to time.Time) (int64, float64, error)

	// Risk records. CreateRiskRecord returns ErrConflict when a record
	// for the same transaction already exists; callers re-fetch and
	// fall through to UpdateRiskRecord.
	CreateRiskRecord(ctx context.Context, rec *RiskRecord) error
	UpdateRiskRecord(ctx context.Context, rec *RiskRecord) error
	GetRiskRecord(ctx context.Context, id string) (*RiskRecord, error)
	GetRiskRecordByTransaction(ctx context.Context, txID string) (*RiskRecord, error)
	QueryRiskRecords(ctx context.Context, filter RiskRecordFilter, page, limit int) ([]*RiskRecord, int64, error)
	CountRiskRecords(ctx context.Context, filter RiskRecordFilter) (int64, error)
	AverageRiskScore(ctx context.Context, filter RiskRecordFilter) (float64, error)
	RiskRecordsInRange(ctx context.Context, from, to time.Time) ([]*RiskRecord, error)

	// Device trust records, unique per (userID, deviceKey).
	GetDeviceTrust(ctx context.Context, userID, deviceKey string) (*DeviceTrustRecord, error)
	SaveDeviceTrust(ctx context.Context, rec *DeviceTrustRecord) error

	// Expression rule configurations.
	SaveExpressionRule(ctx context.Context, rule *ExpressionRule) error
	ListExpressionRules(ctx context.Context) ([]*ExpressionRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"-"`
}
