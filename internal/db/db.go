package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pingTimeout = 5 * time.Second

func init() {
	logger.Default = logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Open connects to the ledger database named by dsn. postgres:// URLs and key=value DSNs go
// to PostgreSQL through pgx; file:, sqlite:// and bare paths open a SQLite file.
//
// Timestamps are stored and scanned in UTC on both engines. Calendar days (accrual dates) are
// computed in Go from the configured accrual timezone, never by the database session.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}
	dialect, err := detectDialectFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case DialectPostgres:
		return openPostgres(dsn)
	default:
		return openSQLite(dsn)
	}
}

// detectDialectFromDSN infers the engine from the DSN shape.
func detectDialectFromDSN(dsn string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	scheme, _, hasScheme := strings.Cut(lower, "://")
	if hasScheme {
		switch scheme {
		case "postgres", "postgresql":
			return DialectPostgres, nil
		case "sqlite", "sqlite3":
			return DialectSQLite, nil
		}
		return "", fmt.Errorf("db: unsupported dsn scheme %q", scheme)
	}
	for _, key := range []string{"host=", "user=", "dbname=", "sslmode="} {
		if strings.Contains(lower, key) {
			return DialectPostgres, nil
		}
	}
	return DialectSQLite, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// poolLimits sizes the connection pool and checks the connection is alive.
func poolLimits(sqlDB *sql.DB, maxOpen int) error {
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if errPing := sqlDB.PingContext(ctx); errPing != nil {
		return fmt.Errorf("db: ping: %w", errPing)
	}
	return nil
}
