package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	postgresSessionTimeZone = "UTC"
	postgresMaxOpenConns    = 25
)

// openPostgres opens a pgx-backed pool whose sessions run in UTC.
func openPostgres(dsn string) (*gorm.DB, error) {
	cfg, errParse := pgx.ParseConfig(dsn)
	if errParse != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", errParse)
	}
	cfg.RuntimeParams["timezone"] = postgresSessionTimeZone
	sqlDB := stdlib.OpenDB(*cfg, stdlib.OptionAfterConnect(scanTimestampsInUTC))

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: open postgres: %w", err)
	}
	if errPool := poolLimits(sqlDB, postgresMaxOpenConns); errPool != nil {
		_ = sqlDB.Close()
		return nil, errPool
	}
	return conn, nil
}

// scanTimestampsInUTC makes timestamptz values come back in UTC regardless of time.Local.
func scanTimestampsInUTC(_ context.Context, conn *pgx.Conn) error {
	conn.TypeMap().RegisterType(&pgtype.Type{
		Name:  "timestamptz",
		OID:   pgtype.TimestamptzOID,
		Codec: &pgtype.TimestamptzCodec{ScanLocation: time.UTC},
	})
	return nil
}
