package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang/glog"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"feedsync/pkg/database/migrations"
)

func Connect(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Serverless PG: keep pool small, connections short-lived
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	glog.Infof("[DB] PostgreSQL connection established")
	return db, nil
}

// Migrate brings the schema up to date with the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	glog.Infof("[DB] schema up to date")
	return nil
}

type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) { glog.Fatalf("[DB] "+format, v...) }
func (gooseLogger) Printf(format string, v ...interface{}) { glog.Infof("[DB] "+format, v...) }
