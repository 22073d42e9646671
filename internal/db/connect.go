// Package db opens the sheetsync job store and manages its schema.
package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/sheetsync/internal/dialect"
)

// Dialector returns the GORM dialector for a store connection URL.
func Dialector(rawURL string) (gorm.Dialector, error) {
	cfg, err := dialect.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	switch cfg.Dialect.(type) {
	case dialect.MySQL:
		return mysql.Open(cfg.DSN), nil
	case dialect.Postgres:
		return postgres.Open(cfg.DSN), nil
	case dialect.SQLite:
		return sqlite.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("db: no store driver for dialect %s", cfg.Dialect.Name())
}

// Connect opens a GORM connection to the job store at rawURL.
func Connect(rawURL string) (*gorm.DB, error) {
	d, err := Dialector(rawURL)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", dialect.Redact(rawURL), err)
	}
	return db, nil
}
