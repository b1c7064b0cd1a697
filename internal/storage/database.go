// Package storage opens the SQL database backing the persisted allow-list.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const pingTimeout = 5 * time.Second

// schema lists the DDL applied by Migrate, per normalized driver name.
var schema = map[string][]string{
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS allowed_users (
			user_id TEXT PRIMARY KEY,
			note TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS allowed_users (
			user_id VARCHAR(64) NOT NULL,
			note VARCHAR(255) NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			PRIMARY KEY (user_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}

// Driver normalizes a configured database name to a registered sql driver.
func Driver(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", name)
	}
}

// Open connects to the database configured under cfg.Databases[name] and
// verifies the connection.
func Open(ctx context.Context, name string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[name]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", name)
	}
	driver, err := Driver(name)
	if err != nil {
		return nil, err
	}
	dsn, err := dataSource(driver, dbCfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// one connection keeps ":memory:" databases shared and serializes writers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return db, nil
}

func dataSource(driver string, c config.DatabaseConfig) (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	if driver == "sqlite3" {
		return "", fmt.Errorf("sqlite dsn must be provided")
	}
	if c.Host == "" || c.DBName == "" {
		return "", fmt.Errorf("mysql needs either dsn or host and db_name")
	}
	port := c.Port
	if port == 0 {
		port = 3306
	}
	params := c.Params
	if params == "" {
		params = "parseTime=true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.Username, c.Password, c.Host, port, c.DBName, params), nil
}

// Migrate ensures the required tables are present.
func Migrate(ctx context.Context, db *sql.DB, name string) error {
	driver, err := Driver(name)
	if err != nil {
		return err
	}
	for _, stmt := range schema[driver] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
