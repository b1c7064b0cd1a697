package storage

import (
	"context"
	"path/filepath"
	"testing"

	"relaybot/internal/config"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite": {DSN: filepath.Join(t.TempDir(), "relay.db")},
	}}
	db, err := Open(ctx, "sqlite", cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	// migrating twice is a no-op
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db, "sqlite"); err != nil {
			t.Fatalf("migrate #%d: %v", i, err)
		}
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM allowed_users`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3":  {},
		"postgres": {DSN: "postgres://x"},
	}}
	for _, name := range []string{"missing", "sqlite3", "postgres"} {
		if _, err := Open(ctx, name, cfg); err == nil {
			t.Fatalf("expected error opening %s", name)
		}
	}
}

func TestDataSource(t *testing.T) {
	got, err := dataSource("mysql", config.DatabaseConfig{
		Username: "bot", Password: "pw", Host: "db", DBName: "relay",
	})
	if err != nil {
		t.Fatalf("dataSource: %v", err)
	}
	if want := "bot:pw@tcp(db:3306)/relay?parseTime=true"; got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
	if _, err := dataSource("mysql", config.DatabaseConfig{Host: "db"}); err == nil {
		t.Fatalf("expected error without db_name")
	}
}
