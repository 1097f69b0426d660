package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// WaitForDatabase pings the database until it answers or attempts run out.
// Containers often start the app before Postgres accepts connections.
func WaitForDatabase(dsn string, attempts int, delay time.Duration) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if attempts < 1 {
		attempts = 1
	}
	for i := 1; ; i++ {
		err = db.Ping()
		if err == nil {
			return nil
		}
		if i >= attempts {
			return fmt.Errorf("database not reachable after %d attempts: %w", attempts, err)
		}
		time.Sleep(delay)
	}
}

// RunMigrations runs SQL migrations from the given directory (e.g. "file://migrations") against the DSN.
func RunMigrations(dsn string, migrationsPath string) error {
	m, err := migrate.New(migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate.Up: %w", err)
	}
	return nil
}
