package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres:// driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // file:// source
)

// Migration directions.
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// ErrInvalidDirection is returned for anything other than up or down.
var ErrInvalidDirection = errors.New(`direction must be "up" or "down"`)

// Migrate applies every pending migration (up) or rolls back steps migrations (down) from the
// migrations directory at dir. ErrNoChange is not an error.
func Migrate(databaseURL, dir, direction string, steps int) (changed bool, err error) {
	if direction != MigrateUp && direction != MigrateDown {
		return false, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}

	if abs, absErr := filepath.Abs(dir); absErr == nil {
		dir = abs
	}
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return false, fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == MigrateUp {
		err = m.Up()
	} else {
		if steps <= 0 {
			steps = 1
		}
		err = m.Steps(-steps)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("migrate %s: %w", direction, err)
	}
	return true, nil
}

// MigrationVersion reports the applied version and whether it is dirty. An empty schema is
// version 0.
func MigrationVersion(databaseURL, dir string) (version uint, dirty bool, err error) {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return 0, false, fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get migration version: %w", err)
	}
	return version, dirty, nil
}
