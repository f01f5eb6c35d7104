// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/loadtrace/backend/pkg/log"
)

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// supportedDriverVersion is the schema migration this binary was built
// against. checkDBVersion refuses to run against a database with a newer
// schema version than this, guarding against a
// downgraded binary silently misreading data it cannot understand.
const supportedDriverVersion = 1

// checkDBVersion opens (or creates) the migration source for driver and
// migrates the database up to supportedDriverVersion. It is called once
// from Connect, before the connection is handed out.
func checkDBVersion(driver string, db *sql.DB) error {
	var dbDriver database.Driver
	var subdir string
	var err error

	switch driver {
	case "sqlite3":
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
		subdir = "sqlite3"
	case "pgx":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
		subdir = "postgres"
	default:
		return fmt.Errorf("no migration source for driver: %s", driver)
	}
	if err != nil {
		return fmt.Errorf("repository: opening migration driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "migrations/"+subdir)
	if err != nil {
		return fmt.Errorf("repository: opening migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("repository: building migrator: %w", err)
	}

	if v, _, verr := m.Version(); verr == nil && v > supportedDriverVersion {
		return fmt.Errorf("repository: database schema version %d is newer than supported version %d", v, supportedDriverVersion)
	}

	if err := m.Migrate(supportedDriverVersion); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("repository: migrating schema: %w", err)
	}

	log.Infof("repository: schema at version %d (%s)", supportedDriverVersion, driver)
	return nil
}
