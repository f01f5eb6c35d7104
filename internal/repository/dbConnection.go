// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository is the persistence layer: connection management,
// schema migrations, the job/ingestion-job model, the staging-to-final
// promotion transaction, and the SQL read path behind the metrics queries.
package repository

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/loadtrace/backend/pkg/log"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection bundles the pooled DB handle with a squirrel statement cache
// and remembers which SQL dialect (sqlite3 or postgres) it was opened for,
// since the percentile read-path queries differ per dialect.
type DBConnection struct {
	DB        *sqlx.DB
	StmtCache *squirrel.StmtCache
	Driver    string
}

// Connect opens the singleton database connection for the given driver
// ("sqlite3" or "pgx") and DSN, runs the version check, and registers the
// sqlhooks-wrapped driver so every query is logged at debug level with its
// elapsed time (see hooks.go).
func Connect(driver, dsn string) error {
	var err error
	dbConnOnce.Do(func() {
		var dbHandle *sqlx.DB

		switch driver {
		case "sqlite3":
			sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
			dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", dsn))
			if err != nil {
				return
			}
			// sqlite does not multithread; more than one connection open
			// would just mean waiting for locks.
			dbHandle.SetMaxOpenConns(1)

		case "pgx":
			sql.Register("pgxWithHooks", sqlhooks.Wrap(stdlib.GetDefaultDriver(), &Hooks{}))
			dbHandle, err = sqlx.Open("pgxWithHooks", dsn)
			if err != nil {
				return
			}
			dbHandle.SetConnMaxLifetime(3 * time.Minute)
			dbHandle.SetMaxOpenConns(10)
			dbHandle.SetMaxIdleConns(10)

		default:
			err = fmt.Errorf("unsupported database driver: %s", driver)
			return
		}

		if verr := checkDBVersion(driver, dbHandle.DB); verr != nil {
			err = verr
			return
		}

		dbConnInstance = &DBConnection{
			DB:        dbHandle,
			StmtCache: squirrel.NewStmtCache(dbHandle.DB),
			Driver:    driver,
		}
	})
	return err
}

// GetConnection returns the singleton connection. It must only be called
// after a successful Connect.
func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		log.Fatal("database connection not initialized")
	}
	return dbConnInstance
}
