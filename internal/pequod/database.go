// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package pequod

import (
	"database/sql"

	"github.com/sapcc/go-bits/easypg"
	gorp "gopkg.in/gorp.v2"
)

var sqlMigrations = map[string]string{
	"001_initial.up.sql": `
		CREATE TABLE repositories (
			name TEXT NOT NULL PRIMARY KEY
		);

		CREATE TABLE blobs (
			digest TEXT  NOT NULL PRIMARY KEY,
			value  BYTEA NOT NULL
		);

		CREATE TABLE manifests (
			repository TEXT  NOT NULL,
			digest     TEXT  NOT NULL,
			value      BYTEA NOT NULL,
			PRIMARY KEY (repository, digest)
		);

		CREATE TABLE tags (
			repository TEXT        NOT NULL,
			name       TEXT        NOT NULL,
			updated    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			manifest   TEXT        NOT NULL,
			PRIMARY KEY (repository, name)
		);

		CREATE TABLE manifest_blobs (
			manifest TEXT NOT NULL,
			blob     TEXT NOT NULL,
			PRIMARY KEY (manifest, blob)
		);
	`,
	"001_initial.down.sql": `
		DROP TABLE manifest_blobs;
		DROP TABLE tags;
		DROP TABLE manifests;
		DROP TABLE blobs;
		DROP TABLE repositories;
	`,
}

// NOTE: The tables deliberately have no foreign keys between them. A manifest
// may reference blobs that were never pushed, and deleting a blob may leave
// edges behind. The cleanup task reconciles all of this; see
// internal/tasks/gc.go.

// DB adds convenience functions on top of gorp.DbMap.
type DB struct {
	gorp.DbMap
}

// DBConfiguration returns the easypg.Configuration object that func
// easypg.Connect() needs to connect to the database.
func DBConfiguration() easypg.Configuration {
	return easypg.Configuration{
		Migrations: sqlMigrations,
	}
}

// InitORM wraps a database connection into a gorp.DbMap instance.
func InitORM(dbConn *sql.DB) *DB {
	result := &DB{DbMap: gorp.DbMap{Db: dbConn, Dialect: gorp.PostgresDialect{}}}
	initModels(&result.DbMap)
	return result
}
