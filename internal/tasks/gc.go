// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/galenguyer/pequod/internal/pequod"
)

// CleanupResult reports what a cleanup run deleted.
type CleanupResult struct {
	DeletedEdges        int64 `json:"deleted_edges"`
	DeletedBlobs        int64 `json:"deleted_blobs"`
	DeletedTags         int64 `json:"deleted_tags"`
	DeletedRepositories int64 `json:"deleted_repositories"`
	DBSizeBytesBefore   int64 `json:"db_size_bytes_before"`
	DBSizeBytesAfter    int64 `json:"db_size_bytes_after"`
}

// The manifests table is the ground truth for the sweep, so edges from
// deleted manifests go first: blobs kept alive by a dangling edge would
// otherwise survive the second step. Repositories go last because they are
// only reachable through their manifests.
var cleanupSteps = []struct {
	Entity string
	Query  string
}{
	{"edges", sqlext.SimplifyWhitespace(`
		DELETE FROM manifest_blobs WHERE manifest NOT IN (SELECT digest FROM manifests)
	`)},
	{"blobs", sqlext.SimplifyWhitespace(`
		DELETE FROM blobs WHERE digest NOT IN (SELECT blob FROM manifest_blobs)
	`)},
	{"tags", sqlext.SimplifyWhitespace(`
		DELETE FROM tags WHERE manifest NOT IN (SELECT digest FROM manifests)
	`)},
	{"repositories", sqlext.SimplifyWhitespace(`
		DELETE FROM repositories WHERE name NOT IN (SELECT repository FROM manifests)
	`)},
}

var cleanupDeletedRowsGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pequod_last_cleanup_deleted_rows",
		Help: "Number of rows deleted per entity by the most recent cleanup run.",
	},
	[]string{"entity"},
)

func init() {
	prometheus.MustRegister(cleanupDeletedRowsGauge)
}

// RunCleanup reconciles the schema after deletes: it removes all rows that
// are not reachable from a manifest anymore (which includes abandoned upload
// sessions, recognizable by their UUID key that no edge can reference), then
// reclaims the disk space that they occupied.
//
// The sweep runs in one serializable transaction, so a manifest PUT is
// ordered entirely before or entirely after it. The VACUUM must run outside
// the transaction.
func RunCleanup(ctx context.Context, db *pequod.DB) (CleanupResult, error) {
	var result CleanupResult
	err := db.SelectOne(&result.DBSizeBytesBefore, `SELECT pg_database_size(current_database())`)
	if err != nil {
		return CleanupResult{}, err
	}

	tx, err := db.Db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return CleanupResult{}, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	counts := make([]int64, len(cleanupSteps))
	for idx, step := range cleanupSteps {
		sqlResult, err := tx.ExecContext(ctx, step.Query)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("while deleting %s: %w", step.Entity, err)
		}
		counts[idx], err = sqlResult.RowsAffected()
		if err != nil {
			return CleanupResult{}, err
		}
		logg.Info("cleanup: deleted %d %s", counts[idx], step.Entity)
		cleanupDeletedRowsGauge.WithLabelValues(step.Entity).Set(float64(counts[idx]))
	}
	err = tx.Commit()
	if err != nil {
		return CleanupResult{}, err
	}
	result.DeletedEdges = counts[0]
	result.DeletedBlobs = counts[1]
	result.DeletedTags = counts[2]
	result.DeletedRepositories = counts[3]

	_, err = db.Db.ExecContext(ctx, `VACUUM`)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("while reclaiming disk space: %w", err)
	}
	err = db.SelectOne(&result.DBSizeBytesAfter, `SELECT pg_database_size(current_database())`)
	if err != nil {
		return CleanupResult{}, err
	}

	return result, nil
}
