// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/mock"
	"github.com/sapcc/go-bits/osext"

	adminv1 "github.com/galenguyer/pequod/internal/api/admin"
	registryv2 "github.com/galenguyer/pequod/internal/api/registry"
	"github.com/galenguyer/pequod/internal/pequod"
)

// Setup contains all the pieces that most API tests need.
type Setup struct {
	Config  pequod.Configuration
	DB      *pequod.DB
	Clock   *mock.Clock
	Handler http.Handler
}

// NewSetup prepares most or all pieces for a test.
//
// The database is fresh (or cleared) and the API handler has all non-pure
// inputs (wall clock, upload session IDs) replaced by deterministic doubles.
func NewSetup(t *testing.T) Setup {
	t.Helper()
	logg.ShowDebug = osext.GetenvBool("PEQUOD_DEBUG")

	dbConn := easypg.ConnectForTest(t, pequod.DBConfiguration(),
		easypg.ClearTables("manifest_blobs", "tags", "manifests", "blobs", "repositories"),
	)
	db := pequod.InitORM(dbConn)

	cfg := pequod.Configuration{
		MaxManifestSizeBytes: 4 << 20,
		MaxChunkSizeBytes:    1 << 30,
	}
	clock := mock.NewClock()
	uuidCount := 0
	api := registryv2.NewAPI(cfg, db).
		OverrideTimeNow(clock.Now).
		OverrideGenerateUUID(func() string {
			uuidCount++
			return DeterministicUUID(uuidCount)
		})

	handler := httpapi.Compose(
		api,
		adminv1.NewAPI(db),
		httpapi.WithoutLogging(),
		httpapi.WithGlobalMiddleware(registryv2.RewriteRepositoryNames),
	)

	return Setup{
		Config:  cfg,
		DB:      db,
		Clock:   clock,
		Handler: handler,
	}
}

// DeterministicUUID returns a UUID-shaped string that is deterministically
// derived from the given counter value.
func DeterministicUUID(idx int) string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", idx)
}
