// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package adminv1

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/galenguyer/pequod/internal/pequod"
	"github.com/galenguyer/pequod/internal/tasks"
)

// API contains state variables used by the admin API endpoints. This API is
// the JSON backend for operator tooling; it is not part of the Registry v2
// protocol.
type API struct {
	db *pequod.DB
}

// NewAPI constructs a new API instance.
func NewAPI(db *pequod.DB) *API {
	return &API{db}
}

// AddTo implements the httpapi.API interface.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("POST").Path("/admin/cleanup").HandlerFunc(a.handleRunCleanup)
	r.Methods("GET").Path("/admin/repos").HandlerFunc(a.handleListRepositories)
}

// This implements the POST /admin/cleanup endpoint.
func (a *API) handleRunCleanup(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/admin/cleanup")

	result, err := tasks.RunCleanup(r.Context(), a.db)
	if respondwith.ErrorText(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, result)
}

// RepositoryReport appears in the response of the GET /admin/repos endpoint.
type RepositoryReport struct {
	Name string      `json:"name"`
	Tags []TagReport `json:"tags"`
}

// TagReport appears in type RepositoryReport.
type TagReport struct {
	Name           string    `json:"name"`
	Updated        time.Time `json:"updated"`
	ManifestDigest string    `json:"manifest"`
	// SizeBytes is the total size of all blobs that the tagged manifest
	// references.
	SizeBytes int64 `json:"size_bytes"`
}

var adminListTagsQuery = sqlext.SimplifyWhitespace(`
	SELECT name, updated, manifest FROM tags
	 WHERE repository = $1 ORDER BY updated DESC
`)

// This implements the GET /admin/repos endpoint.
func (a *API) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/admin/repos")

	var repoNames []string
	err := sqlext.ForeachRow(a.db, `SELECT name FROM repositories ORDER BY name ASC`, nil, func(rows *sql.Rows) error {
		var name string
		err := rows.Scan(&name)
		if err == nil {
			repoNames = append(repoNames, name)
		}
		return err
	})
	if respondwith.ErrorText(w, err) {
		return
	}

	repos := []RepositoryReport{}
	for _, repoName := range repoNames {
		repo := RepositoryReport{Name: repoName, Tags: []TagReport{}}
		err := sqlext.ForeachRow(a.db, adminListTagsQuery, []any{repoName}, func(rows *sql.Rows) error {
			var tag TagReport
			err := rows.Scan(&tag.Name, &tag.Updated, &tag.ManifestDigest)
			if err == nil {
				repo.Tags = append(repo.Tags, tag)
			}
			return err
		})
		if respondwith.ErrorText(w, err) {
			return
		}

		for idx, tag := range repo.Tags {
			sizeBytes, err := a.db.SizeOfManifest(repoName, tag.ManifestDigest)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				respondwith.ErrorText(w, err)
				return
			}
			// a dangling tag (manifest already deleted) reports size 0
			repo.Tags[idx].SizeBytes = sizeBytes
		}
		repos = append(repos, repo)
	}

	respondwith.JSON(w, http.StatusOK, map[string]any{"repositories": repos})
}
