// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sqlext"
)

const maxLimit = 100

var catalogGetQuery = sqlext.SimplifyWhitespace(`
	SELECT name FROM repositories
	 WHERE name > $1 OR $1 = ''
	 ORDER BY name ASC LIMIT $2
`)

// This implements the GET /v2/_catalog endpoint.
func (a *API) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/_catalog")
	// must be set even for error responses!
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	limit, marker, ok := parsePaginationQuery(w, r)
	if !ok {
		return
	}

	// we request one more than `limit` to see if we need to paginate
	names := []string{}
	err := sqlext.ForeachRow(a.db, catalogGetQuery, []any{marker, limit + 1}, func(rows *sql.Rows) error {
		var name string
		err := rows.Scan(&name)
		if err == nil {
			names = append(names, name)
		}
		return err
	})
	if respondWithError(w, err) {
		return
	}

	if uint64(len(names)) > limit {
		names = names[0:limit]
		linkQuery := url.Values{}
		linkQuery.Set("n", strconv.FormatUint(limit, 10))
		linkQuery.Set("last", names[len(names)-1])
		linkURL := url.URL{Path: "/v2/_catalog", RawQuery: linkQuery.Encode()}
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, linkURL.String()))
	}

	respondwith.JSON(w, http.StatusOK, map[string]any{
		"repositories": names,
	})
}

// Parses the standard pagination query parameters ("n" and "last") that both
// the catalog endpoint and the tag list endpoint accept.
func parsePaginationQuery(w http.ResponseWriter, r *http.Request) (limit uint64, marker string, ok bool) {
	query := r.URL.Query()
	var err error
	if limitStr := query.Get("n"); limitStr != "" {
		limit, err = strconv.ParseUint(limitStr, 10, 64)
		if err != nil {
			http.Error(w, `invalid value for "n": `+err.Error(), http.StatusBadRequest)
			return 0, "", false
		}
		if limit == 0 {
			http.Error(w, `invalid value for "n": must not be 0`, http.StatusBadRequest)
			return 0, "", false
		}
	} else {
		limit = maxLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, query.Get("last"), true
}
