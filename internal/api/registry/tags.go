// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	distspecv1 "github.com/opencontainers/distribution-spec/specs-go/v1"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/galenguyer/pequod/internal/pequod"
)

var tagsListQuery = sqlext.SimplifyWhitespace(`
	SELECT name FROM tags
	 WHERE repository = $1 AND (name > $2 OR $2 = '')
	 ORDER BY name ASC LIMIT $3
`)

// This implements the GET /v2/<repository>/tags/list endpoint.
func (a *API) handleListTags(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/tags/list")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}

	_, err := a.db.FindRepository(repoName)
	if respondWithLookupError(w, err, pequod.ErrNameUnknown, "no such repository") {
		return
	}

	limit, marker, ok := parsePaginationQuery(w, r)
	if !ok {
		return
	}

	// we request one more than `limit` to see if we need to paginate
	tags := []string{}
	err = sqlext.ForeachRow(a.db, tagsListQuery, []any{repoName, marker, limit + 1}, func(rows *sql.Rows) error {
		var tagName string
		err := rows.Scan(&tagName)
		if err == nil {
			tags = append(tags, tagName)
		}
		return err
	})
	if respondWithError(w, err) {
		return
	}

	if uint64(len(tags)) > limit {
		tags = tags[0:limit]
		linkQuery := url.Values{}
		linkQuery.Set("n", strconv.FormatUint(limit, 10))
		linkQuery.Set("last", tags[len(tags)-1])
		linkURL := url.URL{
			Path:     fmt.Sprintf("/v2/%s/tags/list", repoName),
			RawQuery: linkQuery.Encode(),
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, linkURL.String()))
	}

	respondwith.JSON(w, http.StatusOK, distspecv1.TagList{
		Name: repoName,
		Tags: tags,
	})
}
