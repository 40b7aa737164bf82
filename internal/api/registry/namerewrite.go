// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"net/http"
	"regexp"
	"strings"
)

// Repository names may contain slashes, but most HTTP routers (including
// gorilla/mux) treat slashes as route segment boundaries. This pattern
// carves the repository name out of a request path: everything between
// "/v2/" and the last "/tags/", "/manifests/" or "/blobs/". The name group
// is greedy, so a repository that is itself called "tags" or "blobs" still
// resolves correctly ("/v2/x/blobs/tags/list" has the name "x/blobs").
var repoNameInPathRx = regexp.MustCompile(`^/v2/(?P<name>[\w/]+)/(?P<resource>tags|manifests|blobs)/`)

// RewriteRepositoryNames is a global middleware that encodes the slashes of
// the repository name in the request path as %2F before route matching, so
// that the name matches a single path variable. Handlers undo the encoding
// via checkRepositoryName(); all paths echoed back to the client (e.g. in
// Location headers) use the original unencoded form.
//
// Paths without a repository name ("/v2/", "/v2/_catalog", non-API routes)
// pass through unchanged.
func RewriteRepositoryNames(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path, ok := rewriteRepositoryName(r.URL.Path); ok {
			r.URL.Path = path
			r.URL.RawPath = ""
		}
		inner.ServeHTTP(w, r)
	})
}

func rewriteRepositoryName(path string) (string, bool) {
	match := repoNameInPathRx.FindStringSubmatch(path)
	if match == nil {
		return path, false
	}
	name := match[1]
	rest := strings.TrimPrefix(path, "/v2/"+name)
	return "/v2/" + strings.ReplaceAll(name, "/", "%2F") + rest, true
}
