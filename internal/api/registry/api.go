// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
	uuid "github.com/satori/go.uuid"

	"github.com/galenguyer/pequod/internal/pequod"
)

// API contains state variables used by the Registry v2 API endpoints.
type API struct {
	cfg pequod.Configuration
	db  *pequod.DB
	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow      func() time.Time
	generateUUID func() string
}

// NewAPI constructs a new API instance.
func NewAPI(cfg pequod.Configuration, db *pequod.DB) *API {
	return &API{cfg, db, time.Now, GenerateUploadUUID}
}

// GenerateUploadUUID generates the session ID for a new blob upload.
func GenerateUploadUUID() string {
	return uuid.NewV4().String()
}

// OverrideTimeNow replaces time.Now with a test double.
func (a *API) OverrideTimeNow(timeNow func() time.Time) *API {
	a.timeNow = timeNow
	return a
}

// OverrideGenerateUUID replaces GenerateUploadUUID with a test double.
func (a *API) OverrideGenerateUUID(generateUUID func() string) *API {
	a.generateUUID = generateUUID
	return a
}

// AddTo implements the httpapi.API interface.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("GET").Path("/v2/").HandlerFunc(a.handleToplevel)
	r.Methods("GET").Path("/v2/_catalog").HandlerFunc(a.handleGetCatalog)

	// The name rewriting middleware (see namerewrite.go) guarantees that the
	// "repository" path segment contains no slashes by the time the router
	// sees it, so a plain path variable suffices here.
	r.Methods("DELETE").
		Path("/v2/{repository}/blobs/{digest}").
		HandlerFunc(a.handleDeleteBlob)
	r.Methods("GET", "HEAD").
		Path("/v2/{repository}/blobs/{digest}").
		HandlerFunc(a.handleGetOrHeadBlob)
	r.Methods("POST").
		Path("/v2/{repository}/blobs/uploads/").
		HandlerFunc(a.handleStartBlobUpload)
	r.Methods("DELETE").
		Path("/v2/{repository}/blobs/uploads/{uuid}").
		HandlerFunc(a.handleDeleteBlobUpload)
	r.Methods("GET").
		Path("/v2/{repository}/blobs/uploads/{uuid}").
		HandlerFunc(a.handleGetBlobUpload)
	r.Methods("PATCH").
		Path("/v2/{repository}/blobs/uploads/{uuid}").
		HandlerFunc(a.handleContinueBlobUpload)
	r.Methods("PUT").
		Path("/v2/{repository}/blobs/uploads/{uuid}").
		HandlerFunc(a.handleFinishBlobUpload)
	r.Methods("DELETE").
		Path("/v2/{repository}/manifests/{reference}").
		HandlerFunc(a.handleDeleteManifest)
	r.Methods("GET", "HEAD").
		Path("/v2/{repository}/manifests/{reference}").
		HandlerFunc(a.handleGetOrHeadManifest)
	r.Methods("PUT").
		Path("/v2/{repository}/manifests/{reference}").
		HandlerFunc(a.handlePutManifest)
	r.Methods("GET").
		Path("/v2/{repository}/tags/list").
		HandlerFunc(a.handleListTags)
}

// This implements the GET /v2/ endpoint.
func (a *API) handleToplevel(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/")
	// must be set even for 401 responses!
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	// The response is not defined beyond code 200, so reply in the same way as
	// https://registry-1.docker.io/v2/, with an empty JSON object.
	respondwith.JSON(w, http.StatusOK, map[string]any{})
}

// Like respondwith.ErrorText(), but writes a RegistryV2Error instead of plain text.
func respondWithError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	rerr := (*pequod.RegistryV2Error)(nil)
	if errors.As(err, &rerr) {
		rerr.WriteAsRegistryV2ResponseTo(w)
		return true
	}
	pequod.ErrUnknown.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
	return true
}

// A one-stop shop for all endpoints that set the mux variable "repository".
// Restores the repository name that the rewriting middleware encoded, and
// validates it. On success, returns the decoded repository name.
func (a *API) checkRepositoryName(w http.ResponseWriter, r *http.Request) (string, bool) {
	// must be set even for error responses!
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	repoName, err := url.PathUnescape(mux.Vars(r)["repository"])
	if err != nil || !pequod.RepoNameRx.MatchString(repoName) {
		pequod.ErrNameInvalid.With("invalid repository name").WriteAsRegistryV2ResponseTo(w)
		return "", false
	}
	return repoName, true
}

// Maps sql.ErrNoRows to the given RegistryV2Error, and everything else to
// ErrUnknown. Used by handlers that read from the DB.
func respondWithLookupError(w http.ResponseWriter, err error, code pequod.RegistryV2ErrorCode, msg string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		code.With(msg).WriteAsRegistryV2ResponseTo(w)
		return true
	}
	return respondWithError(w, err)
}
