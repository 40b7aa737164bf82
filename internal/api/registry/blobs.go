// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"

	"github.com/galenguyer/pequod/internal/api"
	"github.com/galenguyer/pequod/internal/pequod"
)

// This implements the GET/HEAD /v2/<repository>/blobs/<digest> endpoint.
func (a *API) handleGetOrHeadBlob(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/blobs/:digest")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}

	blobDigest, err := digest.Parse(mux.Vars(r)["digest"])
	if err != nil {
		pequod.ErrDigestInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	blob, err := a.db.FindBlob(blobDigest.String())
	if respondWithLookupError(w, err, pequod.ErrBlobUnknown, "blob unknown to registry") {
		return
	}

	if r.Method == http.MethodGet {
		api.BlobsPulledCounter.With(prometheus.Labels{"repository": repoName}).Inc()
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Value)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Docker-Content-Digest", blob.Digest)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(blob.Value)
}

// This implements the DELETE /v2/<repository>/blobs/<digest> endpoint.
//
// Deletion here only severs the ties between the blob and this repository's
// manifests. The blob row itself is reclaimed by the next cleanup run if
// nothing references it anymore.
func (a *API) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/blobs/:digest")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}

	blobDigest, err := digest.Parse(mux.Vars(r)["digest"])
	if err != nil {
		pequod.ErrDigestInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	_, err = a.db.BlobSizeBytes(blobDigest.String())
	if respondWithLookupError(w, err, pequod.ErrBlobUnknown, "blob unknown to registry") {
		return
	}

	rowsDeleted, err := pequod.DisassociateBlob(a.db, repoName, blobDigest.String())
	if respondWithError(w, err) {
		return
	}
	logg.Info("blob delete: removed %d manifest references to %s in repository %s", rowsDeleted, blobDigest, repoName)

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}
