// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/galenguyer/pequod/internal/api"
	"github.com/galenguyer/pequod/internal/pequod"
)

// This implements the GET/HEAD /v2/<repository>/manifests/<reference> endpoint.
func (a *API) handleGetOrHeadManifest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/manifests/:reference")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}

	// the reference is either a digest or a tag name that resolves into one
	reference := mux.Vars(r)["reference"]
	manifestDigest := reference
	if !pequod.DigestReferenceRx.MatchString(reference) {
		tag, err := a.db.FindTag(repoName, reference)
		if respondWithLookupError(w, err, pequod.ErrManifestUnknown, "no such manifest") {
			return
		}
		manifestDigest = tag.ManifestDigest
	}

	manifest, err := a.db.FindManifest(repoName, manifestDigest)
	if respondWithLookupError(w, err, pequod.ErrManifestUnknown, "no such manifest") {
		return
	}

	if r.Method == http.MethodGet {
		api.ManifestsPulledCounter.With(prometheus.Labels{"repository": repoName}).Inc()
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(manifest.Value)))
	w.Header().Set("Content-Type", pequod.ManifestMediaType(manifest.Value))
	w.Header().Set("Docker-Content-Digest", manifest.Digest)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(manifest.Value)
}

// This implements the PUT /v2/<repository>/manifests/<reference> endpoint.
func (a *API) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/manifests/:reference")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}
	reference := mux.Vars(r)["reference"]

	contents, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxManifestSizeBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			pequod.ErrManifestInvalid.With("manifest exceeds size limit of %d bytes", maxBytesErr.Limit).WriteAsRegistryV2ResponseTo(w)
			return
		}
		pequod.ErrManifestInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	// the manifest is stored under the digest that we compute over the raw
	// bytes as received; a digest in the reference is not trusted for keying
	manifestDigest := digest.Canonical.FromBytes(contents)

	// parse failures are tolerated: the manifest is stored as-is, just without
	// reachability edges (this keeps us compatible with manifest formats that
	// we do not know about)
	parsedManifest, parseErr := pequod.ParseManifest(contents)
	if parseErr != nil {
		logg.Info("storing manifest %s in %s without parsing it: %s", manifestDigest, repoName, parseErr.Error())
	}

	tx, err := a.db.Begin()
	if respondWithError(w, err) {
		return
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	err = pequod.Repository{Name: repoName}.InsertIfMissing(tx)
	if respondWithError(w, err) {
		return
	}
	manifest := pequod.Manifest{
		RepositoryName: repoName,
		Digest:         manifestDigest.String(),
		Value:          contents,
	}
	err = manifest.InsertIfMissing(tx)
	if respondWithError(w, err) {
		return
	}

	if !pequod.DigestReferenceRx.MatchString(reference) {
		tag := pequod.Tag{
			RepositoryName: repoName,
			Name:           reference,
			Updated:        a.timeNow(),
			ManifestDigest: manifestDigest.String(),
		}
		err = tag.InsertIfMissing(tx)
		if respondWithError(w, err) {
			return
		}
	}

	// reachability edges are committed atomically with the manifest row, so a
	// concurrent cleanup run either sees neither or both
	if parsedManifest != nil {
		for _, desc := range parsedManifest.BlobReferences() {
			edge := pequod.ManifestBlob{
				ManifestDigest: manifestDigest.String(),
				BlobDigest:     desc.Digest.String(),
			}
			err = edge.InsertIfMissing(tx)
			if respondWithError(w, err) {
				return
			}
		}
	}

	err = tx.Commit()
	if respondWithError(w, err) {
		return
	}

	api.ManifestsPushedCounter.With(prometheus.Labels{"repository": repoName}).Inc()

	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", manifestDigest.String())
	w.WriteHeader(http.StatusCreated)
}

// This implements the DELETE /v2/<repository>/manifests/<reference> endpoint.
//
// A digest reference deletes the manifest itself; a tag reference deletes
// just the tag and leaves the manifest in place. Either way, dependent rows
// (tags of a deleted manifest, now-unreachable blobs) are left for the next
// cleanup run to reconcile.
func (a *API) handleDeleteManifest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/manifests/:reference")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}
	reference := mux.Vars(r)["reference"]

	var (
		result int64
		err    error
	)
	if pequod.DigestReferenceRx.MatchString(reference) {
		result, err = a.db.Delete(&pequod.Manifest{RepositoryName: repoName, Digest: reference})
	} else {
		result, err = a.db.Delete(&pequod.Tag{RepositoryName: repoName, Name: reference})
	}
	if respondWithError(w, err) {
		return
	}
	if result == 0 {
		pequod.ErrManifestUnknown.With("no such manifest").WriteAsRegistryV2ResponseTo(w)
		return
	}

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}
