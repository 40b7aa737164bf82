// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/galenguyer/pequod/internal/api"
	"github.com/galenguyer/pequod/internal/pequod"
)

// This implements the POST /v2/<repository>/blobs/uploads/ endpoint.
func (a *API) handleStartBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/blobs/uploads/")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}

	err := pequod.Repository{Name: repoName}.InsertIfMissing(a.db)
	if respondWithError(w, err) {
		return
	}

	// The session does not get a DB row until the first chunk arrives; the
	// session ID is all the state there is at this point.
	uploadUUID := a.generateUUID()
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Upload-UUID", uploadUUID)
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", repoName, uploadUUID))
	w.Header().Set("Range", "0-0")
	w.WriteHeader(http.StatusAccepted)
}

// This implements the PATCH /v2/<repository>/blobs/uploads/<uuid> endpoint.
func (a *API) handleContinueBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/blobs/uploads/:uuid")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}
	uploadUUID := mux.Vars(r)["uuid"]

	// a PATCH against an unknown session starts a fresh session under that ID
	// (clients retry chunk uploads like this), so the repository may not have
	// been seen before either
	err := pequod.Repository{Name: repoName}.InsertIfMissing(a.db)
	if respondWithError(w, err) {
		return
	}

	chunk, rerr := a.readChunk(w, r)
	if rerr != nil {
		rerr.WriteAsRegistryV2ResponseTo(w)
		return
	}

	// if the client announced a byte range for this chunk, it must line up
	// with what we have
	if r.Header.Get("Content-Range") != "" {
		sizeBytes, err := a.db.BlobSizeBytes(uploadUUID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, err)
			return
		}
		rerr := checkContentRange(r.Header, sizeBytes, int64(len(chunk)))
		if rerr != nil {
			rerr.WriteAsRegistryV2ResponseTo(w)
			return
		}
	}

	sizeBytes, err := pequod.AppendBlobChunk(a.db, uploadUUID, chunk)
	if respondWithError(w, err) {
		return
	}

	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Upload-UUID", uploadUUID)
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", repoName, uploadUUID))
	w.Header().Set("Range", fmt.Sprintf("%d-%d", sizeBytes-int64(len(chunk)), sizeBytes))
	w.WriteHeader(http.StatusAccepted)
}

// This implements the PUT /v2/<repository>/blobs/uploads/<uuid> endpoint.
func (a *API) handleFinishBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/blobs/uploads/:uuid")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}
	uploadUUID := mux.Vars(r)["uuid"]

	// the digest argument is the client's claim; the stored key is always the
	// digest that we compute ourselves below
	blobDigestStr := r.URL.Query().Get("digest")
	if blobDigestStr == "" {
		pequod.ErrDigestInvalid.With("missing digest").WriteAsRegistryV2ResponseTo(w)
		return
	}
	blobDigest, err := digest.Parse(blobDigestStr)
	if err != nil {
		pequod.ErrDigestInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	chunk, rerr := a.readChunk(w, r)
	if rerr != nil {
		rerr.WriteAsRegistryV2ResponseTo(w)
		return
	}

	tx, err := a.db.Begin()
	if respondWithError(w, err) {
		return
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	// a PUT may carry the final chunk (or, without any prior PATCH, the whole
	// monolithic payload)
	if len(chunk) > 0 {
		_, err := pequod.AppendBlobChunk(tx, uploadUUID, chunk)
		if respondWithError(w, err) {
			return
		}
	}

	// verify the digest over the full accumulated payload
	var payload []byte
	err = tx.SelectOne(&payload, "SELECT value FROM blobs WHERE digest = $1", uploadUUID)
	if respondWithLookupError(w, err, pequod.ErrBlobUploadUnknown, "no such upload: "+uploadUUID) {
		return
	}
	actualDigest := digest.Canonical.FromBytes(payload)
	if actualDigest != blobDigest {
		// the session row stays in place so that the client may retry finalizing
		err = tx.Commit()
		if respondWithError(w, err) {
			return
		}
		pequod.ErrDigestInvalid.With("expected %s, but actual digest was %s", blobDigestStr, actualDigest).WriteAsRegistryV2ResponseTo(w)
		return
	}

	err = pequod.RekeyBlob(tx, uploadUUID, actualDigest)
	if respondWithError(w, err) {
		return
	}
	err = tx.Commit()
	if respondWithError(w, err) {
		return
	}

	api.BlobsPushedCounter.With(prometheus.Labels{"repository": repoName}).Inc()

	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", actualDigest.String())
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/%s", repoName, actualDigest))
	w.WriteHeader(http.StatusCreated)
}

// This implements the GET /v2/<repository>/blobs/uploads/<uuid> endpoint.
func (a *API) handleGetBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/blobs/uploads/:uuid")
	_, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}
	uploadUUID := mux.Vars(r)["uuid"]

	sizeBytes, err := a.db.BlobSizeBytes(uploadUUID)
	if respondWithLookupError(w, err, pequod.ErrBlobUploadUnknown, "no such upload: "+uploadUUID) {
		return
	}

	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Upload-UUID", uploadUUID)
	w.Header().Set("Range", fmt.Sprintf("0-%d", sizeBytes))
	w.WriteHeader(http.StatusNoContent)
}

// This implements the DELETE /v2/<repository>/blobs/uploads/<uuid> endpoint.
func (a *API) handleDeleteBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repository/blobs/uploads/:uuid")
	repoName, ok := a.checkRepositoryName(w, r)
	if !ok {
		return
	}
	uploadUUID := mux.Vars(r)["uuid"]

	err := pequod.DeleteBlob(a.db, uploadUUID)
	if respondWithLookupError(w, err, pequod.ErrBlobUploadUnknown, "no such upload: "+uploadUUID) {
		return
	}

	api.UploadsAbortedCounter.With(prometheus.Labels{"repository": repoName}).Inc()

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNoContent)
}

// Reads an upload chunk from the request body, honoring the configured chunk
// size limit.
func (a *API) readChunk(w http.ResponseWriter, r *http.Request) ([]byte, *pequod.RegistryV2Error) {
	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxChunkSizeBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, pequod.ErrSizeInvalid.With("chunk exceeds size limit of %d bytes", maxBytesErr.Limit)
		}
		return nil, pequod.ErrBlobUploadInvalid.With(err.Error())
	}
	return chunk, nil
}

var contentRangeRx = regexp.MustCompile(`^([0-9]+)-([0-9]+)$`)

// Validates the Content-Range header of a PATCH request against the current
// session size and the actual chunk size. Ranges are inclusive-exclusive.
func checkContentRange(hdr http.Header, sizeBytes, chunkSizeBytes int64) *pequod.RegistryV2Error {
	// some clients format Content-Range as `bytes=123-456` instead of just `123-456`
	contentRangeStr := strings.TrimPrefix(hdr.Get("Content-Range"), "bytes=")

	match := contentRangeRx.FindStringSubmatch(contentRangeStr)
	if match == nil {
		return pequod.ErrRangeInvalid.With("malformed Content-Range")
	}
	rangeStart, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return pequod.ErrRangeInvalid.With("malformed Content-Range: " + err.Error())
	}
	rangeEnd, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return pequod.ErrRangeInvalid.With("malformed Content-Range: " + err.Error())
	}

	if rangeStart != sizeBytes {
		return pequod.ErrRangeInvalid.With("upload resumed at wrong offset: %d != %d", rangeStart, sizeBytes)
	}
	if rangeEnd-rangeStart != chunkSizeBytes {
		return pequod.ErrSizeInvalid.With("Content-Range describes %d bytes, but request contained %d bytes", rangeEnd-rangeStart, chunkSizeBytes)
	}
	return nil
}
