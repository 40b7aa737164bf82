// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package pequod_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/galenguyer/pequod/internal/pequod"
)

func TestRegistryV2ErrorSerialization(t *testing.T) {
	rec := httptest.NewRecorder()
	pequod.ErrManifestUnknown.With("no such manifest").WriteAsRegistryV2ResponseTo(rec)

	assert.DeepEqual(t, "status code", rec.Code, http.StatusNotFound)
	assert.DeepEqual(t, "Content-Type", rec.Header().Get("Content-Type"), "application/json")
	assert.DeepEqual(t, "response body", rec.Body.String(),
		`{"errors":[{"code":"MANIFEST_UNKNOWN","message":"manifest unknown","detail":"no such manifest"}]}`+"\n")

	// without a detail message, the detail field is omitted entirely
	rec = httptest.NewRecorder()
	pequod.ErrBlobUnknown.With("").WriteAsRegistryV2ResponseTo(rec)
	assert.DeepEqual(t, "response body", rec.Body.String(),
		`{"errors":[{"code":"BLOB_UNKNOWN","message":"blob unknown to registry"}]}`+"\n")

	// WithStatus overrides the status code that the error code implies
	rec = httptest.NewRecorder()
	pequod.ErrUnsupported.With("").WithStatus(http.StatusNotImplemented).WriteAsRegistryV2ResponseTo(rec)
	assert.DeepEqual(t, "status code", rec.Code, http.StatusNotImplemented)
}
