// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2_test

import (
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/galenguyer/pequod/internal/pequod"
	"github.com/galenguyer/pequod/internal/test"
)

func TestGetAndHeadBlob(t *testing.T) {
	s := test.NewSetup(t)
	defer s.DB.Db.Close()
	blob := test.NewBytes([]byte("some layer contents"), "application/octet-stream")
	blob.MustUpload(t, s, "foo")

	assert.HTTPRequest{
		Method:       "GET",
		Path:         fmt.Sprintf("/v2/foo/blobs/%s", blob.Digest),
		ExpectStatus: http.StatusOK,
		ExpectHeader: map[string]string{
			versionHeaderKey:        versionHeaderValue,
			"Content-Length":        strconv.Itoa(len(blob.Contents)),
			"Content-Type":          "application/octet-stream",
			"Docker-Content-Digest": string(blob.Digest),
		},
		ExpectBody: assert.ByteData(blob.Contents),
	}.Check(t, s.Handler)

	// HEAD reports the same metadata, without a body
	assert.HTTPRequest{
		Method:       "HEAD",
		Path:         fmt.Sprintf("/v2/foo/blobs/%s", blob.Digest),
		ExpectStatus: http.StatusOK,
		ExpectHeader: map[string]string{
			"Content-Length":        strconv.Itoa(len(blob.Contents)),
			"Docker-Content-Digest": string(blob.Digest),
		},
	}.Check(t, s.Handler)
}

func TestGetBlobErrors(t *testing.T) {
	s := test.NewSetup(t)
	defer s.DB.Db.Close()
	blob := test.NewBytes([]byte("never uploaded"), "application/octet-stream")

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v2/foo/blobs/thisisnotadigest",
		ExpectStatus: http.StatusBadRequest,
		ExpectBody:   test.ErrorCode(pequod.ErrDigestInvalid),
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         fmt.Sprintf("/v2/foo/blobs/%s", blob.Digest),
		ExpectStatus: http.StatusNotFound,
		ExpectBody:   test.ErrorCode(pequod.ErrBlobUnknown),
	}.Check(t, s.Handler)
}

func TestDeleteBlob(t *testing.T) {
	s := test.NewSetup(t)
	defer s.DB.Db.Close()
	image := test.GenerateImage(test.GenerateExampleLayer(1))
	image.MustUpload(t, s, "foo", "latest")

	layerDigest := image.Layers[0].Digest

	assert.HTTPRequest{
		Method:       "DELETE",
		Path:         fmt.Sprintf("/v2/foo/blobs/%s", layerDigest),
		ExpectStatus: http.StatusAccepted,
		ExpectHeader: map[string]string{"Content-Length": "0"},
	}.Check(t, s.Handler)

	// deletion severs the ties to this repository's manifests, but the blob
	// row itself lives until the next cleanup run
	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM manifest_blobs WHERE blob = $1`, layerDigest.String())
	test.MustDo(t, err)
	assert.DeepEqual(t, "edge count", count, int64(0))
	assert.HTTPRequest{
		Method:       "GET",
		Path:         fmt.Sprintf("/v2/foo/blobs/%s", layerDigest),
		ExpectStatus: http.StatusOK,
		ExpectBody:   assert.ByteData(image.Layers[0].Contents),
	}.Check(t, s.Handler)

	// deleting an unknown blob reports an error
	bogus := test.NewBytes([]byte("never uploaded"), "application/octet-stream")
	assert.HTTPRequest{
		Method:       "DELETE",
		Path:         fmt.Sprintf("/v2/foo/blobs/%s", bogus.Digest),
		ExpectStatus: http.StatusNotFound,
		ExpectBody:   test.ErrorCode(pequod.ErrBlobUnknown),
	}.Check(t, s.Handler)
}
