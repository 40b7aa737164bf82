// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package tasks_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/easypg"

	"github.com/galenguyer/pequod/internal/tasks"
	"github.com/galenguyer/pequod/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

func TestCleanup(t *testing.T) {
	s := test.NewSetup(t)
	defer s.DB.Db.Close()
	image := test.GenerateImage(test.GenerateExampleLayer(1))
	image.MustUpload(t, s, "foo", "latest")

	// leave an abandoned upload session behind
	resp, _ := assert.HTTPRequest{
		Method:       "POST",
		Path:         "/v2/foo/blobs/uploads/",
		ExpectStatus: http.StatusAccepted,
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "PATCH",
		Path:         resp.Header.Get("Location"),
		Body:         assert.ByteData([]byte("partial upload")),
		ExpectStatus: http.StatusAccepted,
	}.Check(t, s.Handler)

	// the first cleanup run only reclaims the abandoned session; everything
	// else is reachable from the manifest
	result, err := tasks.RunCleanup(context.Background(), s.DB)
	test.MustDo(t, err)
	assert.DeepEqual(t, "deleted edges", result.DeletedEdges, int64(0))
	assert.DeepEqual(t, "deleted blobs", result.DeletedBlobs, int64(1))
	assert.DeepEqual(t, "deleted tags", result.DeletedTags, int64(0))
	assert.DeepEqual(t, "deleted repositories", result.DeletedRepositories, int64(0))
	if result.DBSizeBytesBefore <= 0 || result.DBSizeBytesAfter <= 0 {
		t.Errorf("expected nonzero database sizes, got %d before and %d after",
			result.DBSizeBytesBefore, result.DBSizeBytesAfter)
	}

	// the image is still fully servable
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v2/foo/manifests/latest",
		ExpectStatus: http.StatusOK,
		ExpectBody:   assert.ByteData(image.Manifest.Contents),
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         fmt.Sprintf("/v2/foo/blobs/%s", image.Layers[0].Digest),
		ExpectStatus: http.StatusOK,
		ExpectBody:   assert.ByteData(image.Layers[0].Contents),
	}.Check(t, s.Handler)

	// deleting the manifest makes everything else unreachable, so the second
	// cleanup run empties the database
	assert.HTTPRequest{
		Method:       "DELETE",
		Path:         fmt.Sprintf("/v2/foo/manifests/%s", image.Manifest.Digest),
		ExpectStatus: http.StatusAccepted,
	}.Check(t, s.Handler)

	result, err = tasks.RunCleanup(context.Background(), s.DB)
	test.MustDo(t, err)
	assert.DeepEqual(t, "deleted edges", result.DeletedEdges, int64(2))
	assert.DeepEqual(t, "deleted blobs", result.DeletedBlobs, int64(2))
	assert.DeepEqual(t, "deleted tags", result.DeletedTags, int64(1))
	assert.DeepEqual(t, "deleted repositories", result.DeletedRepositories, int64(1))

	for _, tableName := range []string{"repositories", "blobs", "manifests", "tags", "manifest_blobs"} {
		count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM ` + tableName)
		test.MustDo(t, err)
		assert.DeepEqual(t, "row count in "+tableName, count, int64(0))
	}
}

func TestCleanupKeepsSharedBlobs(t *testing.T) {
	s := test.NewSetup(t)
	defer s.DB.Db.Close()

	// two images in two repositories sharing one layer
	layer := test.GenerateExampleLayer(1)
	image1 := test.GenerateImage(layer)
	image2 := test.GenerateImage(layer, test.GenerateExampleLayer(2))
	image1.MustUpload(t, s, "first", "latest")
	image2.MustUpload(t, s, "second", "latest")

	// deleting the first manifest must not reclaim the shared layer
	assert.HTTPRequest{
		Method:       "DELETE",
		Path:         fmt.Sprintf("/v2/first/manifests/%s", image1.Manifest.Digest),
		ExpectStatus: http.StatusAccepted,
	}.Check(t, s.Handler)

	result, err := tasks.RunCleanup(context.Background(), s.DB)
	test.MustDo(t, err)
	// image1's edges, its config blob, its tag and the emptied repository go
	// away; the shared layer is still referenced by image2 and survives
	assert.DeepEqual(t, "deleted edges", result.DeletedEdges, int64(2))
	assert.DeepEqual(t, "deleted blobs", result.DeletedBlobs, int64(1))
	assert.DeepEqual(t, "deleted tags", result.DeletedTags, int64(1))
	assert.DeepEqual(t, "deleted repositories", result.DeletedRepositories, int64(1))

	assert.HTTPRequest{
		Method:       "GET",
		Path:         fmt.Sprintf("/v2/second/blobs/%s", layer.Digest),
		ExpectStatus: http.StatusOK,
		ExpectBody:   assert.ByteData(layer.Contents),
	}.Check(t, s.Handler)
}
