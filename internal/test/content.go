// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"testing"

	"github.com/opencontainers/go-digest"
	imagespecs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sapcc/go-bits/assert"

	"github.com/galenguyer/pequod/internal/pequod"
)

// Bytes groups a blob payload with its digest.
type Bytes struct {
	Contents  []byte
	Digest    digest.Digest
	MediaType string
}

// NewBytes constructs a new Bytes instance.
func NewBytes(contents []byte, mediaType string) Bytes {
	return Bytes{contents, digest.Canonical.FromBytes(contents), mediaType}
}

// GenerateExampleLayer generates a blob that looks like an image layer
// (gzipped tarball shape is not required, random bytes suffice since nothing
// in the registry inspects blob contents).
func GenerateExampleLayer(seed int64) Bytes {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic contents are the point here
	buf := make([]byte, 32<<10)
	r.Read(buf)

	var gzipped bytes.Buffer
	w := gzip.NewWriter(&gzipped)
	w.Write(buf)    //nolint:errcheck
	w.Close()       //nolint:errcheck
	return NewBytes(gzipped.Bytes(), "application/vnd.docker.image.rootfs.diff.tar.gzip")
}

// Image contains all the pieces of a complete container image.
type Image struct {
	Layers   []Bytes
	Config   Bytes
	Manifest Bytes
}

// GenerateImage makes an Image from the given layers in a deterministic
// manner.
func GenerateImage(layers ...Bytes) Image {
	// the diff_ids make the config unique to this layer set, like a real image
	diffIDs := []string{}
	for _, layer := range layers {
		diffIDs = append(diffIDs, layer.Digest.String())
	}
	config := map[string]any{
		"architecture": "amd64",
		"os":           "linux",
		"config":       map[string]any{},
		"rootfs": map[string]any{
			"type":     "layers",
			"diff_ids": diffIDs,
		},
	}
	configBytes, err := json.Marshal(config)
	if err != nil {
		panic(err.Error())
	}
	configBlob := NewBytes(configBytes, "application/vnd.docker.container.image.v1+json")

	manifest := pequod.ImageManifest{
		MediaType: pequod.DefaultManifestMediaType,
		Config: imagespecs.Descriptor{
			MediaType: configBlob.MediaType,
			Digest:    configBlob.Digest,
			Size:      int64(len(configBlob.Contents)),
		},
	}
	for _, layer := range layers {
		manifest.Layers = append(manifest.Layers, imagespecs.Descriptor{
			MediaType: layer.MediaType,
			Digest:    layer.Digest,
			Size:      int64(len(layer.Contents)),
		})
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		panic(err.Error())
	}

	return Image{
		Layers:   layers,
		Config:   configBlob,
		Manifest: NewBytes(manifestBytes, pequod.DefaultManifestMediaType),
	}
}

// SizeBytes returns the value that the admin API reports for this image: the
// total size of all blobs that the manifest references.
func (i Image) SizeBytes() int64 {
	result := int64(len(i.Config.Contents))
	for _, layer := range i.Layers {
		result += int64(len(layer.Contents))
	}
	return result
}

// MustUpload uploads the blob into the given repository through the API, using
// a monolithic upload session.
func (b Bytes) MustUpload(t *testing.T, s Setup, repoName string) {
	t.Helper()

	resp, _ := assert.HTTPRequest{
		Method:       "POST",
		Path:         fmt.Sprintf("/v2/%s/blobs/uploads/", repoName),
		ExpectStatus: http.StatusAccepted,
	}.Check(t, s.Handler)
	if t.Failed() {
		t.FailNow()
	}

	assert.HTTPRequest{
		Method:       "PUT",
		Path:         resp.Header.Get("Location") + "?digest=" + string(b.Digest),
		Body:         assert.ByteData(b.Contents),
		ExpectStatus: http.StatusCreated,
		ExpectHeader: map[string]string{
			"Docker-Content-Digest": string(b.Digest),
		},
	}.Check(t, s.Handler)
	if t.Failed() {
		t.FailNow()
	}
}

// MustUpload uploads all blobs of the image, then the manifest, through the
// API.
func (i Image) MustUpload(t *testing.T, s Setup, repoName, reference string) {
	t.Helper()

	for _, layer := range i.Layers {
		layer.MustUpload(t, s, repoName)
	}
	i.Config.MustUpload(t, s, repoName)

	if reference == "" {
		reference = string(i.Manifest.Digest)
	}
	assert.HTTPRequest{
		Method: "PUT",
		Path:   fmt.Sprintf("/v2/%s/manifests/%s", repoName, reference),
		Header: map[string]string{
			"Content-Type": i.Manifest.MediaType,
		},
		Body:         assert.ByteData(i.Manifest.Contents),
		ExpectStatus: http.StatusCreated,
		ExpectHeader: map[string]string{
			"Docker-Content-Digest": string(i.Manifest.Digest),
		},
	}.Check(t, s.Handler)
}
