// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package pequod_test

import (
	"errors"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/galenguyer/pequod/internal/pequod"
)

func TestParseImageManifest(t *testing.T) {
	buf := []byte(`{
		"schemaVersion": 2,
		"mediaType": "application/vnd.docker.distribution.manifest.v2+json",
		"config": {
			"mediaType": "application/vnd.docker.container.image.v1+json",
			"digest": "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			"size": 2
		},
		"layers": [{
			"mediaType": "application/vnd.docker.image.rootfs.diff.tar.gzip",
			"digest": "sha256:ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb",
			"size": 1
		}]
	}`)

	parsed, err := pequod.ParseManifest(buf)
	if err != nil {
		t.Fatal(err.Error())
	}
	m, ok := parsed.(pequod.ImageManifest)
	if !ok {
		t.Fatalf("expected ImageManifest, got %T", parsed)
	}

	blobRefs := m.BlobReferences()
	assert.DeepEqual(t, "number of blob references", len(blobRefs), 2)
	assert.DeepEqual(t, "config digest", blobRefs[0].Digest.String(),
		"sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	assert.DeepEqual(t, "layer digest", blobRefs[1].Digest.String(),
		"sha256:ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb")
	assert.DeepEqual(t, "number of manifest references", len(m.ManifestReferences()), 0)
}

func TestParseImageIndex(t *testing.T) {
	buf := []byte(`{
		"schemaVersion": 2,
		"mediaType": "application/vnd.oci.image.index.v1+json",
		"manifests": [{
			"mediaType": "application/vnd.oci.image.manifest.v1+json",
			"digest": "sha256:3e23a1cd69676b6665038b5d58c3c19ebe118e8d7c01d9c7ee6c55e5d4c80a2e",
			"size": 423,
			"platform": {"architecture": "amd64", "os": "linux"}
		}]
	}`)

	parsed, err := pequod.ParseManifest(buf)
	if err != nil {
		t.Fatal(err.Error())
	}
	m, ok := parsed.(pequod.ImageIndex)
	if !ok {
		t.Fatalf("expected ImageIndex, got %T", parsed)
	}

	assert.DeepEqual(t, "number of blob references", len(m.BlobReferences()), 0)
	manifestRefs := m.ManifestReferences()
	assert.DeepEqual(t, "number of manifest references", len(manifestRefs), 1)
	assert.DeepEqual(t, "submanifest digest", manifestRefs[0].Digest.String(),
		"sha256:3e23a1cd69676b6665038b5d58c3c19ebe118e8d7c01d9c7ee6c55e5d4c80a2e")
}

func TestParseManifestErrors(t *testing.T) {
	// not JSON at all
	_, err := pequod.ParseManifest([]byte(`this is not json`))
	if err == nil {
		t.Error("expected a parse error, got none")
	}

	// valid JSON, but an unrecognized structure (e.g. a schema1 manifest)
	_, err = pequod.ParseManifest([]byte(`{"schemaVersion":1,"fsLayers":[]}`))
	if !errors.Is(err, pequod.ErrUnrecognizedManifest) {
		t.Errorf("expected ErrUnrecognizedManifest, got %v", err)
	}

	// recognized structure, but fields of the wrong type; a failed parse must
	// not hand out a half-filled manifest (its zero-valued descriptors would
	// turn into bogus reachability edges)
	parsed, err := pequod.ParseManifest([]byte(`{"config": 5, "layers": []}`))
	if err == nil {
		t.Error("expected a parse error, got none")
	}
	if parsed != nil {
		t.Errorf("expected no manifest alongside the parse error, got %#v", parsed)
	}
	parsed, err = pequod.ParseManifest([]byte(`{"manifests": {"not": "a list"}}`))
	if err == nil {
		t.Error("expected a parse error, got none")
	}
	if parsed != nil {
		t.Errorf("expected no manifest alongside the parse error, got %#v", parsed)
	}
}

func TestManifestMediaType(t *testing.T) {
	assert.DeepEqual(t, "declared media type",
		pequod.ManifestMediaType([]byte(`{"mediaType":"application/vnd.oci.image.index.v1+json"}`)),
		"application/vnd.oci.image.index.v1+json")

	// manifests without a declared media type fall back to the default
	assert.DeepEqual(t, "fallback media type",
		pequod.ManifestMediaType([]byte(`{"schemaVersion":2}`)),
		pequod.DefaultManifestMediaType)
	assert.DeepEqual(t, "fallback media type for garbage",
		pequod.ManifestMediaType([]byte(`gibberish`)),
		pequod.DefaultManifestMediaType)
}
