// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package pequod

import (
	"encoding/json"
	"errors"

	imagespecs "github.com/opencontainers/image-spec/specs-go/v1"
)

// DefaultManifestMediaType is reported in Content-Type headers for stored
// manifests that do not declare a mediaType themselves.
const DefaultManifestMediaType = "application/vnd.docker.distribution.manifest.v2+json"

// ParsedManifest is an interface that can interrogate manifests for the blobs
// and submanifests that they reference.
type ParsedManifest interface {
	// BlobReferences returns all blobs referenced by this manifest.
	BlobReferences() []imagespecs.Descriptor
	// ManifestReferences returns all submanifests referenced by this manifest.
	ManifestReferences() []imagespecs.Descriptor
}

// ImageManifest is a ParsedManifest for manifests that describe a single
// image: a config blob plus a list of layer blobs.
type ImageManifest struct {
	MediaType string                  `json:"mediaType,omitempty"`
	Config    imagespecs.Descriptor   `json:"config"`
	Layers    []imagespecs.Descriptor `json:"layers"`
}

// BlobReferences implements the ParsedManifest interface.
func (m ImageManifest) BlobReferences() []imagespecs.Descriptor {
	return append([]imagespecs.Descriptor{m.Config}, m.Layers...)
}

// ManifestReferences implements the ParsedManifest interface.
func (m ImageManifest) ManifestReferences() []imagespecs.Descriptor {
	return nil
}

// ImageIndex is a ParsedManifest for manifest lists and OCI image indexes:
// a list of per-platform submanifests.
type ImageIndex struct {
	MediaType string                  `json:"mediaType,omitempty"`
	Manifests []imagespecs.Descriptor `json:"manifests"`
}

// BlobReferences implements the ParsedManifest interface.
func (m ImageIndex) BlobReferences() []imagespecs.Descriptor {
	return nil
}

// ManifestReferences implements the ParsedManifest interface.
func (m ImageIndex) ManifestReferences() []imagespecs.Descriptor {
	return m.Manifests
}

// ErrUnrecognizedManifest is returned by ParseManifest() for manifests that
// are neither image manifests nor image indexes. Such manifests are stored
// anyway (sans reachability edges) to stay forward-compatible with manifest
// formats that did not exist when this code was written.
var ErrUnrecognizedManifest = errors.New("manifest structure is not recognized")

// ParseManifest parses a manifest. The two known shapes are discriminated by
// structure, not by media type: an image manifest has "config" and "layers",
// an index has "manifests".
func ParseManifest(contents []byte) (ParsedManifest, error) {
	var probe struct {
		Config    json.RawMessage `json:"config"`
		Layers    json.RawMessage `json:"layers"`
		Manifests json.RawMessage `json:"manifests"`
	}
	err := json.Unmarshal(contents, &probe)
	if err != nil {
		return nil, err
	}

	switch {
	case probe.Manifests != nil:
		var m ImageIndex
		err := json.Unmarshal(contents, &m)
		if err != nil {
			return nil, err
		}
		return m, nil
	case probe.Config != nil && probe.Layers != nil:
		var m ImageManifest
		err := json.Unmarshal(contents, &m)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, ErrUnrecognizedManifest
	}
}

// ManifestMediaType returns the media type that a stored manifest declares
// for itself, or DefaultManifestMediaType if it does not declare one.
func ManifestMediaType(contents []byte) string {
	var probe struct {
		MediaType string `json:"mediaType"`
	}
	err := json.Unmarshal(contents, &probe)
	if err != nil || probe.MediaType == "" {
		return DefaultManifestMediaType
	}
	return probe.MediaType
}
