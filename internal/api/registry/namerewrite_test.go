// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2

import "testing"

func TestRewriteRepositoryName(t *testing.T) {
	testCases := []struct {
		Input     string
		Output    string
		Rewritten bool
	}{
		// paths without a repository name pass through unchanged
		{"/v2/", "/v2/", false},
		{"/v2/_catalog", "/v2/_catalog", false},
		{"/healthcheck", "/healthcheck", false},
		// names without slashes are rewritten into themselves
		{"/v2/foo/tags/list", "/v2/foo/tags/list", true},
		// slashes in the name are encoded, slashes after the resource are kept
		{"/v2/library/nginx/manifests/latest", "/v2/library%2Fnginx/manifests/latest", true},
		{"/v2/a/b/c/blobs/uploads/", "/v2/a%2Fb%2Fc/blobs/uploads/", true},
		{"/v2/a/b/c/blobs/sha256:abc", "/v2/a%2Fb%2Fc/blobs/sha256:abc", true},
		// the name match is greedy, so repositories that end in a resource
		// keyword still resolve correctly
		{"/v2/x/blobs/tags/list", "/v2/x%2Fblobs/tags/list", true},
		{"/v2/x/manifests/manifests/latest", "/v2/x%2Fmanifests/manifests/latest", true},
	}

	for _, tc := range testCases {
		output, rewritten := rewriteRepositoryName(tc.Input)
		if output != tc.Output || rewritten != tc.Rewritten {
			t.Errorf("expected %q to rewrite into (%q, %t), but got (%q, %t)",
				tc.Input, tc.Output, tc.Rewritten, output, rewritten)
		}
	}
}
