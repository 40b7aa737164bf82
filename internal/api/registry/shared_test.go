// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package registryv2_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/easypg"

	"github.com/galenguyer/pequod/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

const (
	versionHeaderKey   = "Docker-Distribution-Api-Version"
	versionHeaderValue = "registry/2.0"
)

// the standard version header included in all Registry v2 API responses
var versionHeader = map[string]string{versionHeaderKey: versionHeaderValue}

// Starts a blob upload session and returns the upload URL and session ID.
func getBlobUpload(t *testing.T, s test.Setup, repoName string) (uploadPath, uploadUUID string) {
	t.Helper()
	resp, _ := assert.HTTPRequest{
		Method:       "POST",
		Path:         fmt.Sprintf("/v2/%s/blobs/uploads/", repoName),
		ExpectStatus: http.StatusAccepted,
		ExpectHeader: map[string]string{
			versionHeaderKey: versionHeaderValue,
			"Content-Length": "0",
			"Range":          "0-0",
		},
	}.Check(t, s.Handler)
	if t.Failed() {
		t.FailNow()
	}
	return resp.Header.Get("Location"), resp.Header.Get("Docker-Upload-UUID")
}
