// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/galenguyer/pequod/internal/pequod"
)

// ErrorCode wraps pequod.RegistryV2ErrorCode with an implementation of the
// assert.HTTPResponseBody interface.
type ErrorCode pequod.RegistryV2ErrorCode

// AssertResponseBody implements the assert.HTTPResponseBody interface.
func (e ErrorCode) AssertResponseBody(t *testing.T, requestInfo string, responseBody []byte) bool {
	t.Helper()
	wrapped := ErrorCodeWithDetail{pequod.RegistryV2ErrorCode(e), ""}
	return wrapped.AssertResponseBody(t, requestInfo, responseBody)
}

// ErrorCodeWithDetail extends ErrorCode with an expected detail message.
type ErrorCodeWithDetail struct {
	Code   pequod.RegistryV2ErrorCode
	Detail string
}

// AssertResponseBody implements the assert.HTTPResponseBody interface.
func (e ErrorCodeWithDetail) AssertResponseBody(t *testing.T, requestInfo string, responseBody []byte) bool {
	t.Helper()
	var data struct {
		Errors []struct {
			Code   pequod.RegistryV2ErrorCode `json:"code"`
			Detail string                     `json:"detail"`
		} `json:"errors"`
	}
	err := json.Unmarshal(responseBody, &data)
	if err != nil {
		t.Errorf("%s: cannot decode JSON: %s", requestInfo, err.Error())
		t.Logf("\tresponse body = %q", string(responseBody))
		return false
	}

	expectedStr := string(e.Code)
	if e.Detail != "" {
		expectedStr = fmt.Sprintf("%s with detail: %s", e.Code, e.Detail)
	}

	matches := len(data.Errors) == 1 && data.Errors[0].Code == e.Code
	if matches {
		matches = e.Detail == "" || data.Errors[0].Detail == e.Detail
	}
	if !matches {
		t.Errorf("%s: got unexpected error", requestInfo)
		t.Logf("\texpected = %q\n", expectedStr)
		t.Logf("\tactual = %q\n", string(responseBody))
	}

	return matches
}
