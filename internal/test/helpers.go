// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"testing"

	"github.com/galenguyer/pequod/internal/pequod"
)

// MustDo is like must.Succeed, but uses t.Fatal instead of logg.Fatal.
func MustDo(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err.Error())
	}
}

// MustExec runs the given SQL statement and fails the test if it returns an
// error.
func MustExec(t *testing.T, db *pequod.DB, query string, args ...any) {
	t.Helper()
	_, err := db.Exec(query, args...)
	if err != nil {
		t.Fatal(err.Error())
	}
}
