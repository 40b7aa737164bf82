// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package cleanupcmd

import (
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/spf13/cobra"

	"github.com/galenguyer/pequod/internal/pequod"
	"github.com/galenguyer/pequod/internal/tasks"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete unreachable rows from the database and reclaim disk space.",
		Long:  "Delete unreachable rows from the database and reclaim disk space. This never runs on the request path; run it from a cronjob or trigger it via POST /admin/cleanup.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_, _ = cmd, args

	pequod.SetTaskName("cleanup")

	dbURL, _ := pequod.GetDatabaseURLFromEnvironment()
	dbConn := must.Return(easypg.Connect(dbURL, pequod.DBConfiguration()))
	db := pequod.InitORM(dbConn)

	result := must.Return(tasks.RunCleanup(cmd.Context(), db))
	logg.Info("database size: %d bytes before cleanup, %d bytes after", result.DBSizeBytesBefore, result.DBSizeBytesAfter)
}
