// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	apicmd "github.com/galenguyer/pequod/cmd/api"
	cleanupcmd "github.com/galenguyer/pequod/cmd/cleanup"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("PEQUOD_DEBUG")

	rootCmd := &cobra.Command{
		Use:     "pequod",
		Short:   "Database-backed Docker registry",
		Long:    "Pequod is a Docker registry that keeps everything, blob contents included, in a PostgreSQL database.",
		Version: bininfo.VersionOr("rolling"),
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	apicmd.AddCommandTo(rootCmd)
	cleanupcmd.AddCommandTo(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logg.Fatal(err.Error())
	}
}
