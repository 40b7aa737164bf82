// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package apicmd

import (
	"net/http"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	adminv1 "github.com/galenguyer/pequod/internal/api/admin"
	registryv2 "github.com/galenguyer/pequod/internal/api/registry"
	"github.com/galenguyer/pequod/internal/pequod"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the API server.",
		Long:  "Run the API server. Configuration is read from environment variables as described in README.md.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_, _ = cmd, args

	pequod.SetTaskName("api")

	cfg := pequod.ParseConfiguration()
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)

	dbURL, dbName := pequod.GetDatabaseURLFromEnvironment()
	dbConn := must.Return(easypg.Connect(dbURL, pequod.DBConfiguration()))
	prometheus.MustRegister(sqlstats.NewStatsCollector(dbName, dbConn))
	db := pequod.InitORM(dbConn)

	// wire up HTTP handlers
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Content-Range", "User-Agent", "Authorization"},
	})
	handler := httpapi.Compose(
		registryv2.NewAPI(cfg, db),
		adminv1.NewAPI(db),
		httpapi.HealthCheckAPI{
			SkipRequestLog: true,
			Check: func() error {
				return db.Db.PingContext(ctx)
			},
		},
		// the name rewriting must happen before route matching, hence a global middleware
		httpapi.WithGlobalMiddleware(registryv2.RewriteRepositoryNames),
		httpapi.WithGlobalMiddleware(corsMiddleware.Handler),
	)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	// start HTTP server
	apiListenAddress := osext.GetenvOrDefault("PEQUOD_API_LISTEN_ADDRESS", ":5000")
	must.Succeed(httpext.ListenAndServeContext(ctx, apiListenAddress, mux))
}
