// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package pequod

import (
	"net/url"
	"os"
	"strconv"

	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
)

// Configuration contains all configuration values that the API server needs.
type Configuration struct {
	// MaxManifestSizeBytes limits the size of manifests accepted by PUT.
	MaxManifestSizeBytes int64
	// MaxChunkSizeBytes limits the size of a single blob upload chunk.
	MaxChunkSizeBytes int64
}

const (
	defaultMaxManifestSizeBytes = 4 << 20 // 4 MiB
	defaultMaxChunkSizeBytes    = 1 << 30 // 1 GiB
)

// ParseConfiguration obtains a pequod.Configuration instance from the
// corresponding environment variables. Aborts on error.
func ParseConfiguration() Configuration {
	return Configuration{
		MaxManifestSizeBytes: getenvInt64OrDefault("PEQUOD_MAX_MANIFEST_SIZE_BYTES", defaultMaxManifestSizeBytes),
		MaxChunkSizeBytes:    getenvInt64OrDefault("PEQUOD_MAX_CHUNK_SIZE_BYTES", defaultMaxChunkSizeBytes),
	}
}

func getenvInt64OrDefault(key string, defaultValue int64) int64 {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.ParseInt(valStr, 10, 64)
	if err != nil {
		logg.Fatal("malformed %s: %s", key, err.Error())
	}
	if val <= 0 {
		logg.Fatal("malformed %s: must be positive", key)
	}
	return val
}

// GetDatabaseURLFromEnvironment reads the PEQUOD_DB_* environment variables.
func GetDatabaseURLFromEnvironment() (dbURL url.URL, dbName string) {
	dbName = osext.GetenvOrDefault("PEQUOD_DB_NAME", "pequod")
	return must.Return(easypg.URLFrom(easypg.URLParts{
		HostName:          osext.GetenvOrDefault("PEQUOD_DB_HOSTNAME", "localhost"),
		Port:              osext.GetenvOrDefault("PEQUOD_DB_PORT", "5432"),
		UserName:          osext.GetenvOrDefault("PEQUOD_DB_USERNAME", "postgres"),
		Password:          os.Getenv("PEQUOD_DB_PASSWORD"),
		ConnectionOptions: os.Getenv("PEQUOD_DB_CONNECTION_OPTIONS"),
		DatabaseName:      dbName,
	})), dbName
}

// SetTaskName identifies the subcommand that is running within this process,
// and writes the startup log line.
func SetTaskName(taskName string) {
	bininfo.SetTaskName(taskName)
	logg.Info("starting %s %s", bininfo.Component(), bininfo.VersionOr("rolling"))
}
