// SPDX-FileCopyrightText: 2023 Galen Guyer
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BlobsPulledCounter is a prometheus.CounterVec.
	BlobsPulledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pequod_pulled_blobs",
			Help: "Counts blobs that are pulled from the registry.",
		},
		[]string{"repository"},
	)
	// BlobsPushedCounter is a prometheus.CounterVec.
	BlobsPushedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pequod_pushed_blobs",
			Help: "Counts blobs that are pushed into the registry.",
		},
		[]string{"repository"},
	)
	// ManifestsPulledCounter is a prometheus.CounterVec.
	ManifestsPulledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pequod_pulled_manifests",
			Help: "Counts manifests that are pulled from the registry.",
		},
		[]string{"repository"},
	)
	// ManifestsPushedCounter is a prometheus.CounterVec.
	ManifestsPushedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pequod_pushed_manifests",
			Help: "Counts manifests that are pushed into the registry.",
		},
		[]string{"repository"},
	)
	// UploadsAbortedCounter is a prometheus.CounterVec.
	UploadsAbortedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pequod_aborted_uploads",
			Help: "Counts blob uploads that fail and get aborted.",
		},
		[]string{"repository"},
	)
)

func init() {
	prometheus.MustRegister(BlobsPulledCounter)
	prometheus.MustRegister(BlobsPushedCounter)
	prometheus.MustRegister(ManifestsPulledCounter)
	prometheus.MustRegister(ManifestsPushedCounter)
	prometheus.MustRegister(UploadsAbortedCounter)
}
