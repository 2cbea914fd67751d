// Package metrics holds the process-wide named meters referenced by the
// "global mutable state" design note in spec §9: one struct of counters,
// initialized once and passed in explicitly rather than mutated through
// package-level globals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Meters is the full set of named counters/histograms the core reports.
type Meters struct {
	ObjectsDownloaded   prometheus.Counter
	ObjectsUploaded     prometheus.Counter
	BytesDownloaded     prometheus.Counter
	BytesUploaded       prometheus.Counter
	RetriesByCategory   *prometheus.CounterVec
	RequestsRateLimited prometheus.Counter

	PushrebaseAttempts    prometheus.Counter
	PushrebaseSuccesses   prometheus.Counter
	PushrebaseConflicts   prometheus.Counter
	BookmarkCASFailures   prometheus.Counter

	LeaseContentions prometheus.Counter
	SegmentRebuilds  prometheus.Counter
	StripOperations  prometheus.Counter
}

// New registers and returns a fresh Meters against reg. Pass
// prometheus.NewRegistry() for isolated tests.
func New(reg prometheus.Registerer) *Meters {
	m := &Meters{
		ObjectsDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_lfs_objects_downloaded_total",
			Help: "Count of LFS objects successfully downloaded.",
		}),
		ObjectsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_lfs_objects_uploaded_total",
			Help: "Count of LFS objects successfully uploaded.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_lfs_bytes_downloaded_total",
			Help: "Bytes received over all LFS downloads.",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_lfs_bytes_uploaded_total",
			Help: "Bytes sent over all LFS uploads.",
		}),
		RetriesByCategory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scmcore_lfs_retries_total",
			Help: "LFS request retries, by transport error classification.",
		}, []string{"category"}),
		RequestsRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_requests_rate_limited_total",
			Help: "Requests rejected by the per-session rate limiter.",
		}),
		PushrebaseAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_pushrebase_attempts_total",
			Help: "Pushrebase loop iterations across all pushes.",
		}),
		PushrebaseSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_pushrebase_successes_total",
			Help: "Pushrebase attempts that landed the bookmark move.",
		}),
		PushrebaseConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_pushrebase_conflicts_total",
			Help: "Pushrebase attempts rejected for file conflicts.",
		}),
		BookmarkCASFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_bookmark_cas_failures_total",
			Help: "Bookmark compare-and-set failures observed by pushrebase.",
		}),
		LeaseContentions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_changeset_lease_contentions_total",
			Help: "Per-bcs lease acquisitions that had to wait.",
		}),
		SegmentRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_dag_segment_rebuilds_total",
			Help: "High-level segment index rebuilds.",
		}),
		StripOperations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scmcore_dag_strip_total",
			Help: "Strip operations applied to the commit graph.",
		}),
	}
	reg.MustRegister(
		m.ObjectsDownloaded, m.ObjectsUploaded, m.BytesDownloaded, m.BytesUploaded,
		m.RetriesByCategory, m.RequestsRateLimited,
		m.PushrebaseAttempts, m.PushrebaseSuccesses, m.PushrebaseConflicts, m.BookmarkCASFailures,
		m.LeaseContentions, m.SegmentRebuilds, m.StripOperations,
	)
	return m
}
