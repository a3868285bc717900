package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ossmatch_parsing_seconds",
		Help:    "Time spent extracting functions from a source file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	FilesParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossmatch_files_parsed_total",
		Help: "Total number of source files extracted, by stage.",
	}, []string{"stage"})

	ParseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossmatch_parse_failures_total",
		Help: "Total number of source files that could not be extracted, by stage.",
	}, []string{"stage"})

	FunctionsHashedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossmatch_functions_hashed_total",
		Help: "Total number of non-trivial function bodies fingerprinted, by stage.",
	}, []string{"stage"})

	ExtractCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossmatch_extract_cache_hits_total",
		Help: "Total number of files whose fingerprints were served from the blob cache.",
	})

	RepositoriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossmatch_repositories_total",
		Help: "Total number of repositories handled by the collector, by outcome.",
	}, []string{"outcome"})

	VersionsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossmatch_versions_written_total",
		Help: "Total number of version record files written.",
	})

	GitCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ossmatch_git_command_seconds",
		Help:    "Latency of git invocations.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"command"})

	GitRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossmatch_git_retries_total",
		Help: "Total number of retried git network operations.",
	})

	CorruptRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossmatch_corrupt_records_total",
		Help: "Total number of raw hash records skipped as corrupt.",
	})

	DatabaseEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ossmatch_database_entries",
		Help: "Number of component entries in the most recently built or loaded database.",
	})

	DatabaseHashes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ossmatch_database_hashes",
		Help: "Number of distinct hashes in the most recently built or loaded database.",
	})

	DetectHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossmatch_detect_hits_total",
		Help: "Total number of target hashes found in the component database.",
	})

	ComponentsReported = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ossmatch_components_reported",
		Help: "Number of components at or above threshold in the last detection.",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ossmatch_stage_seconds",
		Help:    "Wall time of a pipeline stage.",
		Buckets: []float64{0.1, 1, 10, 60, 300, 1800, 3600, 14400},
	}, []string{"stage"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossmatch_watcher_events_total",
		Help: "Total number of file system events seen in watch mode.",
	})
)
