package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ApplyBuckets for a single downstream apply (network round trip to a sink)
	ApplyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// DecodeBuckets for in-memory record decoding
	DecodeBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}

	// TaskBuckets for auxiliary executor tasks (backups, consistency checks)
	TaskBuckets = []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300}
)

// Decode Metrics
var (
	// RecordsDecodedTotal counts decoded records by record type
	RecordsDecodedTotal CounterVec = noopCounterVec{}

	// DecodeErrorsTotal counts records that failed to decode
	DecodeErrorsTotal Counter = NoopStat{}

	// DecodeDurationSeconds measures time to decode one record
	DecodeDurationSeconds Histogram = NoopStat{}
)

// Filter Metrics
var (
	// FilterEventsTotal counts events seen by each filter by result (pass, drop, error)
	FilterEventsTotal CounterVec = noopCounterVec{}

	// DedupFilterSize tracks the number of fingerprints held by dedup filters
	DedupFilterSize Gauge = NoopStat{}
)

// Partition and Apply Metrics
var (
	// PartitionAssignmentsTotal counts events assigned to each partition
	PartitionAssignmentsTotal CounterVec = noopCounterVec{}

	// PartitionQueueSize tracks the pending event count of each partition
	PartitionQueueSize GaugeVec = noopGaugeVec{}

	// AppliedEventsTotal counts events applied downstream by result (success, failed)
	AppliedEventsTotal CounterVec = noopCounterVec{}

	// ApplyRetriesTotal counts apply retry attempts
	ApplyRetriesTotal Counter = NoopStat{}

	// ApplyDurationSeconds measures a single downstream apply
	ApplyDurationSeconds Histogram = NoopStat{}

	// SeqnoRegressionsTotal counts events rejected by the per-source ordering guard
	SeqnoRegressionsTotal Counter = NoopStat{}
)

// Notification Metrics
var (
	// NotificationsTotal counts published notifications by kind
	NotificationsTotal CounterVec = noopCounterVec{}

	// NotificationsDroppedTotal counts deliveries dropped because a subscriber was full
	NotificationsDroppedTotal Counter = NoopStat{}
)

// Executor Metrics
var (
	// ExecutorTasksTotal counts submitted tasks by result (completed, failed, rejected, dropped)
	ExecutorTasksTotal CounterVec = noopCounterVec{}

	// ExecutorPending tracks queued tasks
	ExecutorPending Gauge = NoopStat{}

	// ExecutorActive tracks running tasks
	ExecutorActive Gauge = NoopStat{}

	// ExecutorTaskDurationSeconds measures task run time
	ExecutorTaskDurationSeconds Histogram = NoopStat{}
)

// Journal Metrics
var (
	// JournalAppendedTotal counts records appended to the journal
	JournalAppendedTotal Counter = NoopStat{}

	// JournalCleanedTotal counts cleanup passes that removed entries below the minimum cursor
	JournalCleanedTotal Counter = NoopStat{}
)

// InitMetrics initializes all metrics
// Must be called after InitializeTelemetry()
func InitMetrics() {
	RecordsDecodedTotal = NewCounterVec(
		"records_decoded_total",
		"Total decoded binlog records by type",
		[]string{"type"},
	)
	DecodeErrorsTotal = NewCounter(
		"decode_errors_total",
		"Total records that failed to decode",
	)
	DecodeDurationSeconds = NewHistogramWithBuckets(
		"decode_duration_seconds",
		"Record decode duration in seconds",
		DecodeBuckets,
	)

	FilterEventsTotal = NewCounterVec(
		"filter_events_total",
		"Events processed per filter by result",
		[]string{"filter", "result"},
	)
	DedupFilterSize = NewGauge(
		"dedup_filter_size",
		"Number of fingerprints held by dedup filters",
	)

	PartitionAssignmentsTotal = NewCounterVec(
		"partition_assignments_total",
		"Events assigned per partition",
		[]string{"partition"},
	)
	PartitionQueueSize = NewGaugeVec(
		"partition_queue_size",
		"Pending events per partition",
		[]string{"partition"},
	)
	AppliedEventsTotal = NewCounterVec(
		"applied_events_total",
		"Events applied downstream by result",
		[]string{"result"},
	)
	ApplyRetriesTotal = NewCounter(
		"apply_retries_total",
		"Total apply retry attempts",
	)
	ApplyDurationSeconds = NewHistogramWithBuckets(
		"apply_duration_seconds",
		"Downstream apply duration in seconds",
		ApplyBuckets,
	)
	SeqnoRegressionsTotal = NewCounter(
		"seqno_regressions_total",
		"Events rejected because their seqno did not advance",
	)

	NotificationsTotal = NewCounterVec(
		"notifications_total",
		"Published notifications by kind",
		[]string{"kind"},
	)
	NotificationsDroppedTotal = NewCounter(
		"notifications_dropped_total",
		"Notification deliveries dropped for slow subscribers",
	)

	ExecutorTasksTotal = NewCounterVec(
		"executor_tasks_total",
		"Executor tasks by result",
		[]string{"result"},
	)
	ExecutorPending = NewGauge(
		"executor_pending",
		"Queued executor tasks",
	)
	ExecutorActive = NewGauge(
		"executor_active",
		"Running executor tasks",
	)
	ExecutorTaskDurationSeconds = NewHistogramWithBuckets(
		"executor_task_duration_seconds",
		"Executor task run time in seconds",
		TaskBuckets,
	)

	JournalAppendedTotal = NewCounter(
		"journal_appended_total",
		"Records appended to the journal",
	)
	JournalCleanedTotal = NewCounter(
		"journal_cleaned_total",
		"Journal cleanup passes",
	)
}
