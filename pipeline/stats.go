package pipeline

// PartitionStats describes one apply channel.
type PartitionStats struct {
	Partition   int    `json:"partition"`
	Size        int64  `json:"size"`
	LastApplied uint64 `json:"last_applied"`
	HasApplied  bool   `json:"has_applied"`
	Applied     int64  `json:"applied"`
	Failed      int64  `json:"failed"`
	Halted      bool   `json:"halted"`
}

// Stats is a point-in-time snapshot of pipeline counters. Fields are read
// independently and may be mutually inconsistent under load.
type Stats struct {
	Source           string           `json:"source"`
	Running          bool             `json:"running"`
	Halted           bool             `json:"halted"`
	Received         int64            `json:"received"`
	DecodeErrors     int64            `json:"decode_errors"`
	ProcessingErrors int64            `json:"processing_errors"`
	Dropped          int64            `json:"dropped"`
	Enqueued         int64            `json:"enqueued"`
	ApplyFailures    int64            `json:"apply_failures"`
	Notifications    int64            `json:"notifications"`
	Partitions       []PartitionStats `json:"partitions"`
	ExecutorPending  int              `json:"executor_pending"`
	ExecutorActive   int              `json:"executor_active"`
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Source:           p.config.SourceID,
		Running:          p.running.Load(),
		Halted:           p.halted.Load(),
		Received:         p.received.Load(),
		DecodeErrors:     p.decodeErrors.Load(),
		ProcessingErrors: p.processingErrors.Load(),
		Dropped:          p.dropped.Load(),
		Enqueued:         p.enqueued.Load(),
		ApplyFailures:    p.applyFailures.Load(),
		Notifications:    p.notifications.Load(),
		Partitions:       make([]PartitionStats, 0, len(p.channels)),
	}

	for _, ch := range p.channels {
		last, ok := ch.LastApplied()
		s.Partitions = append(s.Partitions, PartitionStats{
			Partition:   ch.Partition().PartitionNumber(),
			Size:        ch.Partition().CurrentSize(),
			LastApplied: last,
			HasApplied:  ok,
			Applied:     ch.Applied(),
			Failed:      ch.Failed(),
			Halted:      ch.Halted(),
		})
	}
	s.ExecutorPending, s.ExecutorActive = p.ExecutorCounts()
	return s
}

// PartitionSizes returns the pending event count of every partition.
func (p *Pipeline) PartitionSizes() []int64 {
	sizes := make([]int64, len(p.partitions))
	for i, m := range p.partitions {
		sizes[i] = m.CurrentSize()
	}
	return sizes
}

// ExecutorCounts returns the executor's queued and running task counts.
func (p *Pipeline) ExecutorCounts() (pending, active int) {
	if p.config.Executor == nil {
		return 0, 0
	}
	return p.config.Executor.PendingCount(), p.config.Executor.ActiveCount()
}
