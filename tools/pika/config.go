package main

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	// Target
	JournalPath  string
	SourcePrefix string
	Schema       string
	Table        string
	Tables       int

	// Load options
	Records int

	// Run options
	Workload   string
	Operations int
	Duration   time.Duration
	Threads    int // one source per thread

	// Workload percentages (-1 means use workload default)
	InsertPct int
	UpdatePct int
	DeletePct int
	QueryPct  int

	// Records per journal append (1 = no batching)
	BatchSize int

	// Emit a heartbeat record every N operations per source (0 = never)
	HeartbeatEvery int

	// Verify options
	Verify        bool
	ExpectSources int
}

// workloads are the named operation mixes accepted by --workload.
var workloads = map[string]WorkloadDistribution{
	"mixed":        {Insert: 50, Update: 35, Delete: 10, Query: 5},
	"insert-only":  {Insert: 100},
	"update-heavy": {Insert: 15, Update: 75, Delete: 5, Query: 5},
	"churn":        {Insert: 45, Update: 10, Delete: 45},
}

// Validate fills defaults and rejects settings the writers cannot honor.
func (c *Config) Validate() error {
	if c.SourcePrefix == "" {
		c.SourcePrefix = "pika"
	}
	if c.Workload == "" {
		c.Workload = "mixed"
	}
	c.BatchSize = max(c.BatchSize, 1)

	checks := []struct {
		bad bool
		msg string
	}{
		{c.JournalPath == "", "journal path cannot be empty"},
		{c.Schema == "" || c.Table == "", "schema and table cannot be empty"},
		// one-byte length prefix in table maps, with room for the "_<n>" suffix
		{len(c.Schema) > 255 || len(c.Table) > 250, "schema or table name too long"},
		{c.Tables < 1, "tables must be at least 1"},
		{c.Threads < 1, "threads must be at least 1"},
		{c.Records < 0 || c.Operations < 0, "records and operations must be non-negative"},
		{c.HeartbeatEvery < 0, "heartbeat-every must be non-negative"},
	}
	for _, chk := range checks {
		if chk.bad {
			return errors.New(chk.msg)
		}
	}

	if _, ok := workloads[c.Workload]; !ok {
		return fmt.Errorf("invalid workload %q (mixed, insert-only, update-heavy or churn)", c.Workload)
	}
	return nil
}

// SourceID returns the source id written by worker i.
func (c *Config) SourceID(i int) string {
	return fmt.Sprintf("%s-%d", c.SourcePrefix, i)
}

// GetWorkloadDistribution applies the percentage overrides to the named mix.
func (c *Config) GetWorkloadDistribution() WorkloadDistribution {
	dist := workloads[c.Workload]
	for _, o := range []struct {
		pct int
		dst *int
	}{
		{c.InsertPct, &dist.Insert},
		{c.UpdatePct, &dist.Update},
		{c.DeletePct, &dist.Delete},
		{c.QueryPct, &dist.Query},
	} {
		if o.pct >= 0 {
			*o.dst = o.pct
		}
	}
	return dist
}

type WorkloadDistribution struct {
	Insert, Update, Delete, Query int
}

func (w WorkloadDistribution) Total() int {
	return w.Insert + w.Update + w.Delete + w.Query
}

func (w WorkloadDistribution) Validate() error {
	if total := w.Total(); total != 100 {
		return fmt.Errorf("workload percentages must sum to 100, got %d", total)
	}
	return nil
}
