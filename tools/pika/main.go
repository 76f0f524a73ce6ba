package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "0.2.0"

type command struct {
	name string
	run  func(args []string) error
}

var commands = []command{
	{"load", runLoad},
	{"run", runWorkload},
	{"verify", runVerify},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name, args := os.Args[1], os.Args[2:]
	switch name {
	case "version":
		fmt.Printf("pika %s\n", version)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	}

	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(args); err != nil {
			fmt.Fprintf(os.Stderr, "pika %s: %v\n", name, err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "pika: unknown command %q\n", name)
	printUsage()
	os.Exit(2)
}

func printUsage() {
	fmt.Println(`pika - Burrow journal workload generator

Writes binlog records into a burrow journal so the apply pipeline can be
exercised without a live source. The journal must not be open in a running
burrow process.

Usage:
  pika <command> [options]

Commands:
  load      Append insert records
  run       Append a mixed insert/update/delete/query workload
  verify    Decode the journal and check per-source seqno ordering
  version   Print version
  help      Show this help

Common Options:
  --journal         Journal directory (default: burrow-data/journal)

Load Options:
  --schema          Schema name (default: bench)
  --table           Table name prefix (default: items)
  --tables          Number of tables (default: 4)
  --source-prefix   Source id prefix (default: pika)
  --records         Number of insert records (default: 10000)
  --threads         Number of sources, one writer each (default: 4)
  --batch-size      Records per journal append (default: 100)
  --heartbeat-every Heartbeat after every N records per source (default: 0 = never)

Run Options:
  --schema, --table, --tables, --source-prefix, --threads, --batch-size, --heartbeat-every
  --workload        Workload type: mixed|insert-only|update-heavy|churn (default: mixed)
  --operations      Total operations to append (default: 50000)
  --duration        Duration to run (e.g., 60s), overrides --operations
  --insert-pct      Insert percentage (overrides workload default)
  --update-pct      Update percentage (overrides workload default)
  --delete-pct      Delete percentage (overrides workload default)
  --query-pct       Query percentage (overrides workload default)
  --verify          Verify the journal after the workload (default: false)

Verify Options:
  --expect-sources  Fail unless exactly N sources are present (default: 0 = any)

Examples:
  pika load --journal=/tmp/burrow/journal --records=10000 --threads=4
  pika run --journal=/tmp/burrow/journal --workload=churn --duration=30s --verify
  pika verify --journal=/tmp/burrow/journal --expect-sources=4`)
}

const defaultJournal = "burrow-data/journal"

func targetFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.JournalPath, "journal", defaultJournal, "Journal directory")
	fs.StringVar(&cfg.Schema, "schema", "bench", "Schema name")
	fs.StringVar(&cfg.Table, "table", "items", "Table name prefix")
	fs.IntVar(&cfg.Tables, "tables", 4, "Number of tables")
	fs.StringVar(&cfg.SourcePrefix, "source-prefix", "pika", "Source id prefix")
	fs.IntVar(&cfg.Threads, "threads", 4, "Number of sources, one writer each")
	fs.IntVar(&cfg.BatchSize, "batch-size", 100, "Records per journal append (1 = no batching)")
	fs.IntVar(&cfg.HeartbeatEvery, "heartbeat-every", 0, "Heartbeat after every N records per source")
}

// signalContext is cancelled on SIGINT/SIGTERM, and after limit when limit > 0.
func signalContext(limit time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if limit <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	return ctx, func() {
		cancel()
		stop()
	}
}

func parseAndValidate(fs *flag.FlagSet, cfg *Config, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func runLoad(args []string) error {
	cfg := &Config{}
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	limit := fs.Duration("time-limit", 0, "Stop after this long (e.g. 30s)")
	targetFlags(fs, cfg)
	fs.IntVar(&cfg.Records, "records", 10000, "Number of insert records")

	if err := parseAndValidate(fs, cfg, args); err != nil {
		return err
	}

	ctx, cancel := signalContext(*limit)
	defer cancel()
	return executeLoad(ctx, cfg)
}

func runWorkload(args []string) error {
	cfg := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	limit := fs.Duration("time-limit", 0, "Stop after this long (e.g. 30s)")
	targetFlags(fs, cfg)
	fs.StringVar(&cfg.Workload, "workload", "mixed", "mixed, insert-only, update-heavy or churn")
	fs.IntVar(&cfg.Operations, "operations", 50000, "Total operations to append")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Run for this long instead of a fixed count")
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"insert-pct", &cfg.InsertPct},
		{"update-pct", &cfg.UpdatePct},
		{"delete-pct", &cfg.DeletePct},
		{"query-pct", &cfg.QueryPct},
	} {
		fs.IntVar(p.dst, p.name, -1, "Override the workload's percentage")
	}
	fs.BoolVar(&cfg.Verify, "verify", false, "Verify the journal afterwards")

	if err := parseAndValidate(fs, cfg, args); err != nil {
		return err
	}

	ctx, cancel := signalContext(*limit)
	defer cancel()
	if err := executeRun(ctx, cfg); err != nil {
		return err
	}
	if !cfg.Verify {
		return nil
	}

	// The workload context may have expired on its time limit.
	vctx, vcancel := signalContext(0)
	defer vcancel()
	return executeVerify(vctx, cfg)
}

func runVerify(args []string) error {
	// Verify reads whatever the journal holds, so the writer settings only
	// need to pass validation.
	cfg := &Config{Schema: "-", Table: "-", Tables: 1, Threads: 1}
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.StringVar(&cfg.JournalPath, "journal", defaultJournal, "Journal directory")
	fs.IntVar(&cfg.ExpectSources, "expect-sources", 0, "Fail unless exactly N sources are present")

	if err := parseAndValidate(fs, cfg, args); err != nil {
		return err
	}

	ctx, cancel := signalContext(0)
	defer cancel()
	return executeVerify(ctx, cfg)
}
