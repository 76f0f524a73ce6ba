package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maxpert/burrow/admin"
	"github.com/maxpert/burrow/apply"
	_ "github.com/maxpert/burrow/apply/sink"
	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/cfg"
	"github.com/maxpert/burrow/event"
	"github.com/maxpert/burrow/executor"
	"github.com/maxpert/burrow/filter"
	"github.com/maxpert/burrow/journal"
	"github.com/maxpert/burrow/partition"
	"github.com/maxpert/burrow/pipeline"
	"github.com/maxpert/burrow/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Burrow - CDC apply pipeline")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	j, err := journal.Open(cfg.GetJournalPath())
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.GetJournalPath()).Msg("Failed to open journal")
		return
	}
	defer j.Close()

	reader, err := j.Reader(cfg.Config.Source.Name, cfg.Config.Source.SourceID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create journal reader")
		return
	}

	p, err := buildPipeline(reader)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble pipeline")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start pipeline")
		return
	}

	notifications, unsubscribe := p.Hub().Subscribe()
	defer unsubscribe()
	go logNotifications(notifications)

	collector := telemetry.NewMetricsCollector(p, 5*time.Second)
	collector.Start()
	defer collector.Stop()

	if cfg.Config.Admin.Enabled {
		handlers := admin.NewHandlers(cfg.Config.NodeID, p, j, cfg.Config.Source.Name).
			WithTasks(p, journalBackup(j, cfg.GetBackupPath()), journalCheck(j, cfg.Config.Source.Name))
		addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)
		server := admin.NewServer(addr, admin.NewRouter(handlers, telemetry.GetMetricsHandler()))
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		defer server.Stop()
	}

	log.Info().
		Str("source", cfg.Config.Source.SourceID).
		Str("applier", cfg.Config.Applier.Type).
		Int("channels", cfg.Config.Pipeline.Channels).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Burrow started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := p.Stop(); err != nil {
		log.Error().Err(err).Msg("Pipeline stopped with errors")
	}
}

func buildPipeline(source binlog.Source) (*pipeline.Pipeline, error) {
	decoder, err := binlog.NewDecoder(binlog.DecoderConfig{
		TableCacheSize: cfg.Config.Decoder.TableCacheSize,
		Codec:          binlog.RawCodec{Strict: cfg.Config.Decoder.StrictUTF8},
	})
	if err != nil {
		return nil, err
	}

	chain, err := filter.Build(cfg.Config.Filters)
	if err != nil {
		return nil, err
	}

	partitioner, err := partition.New(cfg.Config.Pipeline.Partitioner, partition.KeyMode(cfg.Config.Pipeline.PartitionKey))
	if err != nil {
		return nil, err
	}

	applier, err := apply.CreateApplier(cfg.Config.Applier)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(executor.Config{
		Name:        cfg.Config.Executor.ServiceName,
		MaxThreads:  cfg.Config.Executor.MaxThreads,
		MaxRequests: cfg.Config.Executor.MaxRequests,
		KeepAlive:   time.Duration(cfg.Config.Executor.KeepAliveSeconds) * time.Second,
	})
	if err != nil {
		applier.Close()
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Source:      source,
		Decoder:     decoder,
		Chain:       chain,
		Partitioner: partitioner,
		Channels:    cfg.Config.Pipeline.Channels,
		QueueSize:   cfg.Config.Pipeline.QueueSize,
		Applier:     applier,
		Retry: apply.RetryPolicy{
			Initial:    time.Duration(cfg.Config.Applier.RetryInitialMS) * time.Millisecond,
			Max:        time.Duration(cfg.Config.Applier.RetryMaxMS) * time.Millisecond,
			Multiplier: cfg.Config.Applier.RetryMultiplier,
			MaxRetries: cfg.Config.Applier.MaxRetries,
		},
		Executor:    exec,
		ErrorPolicy: pipeline.ErrorPolicy(cfg.Config.Pipeline.ErrorPolicy),
	})
	if err != nil {
		applier.Close()
		exec.ShutdownImmediate()
		return nil, err
	}
	return p, nil
}

func logNotifications(ch <-chan *event.Event) {
	for ev := range ch {
		log.Info().Str("notification", ev.String()).Msg("Pipeline notification")
	}
}

// journalBackup checkpoints the journal into a fresh timestamped directory
// under root.
func journalBackup(j *journal.Journal, root string) pipeline.BackupFunc {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return "", err
		}
		dir, err := filepath.Abs(filepath.Join(root, time.Now().UTC().Format("20060102T150405.000000000Z")))
		if err != nil {
			return "", err
		}
		if err := j.Checkpoint(dir); err != nil {
			return "", err
		}
		log.Info().Str("dir", dir).Msg("Journal checkpoint written")
		return "file://" + dir, nil
	}
}

// journalCheck verifies the source reader's cursor against the journal.
func journalCheck(j *journal.Journal, reader string) pipeline.CheckFunc {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return j.CheckCursor(reader)
	}
}
