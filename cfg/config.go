package cfg

import (
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// SourceConfiguration selects where raw records are read from
type SourceConfiguration struct {
	Type     string `toml:"type"`      // "journal"
	Name     string `toml:"name"`      // Reader cursor name
	SourceID string `toml:"source_id"` // Upstream replication source identity
}

// DecoderConfiguration controls binlog decoding
type DecoderConfiguration struct {
	TableCacheSize int  `toml:"table_cache_size"`
	StrictUTF8     bool `toml:"strict_utf8"`
}

// PipelineConfiguration controls channel topology and failure policy
type PipelineConfiguration struct {
	Channels     int    `toml:"channels"`
	QueueSize    int    `toml:"queue_size"`
	Partitioner  string `toml:"partitioner"`   // "load_balancing" or "key_hash"
	PartitionKey string `toml:"partition_key"` // "source" or "table"
	ErrorPolicy  string `toml:"error_policy"`  // "skip" or "stop"
}

// FilterConfiguration is one entry of the [[filters]] array.
// Only the fields relevant to Type are read.
type FilterConfiguration struct {
	Type string `toml:"type"`
	Name string `toml:"name"`

	// skip_seqno
	SkipSeqnoStart    *int64 `toml:"skip_seqno_start"`
	SkipSeqnoRange    *int64 `toml:"skip_seqno_range"`
	SkipSeqnoMultiple bool   `toml:"skip_seqno_multiple"`

	// glob
	Schemas []string `toml:"schemas"`
	Tables  []string `toml:"tables"`

	// dedup
	DedupCapacity int `toml:"dedup_capacity"`
}

// ExecutorConfiguration sizes the auxiliary task executor
type ExecutorConfiguration struct {
	ServiceName      string `toml:"service_name"`
	MaxThreads       int    `toml:"max_threads"`
	MaxRequests      int    `toml:"max_requests"`
	KeepAliveSeconds int    `toml:"keep_alive_seconds"`
}

// ApplierConfiguration selects the downstream applier and its retry policy
type ApplierConfiguration struct {
	Type            string   `toml:"type"` // "log", "kafka" or "nats"
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	TopicPrefix     string   `toml:"topic_prefix"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration controls the diagnostics HTTP server
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Source     SourceConfiguration     `toml:"source"`
	Decoder    DecoderConfiguration    `toml:"decoder"`
	Pipeline   PipelineConfiguration   `toml:"pipeline"`
	Filters    []FilterConfiguration   `toml:"filters"`
	Executor   ExecutorConfiguration   `toml:"executor"`
	Applier    ApplierConfiguration    `toml:"applier"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./burrow-data",

	Source: SourceConfiguration{
		Type:     "journal",
		Name:     "main",
		SourceID: "source-1",
	},

	Decoder: DecoderConfiguration{
		TableCacheSize: 1024,
		StrictUTF8:     false,
	},

	Pipeline: PipelineConfiguration{
		Channels:     4,
		QueueSize:    1024,
		Partitioner:  "load_balancing",
		PartitionKey: "source",
		ErrorPolicy:  "skip",
	},

	Filters: []FilterConfiguration{},

	Executor: ExecutorConfiguration{
		ServiceName:      "burrow-aux",
		MaxThreads:       4,
		MaxRequests:      64,
		KeepAliveSeconds: 60,
	},

	Applier: ApplierConfiguration{
		Type:            "log",
		Brokers:         []string{},
		TopicPrefix:     "burrow",
		RetryInitialMS:  100,   // 100ms first backoff
		RetryMaxMS:      30000, // Cap backoff at 30s
		RetryMultiplier: 2.0,
		MaxRetries:      10,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        9191,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("burrow")
	if err != nil {
		return 0, err
	}

	return xxhash.Sum64String(id), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Source.Type != "journal" {
		return fmt.Errorf("invalid source type: %s", Config.Source.Type)
	}

	if Config.Source.SourceID == "" {
		return fmt.Errorf("source id must not be empty")
	}

	if Config.Decoder.TableCacheSize < 1 {
		return fmt.Errorf("decoder table cache size must be >= 1")
	}

	// Validate pipeline topology
	if Config.Pipeline.Channels < 1 {
		return fmt.Errorf("pipeline channels must be >= 1")
	}

	if Config.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline queue size must be >= 1")
	}

	switch Config.Pipeline.Partitioner {
	case "load_balancing", "key_hash":
	default:
		return fmt.Errorf("invalid partitioner: %s", Config.Pipeline.Partitioner)
	}

	switch Config.Pipeline.PartitionKey {
	case "source", "table":
	default:
		return fmt.Errorf("invalid partition key: %s", Config.Pipeline.PartitionKey)
	}

	switch Config.Pipeline.ErrorPolicy {
	case "skip", "stop":
	default:
		return fmt.Errorf("invalid error policy: %s", Config.Pipeline.ErrorPolicy)
	}

	for i, f := range Config.Filters {
		if f.Type == "" {
			return fmt.Errorf("filter %d has no type", i)
		}
	}

	// Validate executor configuration
	if Config.Executor.MaxThreads < 1 {
		return fmt.Errorf("executor max threads must be >= 1")
	}

	if Config.Executor.MaxRequests < 1 {
		return fmt.Errorf("executor max requests must be >= 1")
	}

	if Config.Executor.KeepAliveSeconds < 0 {
		return fmt.Errorf("executor keep alive must be >= 0")
	}

	// Validate applier configuration
	switch Config.Applier.Type {
	case "log":
	case "kafka":
		if len(Config.Applier.Brokers) == 0 {
			return fmt.Errorf("kafka applier requires at least one broker")
		}
	case "nats":
		if Config.Applier.NatsURL == "" {
			return fmt.Errorf("nats applier requires nats_url")
		}
	default:
		return fmt.Errorf("invalid applier type: %s", Config.Applier.Type)
	}

	if Config.Applier.RetryInitialMS < 1 {
		return fmt.Errorf("applier retry initial backoff must be >= 1ms")
	}

	if Config.Applier.RetryMaxMS < Config.Applier.RetryInitialMS {
		return fmt.Errorf("applier retry max backoff must be >= initial backoff")
	}

	if Config.Applier.RetryMultiplier < 1 {
		return fmt.Errorf("applier retry multiplier must be >= 1")
	}

	if Config.Applier.MaxRetries < 0 {
		return fmt.Errorf("applier max retries must be >= 0")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// GetJournalPath returns the path of the raw record journal
func GetJournalPath() string {
	return path.Join(Config.DataDir, "journal")
}

// GetBackupPath returns the directory journal checkpoints are written under
func GetBackupPath() string {
	return path.Join(Config.DataDir, "backups")
}
