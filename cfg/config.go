package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Store backends for spilled buffer generations
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StorePebble = "pebble"
)

// Sink types
const (
	SinkConsole = "console"
	SinkNats    = "nats"
	SinkKafka   = "kafka"
)

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// BufferConfiguration controls event buffering and flush triggering
type BufferConfiguration struct {
	Store           string `toml:"store"`             // "file", "memory" or "pebble"
	DataDir         string `toml:"data_dir"`          // Scratch directory for spilled buffers
	Compress        bool   `toml:"compress"`          // zstd-compress spilled records (file store)
	Capacity        int    `toml:"capacity"`          // Flush after this many events (0 = disabled)
	FlushIntervalMS int    `toml:"flush_interval_ms"` // Flush on a timer (0 = disabled)
}

// SinkConfiguration controls the publish destination
type SinkConfiguration struct {
	Type           string   `toml:"type"` // "console", "nats" or "kafka"
	NatsURL        string   `toml:"nats_url"`
	Brokers        []string `toml:"brokers"`
	TopicPrefix    string   `toml:"topic_prefix"`
	Streams        []string `toml:"streams"`         // Glob patterns of streams to publish (empty = all)
	ExcludeStreams []string `toml:"exclude_streams"` // Glob patterns of streams to drop

	KafkaBatchSize  int    `toml:"kafka_batch_size"`  // Writer batch size (0 = client default)
	KafkaBatchBytes int64  `toml:"kafka_batch_bytes"` // Writer max batch bytes (0 = client default)
	KafkaAcks       string `toml:"kafka_acks"`        // "all" (default), "one" or "none"
}

// AdminConfiguration for the debug/stats HTTP server
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// PrometheusConfiguration for metrics (served under the admin endpoint)
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"` // Auto-generated from machine ID when empty
	StreamName string `toml:"stream_name"` // Cache name; empty = library default

	Buffer     BufferConfiguration     `toml:"buffer"`
	Sink       SinkConfiguration       `toml:"sink"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "logflume.toml", "Path to configuration file")
	StreamNameFlag = flag.String("stream", "", "Stream name (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Verbose logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	Buffer: BufferConfiguration{
		Store:           StoreFile,
		DataDir:         "", // system temp dir
		Compress:        false,
		Capacity:        1000,
		FlushIntervalMS: 0,
	},

	Sink: SinkConfiguration{
		Type:        SinkConsole,
		TopicPrefix: "logflume",
	},

	Admin: AdminConfiguration{
		Enabled: false,
		Address: "127.0.0.1:8920",
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: false,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
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
	if *StreamNameFlag != "" {
		Config.StreamName = *StreamNameFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.InstanceID == "" {
		Config.InstanceID = generateInstanceID()
	}

	return nil
}

// generateInstanceID derives a stable instance identity from the machine ID,
// falling back to the hostname when the machine ID is unavailable.
func generateInstanceID() string {
	id, err := machineid.ProtectedID("logflume")
	if err != nil {
		hostname, herr := os.Hostname()
		if herr != nil {
			log.Warn().Err(err).Msg("Failed to derive instance ID, using default")
			return "logflume-0"
		}
		return hostname
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Buffer.Store {
	case StoreFile, StoreMemory, StorePebble:
	default:
		return fmt.Errorf("unknown buffer store: %q", Config.Buffer.Store)
	}

	if Config.Buffer.Store == StorePebble && Config.Buffer.DataDir == "" {
		return fmt.Errorf("pebble buffer store requires buffer.data_dir")
	}

	if Config.Buffer.Capacity < 0 {
		return fmt.Errorf("buffer capacity must be >= 0")
	}
	if Config.Buffer.FlushIntervalMS < 0 {
		return fmt.Errorf("flush interval must be >= 0")
	}

	switch Config.Sink.Type {
	case SinkConsole:
	case SinkNats:
		if Config.Sink.NatsURL == "" {
			return fmt.Errorf("nats sink requires sink.nats_url")
		}
	case SinkKafka:
		if len(Config.Sink.Brokers) == 0 {
			return fmt.Errorf("kafka sink requires at least one broker")
		}
		switch Config.Sink.KafkaAcks {
		case "", "all", "one", "none":
		default:
			return fmt.Errorf("unknown kafka acks mode: %q", Config.Sink.KafkaAcks)
		}
		if Config.Sink.KafkaBatchSize < 0 || Config.Sink.KafkaBatchBytes < 0 {
			return fmt.Errorf("kafka batch settings must be >= 0")
		}
	default:
		return fmt.Errorf("unknown sink type: %q", Config.Sink.Type)
	}

	if Config.Admin.Enabled && Config.Admin.Address == "" {
		return fmt.Errorf("admin server requires admin.address")
	}

	return nil
}
