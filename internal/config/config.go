// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/tsnstream/internal/core"
	"firestige.xyz/tsnstream/internal/errors"
	"firestige.xyz/tsnstream/internal/stream"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `tsnstream:` root key in YAML.
type GlobalConfig struct {
	Node        NodeConfig        `mapstructure:"node"`
	Control     ControlConfig     `mapstructure:"control"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	HAL         HALConfig         `mapstructure:"hal"`
	Store       StoreConfig       `mapstructure:"store"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Streams     []StreamEntry     `mapstructure:"streams"`
	Collections []CollectionEntry `mapstructure:"collections"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Listen          string `mapstructure:"listen"`
	Path            string `mapstructure:"path"`
	CollectInterval string `mapstructure:"collect_interval"` // e.g. "5s", hot-reloadable
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Endpoint     string            `mapstructure:"endpoint"`
	Labels       map[string]string `mapstructure:"labels"`
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout"`
	MaxAttempts  int               `mapstructure:"max_attempts"`
}

// ─── Switch Backend ───

// HALConfig selects and sizes the switch backend.
type HALConfig struct {
	Backend         string `mapstructure:"backend"` // sim
	FlowCapacity    int    `mapstructure:"flow_capacity"`
	CounterCapacity int    `mapstructure:"counter_capacity"`
	RuleCapacity    int    `mapstructure:"rule_capacity"`
	PortCount       int    `mapstructure:"port_count"`
}

// ─── Persistence ───

// StoreConfig controls the on-disk conf store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ─── Notifications ───

// NotifyConfig configures change notification fan-out.
type NotifyConfig struct {
	Partitions int        `mapstructure:"partitions"`
	QueueSize  int        `mapstructure:"queue_size"`
	NATS       NATSConfig  `mapstructure:"nats"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

// NATSConfig configures the optional NATS notification sink.
type NATSConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	URL            string `mapstructure:"url"`
	SubjectPrefix  string `mapstructure:"subject_prefix"`
	ConnectTimeout string `mapstructure:"connect_timeout"`
}

// KafkaConfig configures the optional Kafka notification sink. Messages are
// keyed by object and id, so one object's changes stay on one partition.
type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	BatchSize    int      `mapstructure:"batch_size"`
	BatchTimeout string   `mapstructure:"batch_timeout"`
	Compression  string   `mapstructure:"compression"` // none|gzip|snappy|lz4
	MaxAttempts  int      `mapstructure:"max_attempts"`
}

// ─── Declarative Streams ───

// StreamEntry declares a stream and, optionally, client actions on it.
type StreamEntry struct {
	ID             uint32 `mapstructure:"id" json:"id" yaml:"id"`
	stream.ConfDoc `mapstructure:",squash" yaml:",inline"`
	PSFP           *stream.Action `mapstructure:"psfp_action" json:"psfp_action,omitempty" yaml:"psfp_action,omitempty"`
	FRER           *stream.Action `mapstructure:"frer_action" json:"frer_action,omitempty" yaml:"frer_action,omitempty"`
}

// CollectionEntry declares a stream collection.
type CollectionEntry struct {
	ID        uint32         `mapstructure:"id" json:"id" yaml:"id"`
	StreamIDs []uint32       `mapstructure:"stream_ids" json:"stream_ids" yaml:"stream_ids"`
	PSFP      *stream.Action `mapstructure:"psfp_action" json:"psfp_action,omitempty" yaml:"psfp_action,omitempty"`
	FRER      *stream.Action `mapstructure:"frer_action" json:"frer_action,omitempty" yaml:"frer_action,omitempty"`
}

// CollectionConf converts the member list.
func (c CollectionEntry) CollectionConf() (stream.CollectionConf, error) {
	ids := make([]stream.ID, len(c.StreamIDs))
	for i, id := range c.StreamIDs {
		ids[i] = stream.ID(id)
	}
	return stream.NewCollectionConf(ids...)
}

func actions(psfp, frer *stream.Action) map[stream.Client]stream.Action {
	out := make(map[stream.Client]stream.Action, 2)
	if psfp != nil {
		out[stream.ClientPSFP] = *psfp
	}
	if frer != nil {
		out[stream.ClientFRER] = *frer
	}
	return out
}

// Actions returns the declared client actions of the stream.
func (s StreamEntry) Actions() map[stream.Client]stream.Action { return actions(s.PSFP, s.FRER) }

// Actions returns the declared client actions of the collection.
func (c CollectionEntry) Actions() map[stream.Client]stream.Action { return actions(c.PSFP, c.FRER) }

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `tsnstream: ...`.
type configRoot struct {
	TSNStream GlobalConfig `mapstructure:"tsnstream"`
}

// Load loads configuration from file.
// The YAML file uses `tsnstream:` as root key; env vars map through the key
// replacer (e.g., key "tsnstream.log.level" → env "TSNSTREAM_LOG_LEVEL").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(core.ErrConfigInvalid, errors.KindValidation, "read config file %s: %v", path, err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root, viper.DecodeHook(decodeHook())); err != nil {
		return nil, errors.Wrapf(core.ErrConfigInvalid, errors.KindValidation, "unmarshal config: %v", err)
	}
	cfg := root.TSNStream

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, errors.Wrapf(core.ErrConfigInvalid, errors.KindValidation, "config validation failed: %v", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "tsnstream." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Control defaults
	v.SetDefault("tsnstream.control.pid_file", "/var/run/tsnstream.pid")
	v.SetDefault("tsnstream.control.socket", "/var/run/tsnstream.sock")

	// Log defaults
	v.SetDefault("tsnstream.log.level", "info")
	v.SetDefault("tsnstream.log.format", "json")
	v.SetDefault("tsnstream.log.outputs.file.enabled", false)
	v.SetDefault("tsnstream.log.outputs.file.path", "/var/log/tsnstream/tsnstream.log")
	v.SetDefault("tsnstream.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("tsnstream.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("tsnstream.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("tsnstream.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("tsnstream.metrics.enabled", true)
	v.SetDefault("tsnstream.metrics.listen", ":9092")
	v.SetDefault("tsnstream.metrics.path", "/metrics")
	v.SetDefault("tsnstream.metrics.collect_interval", "5s")

	// Switch backend defaults
	v.SetDefault("tsnstream.hal.backend", "sim")
	v.SetDefault("tsnstream.hal.flow_capacity", 256)
	v.SetDefault("tsnstream.hal.counter_capacity", 256)
	v.SetDefault("tsnstream.hal.rule_capacity", 512)
	v.SetDefault("tsnstream.hal.port_count", 8)

	// Store defaults
	v.SetDefault("tsnstream.store.enabled", false)
	v.SetDefault("tsnstream.store.dir", "/var/lib/tsnstream")

	// Notification defaults
	v.SetDefault("tsnstream.notify.partitions", 4)
	v.SetDefault("tsnstream.notify.queue_size", 1024)
	v.SetDefault("tsnstream.notify.nats.enabled", false)
	v.SetDefault("tsnstream.notify.nats.subject_prefix", "tsnstream")
	v.SetDefault("tsnstream.notify.nats.connect_timeout", "5s")
	v.SetDefault("tsnstream.notify.kafka.enabled", false)
	v.SetDefault("tsnstream.notify.kafka.topic", "tsnstream-notifications")
	v.SetDefault("tsnstream.notify.kafka.batch_size", 100)
	v.SetDefault("tsnstream.notify.kafka.batch_timeout", "100ms")
	v.SetDefault("tsnstream.notify.kafka.compression", "snappy")
	v.SetDefault("tsnstream.notify.kafka.max_attempts", 3)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Stream and collection entries are only checked for id range and
// uniqueness; their match fields are validated by the engine on replay.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled {
		if _, err := time.ParseDuration(cfg.Metrics.CollectInterval); err != nil {
			return fmt.Errorf("invalid metrics.collect_interval %q: %w", cfg.Metrics.CollectInterval, err)
		}
	}

	// ── Switch backend ──
	if cfg.HAL.Backend != "sim" {
		return fmt.Errorf("unsupported hal.backend: %s (only 'sim' supported)", cfg.HAL.Backend)
	}
	if cfg.HAL.FlowCapacity <= 0 || cfg.HAL.CounterCapacity <= 0 || cfg.HAL.RuleCapacity <= 0 {
		return fmt.Errorf("hal capacities must be positive")
	}
	if cfg.HAL.PortCount <= 0 || cfg.HAL.PortCount > stream.MaxPorts {
		return fmt.Errorf("hal.port_count %d out of range (1-%d)", cfg.HAL.PortCount, stream.MaxPorts)
	}

	// ── Store ──
	if cfg.Store.Enabled && cfg.Store.Dir == "" {
		return fmt.Errorf("store.dir is required when store.enabled=true")
	}

	// ── Notifications ──
	if cfg.Notify.Partitions <= 0 {
		return fmt.Errorf("notify.partitions must be positive")
	}
	if cfg.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify.queue_size must be positive")
	}
	if cfg.Notify.NATS.Enabled {
		if cfg.Notify.NATS.URL == "" {
			return fmt.Errorf("notify.nats.url is required when notify.nats.enabled=true")
		}
		if _, err := time.ParseDuration(cfg.Notify.NATS.ConnectTimeout); err != nil {
			return fmt.Errorf("invalid notify.nats.connect_timeout %q: %w", cfg.Notify.NATS.ConnectTimeout, err)
		}
	}
	if k := cfg.Notify.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("notify.kafka.brokers is required when notify.kafka.enabled=true")
		}
		if k.Topic == "" {
			return fmt.Errorf("notify.kafka.topic is required when notify.kafka.enabled=true")
		}
		if _, err := time.ParseDuration(k.BatchTimeout); err != nil {
			return fmt.Errorf("invalid notify.kafka.batch_timeout %q: %w", k.BatchTimeout, err)
		}
		switch k.Compression {
		case "", "none", "gzip", "snappy", "lz4":
		default:
			return fmt.Errorf("invalid notify.kafka.compression: %s (must be none/gzip/snappy/lz4)", k.Compression)
		}
	}

	// ── Declarative entries ──
	return validateEntries(cfg.Streams, cfg.Collections, cfg.HAL.PortCount)
}

// validateEntries checks ids and ports of declared entries.
func validateEntries(streams []StreamEntry, collections []CollectionEntry, portCount int) error {
	seen := make(map[uint32]bool, len(streams))
	for i, s := range streams {
		if s.ID == 0 || s.ID > stream.MaxStreams {
			return fmt.Errorf("streams[%d]: id %d out of range (1-%d)", i, s.ID, stream.MaxStreams)
		}
		if seen[s.ID] {
			return fmt.Errorf("streams[%d]: duplicate id %d", i, s.ID)
		}
		for _, p := range s.Ports.Ports() {
			if p >= portCount {
				return fmt.Errorf("streams[%d]: port %d beyond hal.port_count %d", i, p, portCount)
			}
		}
		seen[s.ID] = true
	}
	seen = make(map[uint32]bool, len(collections))
	for i, c := range collections {
		if c.ID == 0 || c.ID > stream.MaxCollections {
			return fmt.Errorf("collections[%d]: id %d out of range (1-%d)", i, c.ID, stream.MaxCollections)
		}
		if seen[c.ID] {
			return fmt.Errorf("collections[%d]: duplicate id %d", i, c.ID)
		}
		if len(c.StreamIDs) > stream.StreamsPerCollectionMax {
			return fmt.Errorf("collections[%d]: more than %d streams", i, stream.StreamsPerCollectionMax)
		}
		seen[c.ID] = true
	}

	return nil
}
