// Package config holds AMOSKYS's per-process configuration surfaces,
// modeled on coreengine/config's CoreConfig pattern:
// a struct with JSON tags, a DefaultXConfig constructor, an
// XConfigFromMap coercion function tolerant of JSON's int/float64
// ambiguity, and a ToMap serializer.
package config

import "sync"

// BusConfig configures the Event Bus Server (C6).
type BusConfig struct {
	BusAddress      string `json:"bus_address"`
	CertDir         string `json:"cert_dir"`
	WALPath         string `json:"wal_path"`
	MaxEnvBytes     int    `json:"max_env_bytes"`
	MaxInflight     int    `json:"max_inflight"`
	HardMax         int    `json:"hard_max"`
	DedupeTTLSec    int    `json:"dedupe_ttl_sec"`
	DedupeMax       int    `json:"dedupe_max"`
	OverloadMode    string `json:"overload_mode"` // on | off | auto
	WorkerPool      int    `json:"worker_pool"`
	MetricsAddr     string `json:"metrics_addr"`
	HealthAddr      string `json:"health_addr"`
	TracingEndpoint string `json:"tracing_endpoint"`
}

// DefaultBusConfig returns the standard production defaults for the bus.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		BusAddress:      "0.0.0.0:50051",
		CertDir:         "/etc/amoskys/certs",
		WALPath:         "/var/lib/amoskys/bus-wal.db",
		MaxEnvBytes:     131072,
		MaxInflight:     100,
		HardMax:         500,
		DedupeTTLSec:    300,
		DedupeMax:       50000,
		OverloadMode:    "auto",
		WorkerPool:      50,
		MetricsAddr:     ":9100",
		HealthAddr:      ":8080",
		TracingEndpoint: "",
	}
}

// BusConfigFromMap overlays a decoded map (JSON or YAML) onto the
// defaults. Unknown keys are ignored.
func BusConfigFromMap(m map[string]any) *BusConfig {
	c := DefaultBusConfig()
	setString(m, "bus_address", &c.BusAddress)
	setString(m, "cert_dir", &c.CertDir)
	setString(m, "wal_path", &c.WALPath)
	setInt(m, "max_env_bytes", &c.MaxEnvBytes)
	setInt(m, "max_inflight", &c.MaxInflight)
	setInt(m, "hard_max", &c.HardMax)
	setInt(m, "dedupe_ttl_sec", &c.DedupeTTLSec)
	setInt(m, "dedupe_max", &c.DedupeMax)
	setString(m, "overload_mode", &c.OverloadMode)
	setInt(m, "worker_pool", &c.WorkerPool)
	setString(m, "metrics_addr", &c.MetricsAddr)
	setString(m, "health_addr", &c.HealthAddr)
	setString(m, "tracing_endpoint", &c.TracingEndpoint)
	return c
}

// ToMap serializes the config back to a generic map.
func (c *BusConfig) ToMap() map[string]any {
	return map[string]any{
		"bus_address":      c.BusAddress,
		"cert_dir":         c.CertDir,
		"wal_path":         c.WALPath,
		"max_env_bytes":    c.MaxEnvBytes,
		"max_inflight":     c.MaxInflight,
		"hard_max":         c.HardMax,
		"dedupe_ttl_sec":   c.DedupeTTLSec,
		"dedupe_max":       c.DedupeMax,
		"overload_mode":    c.OverloadMode,
		"worker_pool":      c.WorkerPool,
		"metrics_addr":     c.MetricsAddr,
		"health_addr":      c.HealthAddr,
		"tracing_endpoint": c.TracingEndpoint,
	}
}

// AgentConfig configures a Hardened Agent Runtime process (C5).
type AgentConfig struct {
	BusAddress         string  `json:"bus_address"`
	CertDir            string  `json:"cert_dir"`
	QueuePath          string  `json:"queue_path"`
	MaxEnvBytes        int     `json:"max_env_bytes"`
	SendRate           float64 `json:"send_rate"`
	RetryMax           int     `json:"retry_max"`
	RetryTimeout       float64 `json:"retry_timeout"`
	CollectionInterval float64 `json:"collection_interval"`
	DrainLimit         int     `json:"drain_limit"`
	MaxQueueBytes      int64   `json:"max_queue_bytes"`
	MetricsAddr        string  `json:"metrics_addr"`
	TracingEndpoint    string  `json:"tracing_endpoint"`
}

// DefaultAgentConfig returns the per-agent defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		BusAddress:         "127.0.0.1:50051",
		CertDir:            "/etc/amoskys/certs",
		QueuePath:          "/var/lib/amoskys/agent-ldq.db",
		MaxEnvBytes:        131072,
		SendRate:           10.0,
		RetryMax:           5,
		RetryTimeout:       2.0,
		CollectionInterval: 10.0,
		DrainLimit:         200,
		MaxQueueBytes:      64 * 1024 * 1024,
		MetricsAddr:        ":9101",
		TracingEndpoint:    "",
	}
}

// AgentConfigFromMap overlays a decoded map onto the defaults.
func AgentConfigFromMap(m map[string]any) *AgentConfig {
	c := DefaultAgentConfig()
	setString(m, "bus_address", &c.BusAddress)
	setString(m, "cert_dir", &c.CertDir)
	setString(m, "queue_path", &c.QueuePath)
	setInt(m, "max_env_bytes", &c.MaxEnvBytes)
	setFloat(m, "send_rate", &c.SendRate)
	setInt(m, "retry_max", &c.RetryMax)
	setFloat(m, "retry_timeout", &c.RetryTimeout)
	setFloat(m, "collection_interval", &c.CollectionInterval)
	setInt(m, "drain_limit", &c.DrainLimit)
	setInt64(m, "max_queue_bytes", &c.MaxQueueBytes)
	setString(m, "metrics_addr", &c.MetricsAddr)
	setString(m, "tracing_endpoint", &c.TracingEndpoint)
	return c
}

// ToMap serializes the config back to a generic map.
func (c *AgentConfig) ToMap() map[string]any {
	return map[string]any{
		"bus_address":         c.BusAddress,
		"cert_dir":            c.CertDir,
		"queue_path":          c.QueuePath,
		"max_env_bytes":       c.MaxEnvBytes,
		"send_rate":           c.SendRate,
		"retry_max":           c.RetryMax,
		"retry_timeout":       c.RetryTimeout,
		"collection_interval": c.CollectionInterval,
		"drain_limit":         c.DrainLimit,
		"max_queue_bytes":     c.MaxQueueBytes,
		"metrics_addr":        c.MetricsAddr,
		"tracing_endpoint":    c.TracingEndpoint,
	}
}

// FusionConfig configures the ingestor + fusion engine process (C7/C8).
type FusionConfig struct {
	WALPath           string `json:"wal_path"`
	AgentQueueGlob    string `json:"agent_queue_glob"`
	FusionDBPath      string `json:"fusion_db_path"`
	PollIntervalSec   int    `json:"poll_interval_sec"`
	WindowMinutes     int    `json:"window_minutes"`
	EvalIntervalSec   int    `json:"eval_interval"`
	SeenCacheCapacity int    `json:"seen_cache_capacity"`
	MetricsAddr       string `json:"metrics_addr"`
	WebAPIAddr        string `json:"webapi_addr"`
	TracingEndpoint   string `json:"tracing_endpoint"`
	ArchiveDSN        string `json:"archive_dsn"`
}

// DefaultFusionConfig returns the correlator process defaults.
func DefaultFusionConfig() *FusionConfig {
	return &FusionConfig{
		WALPath:           "/var/lib/amoskys/bus-wal.db",
		AgentQueueGlob:    "/var/lib/amoskys/agents/*.db",
		FusionDBPath:      "/var/lib/amoskys/fusion.db",
		PollIntervalSec:   10,
		WindowMinutes:     30,
		EvalIntervalSec:   60,
		SeenCacheCapacity: 10000,
		MetricsAddr:       ":9102",
		WebAPIAddr:        ":9103",
		TracingEndpoint:   "",
		ArchiveDSN:        "",
	}
}

// FusionConfigFromMap overlays a decoded map onto the defaults.
func FusionConfigFromMap(m map[string]any) *FusionConfig {
	c := DefaultFusionConfig()
	setString(m, "wal_path", &c.WALPath)
	setString(m, "agent_queue_glob", &c.AgentQueueGlob)
	setString(m, "fusion_db_path", &c.FusionDBPath)
	setInt(m, "poll_interval_sec", &c.PollIntervalSec)
	setInt(m, "window_minutes", &c.WindowMinutes)
	setInt(m, "eval_interval", &c.EvalIntervalSec)
	setInt(m, "seen_cache_capacity", &c.SeenCacheCapacity)
	setString(m, "metrics_addr", &c.MetricsAddr)
	setString(m, "webapi_addr", &c.WebAPIAddr)
	setString(m, "tracing_endpoint", &c.TracingEndpoint)
	setString(m, "archive_dsn", &c.ArchiveDSN)
	return c
}

// ToMap serializes the config back to a generic map.
func (c *FusionConfig) ToMap() map[string]any {
	return map[string]any{
		"wal_path":            c.WALPath,
		"agent_queue_glob":    c.AgentQueueGlob,
		"fusion_db_path":      c.FusionDBPath,
		"poll_interval_sec":   c.PollIntervalSec,
		"window_minutes":      c.WindowMinutes,
		"eval_interval":       c.EvalIntervalSec,
		"seen_cache_capacity": c.SeenCacheCapacity,
		"metrics_addr":        c.MetricsAddr,
		"webapi_addr":         c.WebAPIAddr,
		"tracing_endpoint":    c.TracingEndpoint,
		"archive_dsn":         c.ArchiveDSN,
	}
}

// --- coercion helpers, mirroring CoreConfigFromMap's int/float64 tolerance ---

func setString(m map[string]any, key string, dst *string) {
	if v, ok := m[key].(string); ok {
		*dst = v
	}
}

func setInt(m map[string]any, key string, dst *int) {
	if v, ok := m[key].(int); ok {
		*dst = v
	} else if v, ok := m[key].(float64); ok {
		*dst = int(v)
	}
}

func setInt64(m map[string]any, key string, dst *int64) {
	if v, ok := m[key].(int64); ok {
		*dst = v
	} else if v, ok := m[key].(float64); ok {
		*dst = int64(v)
	} else if v, ok := m[key].(int); ok {
		*dst = int64(v)
	}
}

func setFloat(m map[string]any, key string, dst *float64) {
	if v, ok := m[key].(float64); ok {
		*dst = v
	} else if v, ok := m[key].(int); ok {
		*dst = float64(v)
	}
}

// --- global bus config, mirroring GetCoreConfig/SetCoreConfig/ResetCoreConfig ---

var (
	globalBusConfig *BusConfig
	busConfigMu     sync.RWMutex
)

// GetBusConfig returns the injected bus config, or defaults if none was set.
func GetBusConfig() *BusConfig {
	busConfigMu.RLock()
	defer busConfigMu.RUnlock()
	if globalBusConfig == nil {
		return DefaultBusConfig()
	}
	return globalBusConfig
}

// SetBusConfig installs the process-wide bus config, typically called
// once from cmd/bus's main after parsing flags/files.
func SetBusConfig(c *BusConfig) {
	busConfigMu.Lock()
	defer busConfigMu.Unlock()
	globalBusConfig = c
}

// ResetBusConfig clears the injected config (test teardown).
func ResetBusConfig() {
	busConfigMu.Lock()
	defer busConfigMu.Unlock()
	globalBusConfig = nil
}
