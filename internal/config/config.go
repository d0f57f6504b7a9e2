// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for treesync.
package config

// Config is the top-level configuration structure. It contains named tree
// profiles (one per display-tree root a user has registered) and the global
// configuration sections that apply unless a tree profile overrides them.
type Config struct {
	Trees map[string]TreeProfile `toml:"tree"`

	Cache    CacheConfig    `toml:"cache"`
	Agent    AgentConfig    `toml:"agent"`
	UserOps  UserOpsConfig  `toml:"user_ops"`
	Executor ExecutorConfig `toml:"executor"`
	Display  DisplayConfig  `toml:"display"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`

	// ReadOnlyConfig, when true, refuses any write-through of config or
	// ui_state values.
	ReadOnlyConfig bool `toml:"read_only_config"`

	// UIState holds opaque per-tree-id UI state blobs
	// (ui_state.{tree_id}.root_device_uid | root_path | root_uid | root_exists
	// | offending_path). The backend only persists these; it never
	// interprets them.
	UIState map[string]map[string]any `toml:"ui_state"`
}

// CacheConfig controls the per-device tree stores and signature pipeline.
type CacheConfig struct {
	EnableMD5Lookup    bool              `toml:"enable_md5_lookup"`
	EnableSHA256Lookup bool              `toml:"enable_sha256_lookup"`
	LocalDisk          LocalDiskCacheCfg `toml:"local_disk"`
	GDrive             GDriveCacheCfg    `toml:"gdrive"`
}

// LocalDiskCacheCfg controls local-disk-specific cache behavior.
type LocalDiskCacheCfg struct {
	Signatures SignatureCfg `toml:"signatures"`
}

// SignatureCfg controls the background signature calculator (component E).
type SignatureCfg struct {
	BatchIntervalMs            int   `toml:"batch_interval_ms"`
	BytesPerBatchHighWatermark int64 `toml:"bytes_per_batch_high_watermark"`
}

// GDriveCacheCfg controls cloud-device polling cadence.
type GDriveCacheCfg struct {
	PollInterval string `toml:"poll_interval"`
}

// AgentConfig controls the agent boundary's RPC/notification transport.
type AgentConfig struct {
	RPC       AgentRPCConfig       `toml:"rpc"`
	LocalDisk AgentLocalDiskConfig `toml:"local_disk"`
}

// AgentRPCConfig controls discovery and transport for the agent's RPC surface.
type AgentRPCConfig struct {
	UseFixedAddress bool   `toml:"use_fixed_address"`
	FixedHost       string `toml:"fixed_host"`
	FixedPort       int    `toml:"fixed_port"`
}

// AgentLocalDiskConfig controls the staging directory used by the executor
// for local-disk copy-verify-rename operations.
type AgentLocalDiskConfig struct {
	StagingDir StagingDirConfig `toml:"staging_dir"`
}

// StagingDirConfig controls the staging directory lifecycle.
type StagingDirConfig struct {
	Location       string `toml:"location"`
	ClearOnStartup bool   `toml:"clear_on_startup"`
}

// UserOpsConfig controls user-initiated operation behavior.
type UserOpsConfig struct {
	UpdateMetaForDstNodes bool `toml:"update_meta_for_dst_nodes"`
}

// ExecutorConfig controls the operation executor/sequencer (component K).
type ExecutorConfig struct {
	EnableOpExecutionThread bool `toml:"enable_op_execution_thread"`
}

// DisplayConfig is purely frontend-facing; the backend only persists it.
type DisplayConfig struct {
	Treeview map[string]any `toml:"treeview"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls HTTP client behavior for the GDrive backend.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}
