package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen to be safe, reasonable
// starting points that work for most users without any config file.
const (
	defaultSigBatchIntervalMs    = 250
	defaultSigBytesHighWatermark = 64 * 1024 * 1024 // 64 MiB per batch
	defaultGDrivePollInterval    = "5m"
	defaultFixedHost             = "127.0.0.1"
	defaultFixedPort             = 0 // 0 = OS-assigned ephemeral port
	defaultStagingDirName        = ".treesync-staging"
	defaultLogLevel              = "info"
	defaultLogFormat             = "auto"
	defaultLogRetentionDays      = 30
	defaultConnectTimeout        = "10s"
	defaultDataTimeout           = "60s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Trees:    make(map[string]TreeProfile),
		Cache:    defaultCacheConfig(),
		Agent:    defaultAgentConfig(),
		Executor: defaultExecutorConfig(),
		Logging:  defaultLoggingConfig(),
		Network:  defaultNetworkConfig(),
		UIState:  make(map[string]map[string]any),
	}
}

func defaultCacheConfig() CacheConfig {
	return CacheConfig{
		EnableMD5Lookup:    true,
		EnableSHA256Lookup: true,
		LocalDisk: LocalDiskCacheCfg{
			Signatures: SignatureCfg{
				BatchIntervalMs:            defaultSigBatchIntervalMs,
				BytesPerBatchHighWatermark: defaultSigBytesHighWatermark,
			},
		},
		GDrive: GDriveCacheCfg{
			PollInterval: defaultGDrivePollInterval,
		},
	}
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		RPC: AgentRPCConfig{
			UseFixedAddress: false,
			FixedHost:       defaultFixedHost,
			FixedPort:       defaultFixedPort,
		},
		LocalDisk: AgentLocalDiskConfig{
			StagingDir: StagingDirConfig{
				Location:       defaultStagingDirName,
				ClearOnStartup: true,
			},
		},
	}
}

func defaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		EnableOpExecutionThread: true,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}
