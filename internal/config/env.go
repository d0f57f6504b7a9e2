package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "TREESYNC_CONFIG"
	EnvTree    = "TREESYNC_TREE"
	EnvRootDir = "TREESYNC_ROOT_DIR"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // TREESYNC_CONFIG: override config file path
	Tree       string // TREESYNC_TREE: active tree-profile name
	RootDir    string // TREESYNC_ROOT_DIR: display-tree root override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Tree:       os.Getenv(EnvTree),
		RootDir:    os.Getenv(EnvRootDir),
	}
}

// CLIOverrides holds values derived from command-line flags. These take
// precedence over both the config file and environment variables in the
// four-layer override chain.
type CLIOverrides struct {
	ConfigPath string // --config
	Tree       string // --tree
	RootDir    string // --root-dir
}
