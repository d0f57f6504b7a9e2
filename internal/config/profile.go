package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Valid tree_type values for a registered device.
const (
	TreeTypeLocalDisk = "LOCAL_DISK"
	TreeTypeGDrive    = "GDRIVE"
	TreeTypeMixed     = "MIXED"
)

// Default root path when none is specified.
const defaultRootPath = "/"

// Default tree name when --tree is omitted.
const defaultTreeName = "default"

// TreeProfile represents a single registered display-tree root within a TOML
// config file. Per-tree section
// overrides (e.g. [tree.work.cache]) completely replace the corresponding
// global section — individual fields are not merged.
type TreeProfile struct {
	TreeType     string `toml:"tree_type"`
	RootPath     string `toml:"root_path"`
	DeviceUID    uint64 `toml:"device_uid"`
	FriendlyName string `toml:"friendly_name"`
	DriveID      string `toml:"drive_id"`

	// Per-tree section overrides (completely replace global sections).
	Cache    *CacheConfig    `toml:"cache,omitempty"`
	Executor *ExecutorConfig `toml:"executor,omitempty"`
	Logging  *LoggingConfig  `toml:"logging,omitempty"`
	Network  *NetworkConfig  `toml:"network,omitempty"`
}

// ResolvedTree contains tree-profile fields plus effective config sections
// after merging global defaults with per-tree overrides. This is the final
// product consumed by the CLI and cache manager.
type ResolvedTree struct {
	Name         string
	TreeType     string
	RootPath     string
	DeviceUID    uint64
	FriendlyName string
	DriveID      string

	Cache    CacheConfig
	Executor ExecutorConfig
	Logging  LoggingConfig
	Network  NetworkConfig
}

// ResolveTree merges global defaults with tree-profile-specific overrides.
// If treeName is empty, the default tree is selected. Section-level override
// semantics are "replace, not merge" — if a tree defines [tree.work.cache],
// that entire CacheConfig replaces the global one.
func ResolveTree(cfg *Config, treeName string) (*ResolvedTree, error) {
	name, err := resolveTreeName(cfg, treeName)
	if err != nil {
		return nil, err
	}

	tree := cfg.Trees[name]

	resolved := &ResolvedTree{
		Name:         name,
		TreeType:     tree.TreeType,
		RootPath:     expandTilde(tree.RootPath),
		DeviceUID:    tree.DeviceUID,
		FriendlyName: tree.FriendlyName,
		DriveID:      tree.DriveID,
	}

	if resolved.RootPath == "" {
		resolved.RootPath = defaultRootPath
	}

	resolveTreeSections(resolved, &tree, cfg)

	return resolved, nil
}

// resolveTreeSections fills effective config sections on the resolved tree.
func resolveTreeSections(resolved *ResolvedTree, tree *TreeProfile, cfg *Config) {
	resolved.Cache = resolveSection(tree.Cache, cfg.Cache)
	resolved.Executor = resolveSection(tree.Executor, cfg.Executor)
	resolved.Logging = resolveSection(tree.Logging, cfg.Logging)
	resolved.Network = resolveSection(tree.Network, cfg.Network)
}

// resolveSection returns the tree override if present, otherwise the global value.
func resolveSection[T any](override *T, global T) T {
	if override != nil {
		return *override
	}

	return global
}

// resolveTreeName determines which tree profile to use.
func resolveTreeName(cfg *Config, treeName string) (string, error) {
	if len(cfg.Trees) == 0 {
		return "", fmt.Errorf("no tree roots defined in config")
	}

	if treeName != "" {
		return lookupExplicitTree(cfg, treeName)
	}

	return lookupDefaultTree(cfg)
}

// lookupExplicitTree validates that the named tree profile exists.
func lookupExplicitTree(cfg *Config, name string) (string, error) {
	if _, ok := cfg.Trees[name]; !ok {
		return "", fmt.Errorf("tree %q not found in config", name)
	}

	return name, nil
}

// lookupDefaultTree finds the default tree profile when no name is given.
func lookupDefaultTree(cfg *Config) (string, error) {
	if _, ok := cfg.Trees[defaultTreeName]; ok {
		return defaultTreeName, nil
	}

	if len(cfg.Trees) == 1 {
		for name := range cfg.Trees {
			return name, nil
		}
	}

	return "", fmt.Errorf(
		"multiple tree roots defined but none named %q; use --tree to select one",
		defaultTreeName)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// TreeCacheDBPath returns the per-device cache database path for a tree.
// Format: {cacheDir}/trees/{tree}.db
func TreeCacheDBPath(treeName string) string {
	cacheDir := DefaultCacheDir()
	if cacheDir == "" {
		return ""
	}

	return filepath.Join(cacheDir, "trees", treeName+".db")
}
