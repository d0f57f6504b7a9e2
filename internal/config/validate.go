package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minLogRetention    = 1
	minPollInterval    = 5 * time.Minute
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	minSigBatchMs      = 10
	minFixedPort       = 0
	maxFixedPort       = 65535
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateTrees(cfg.Trees)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateAgent(&cfg.Agent)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolvedTree checks cross-field constraints on a fully resolved
// tree profile. Unlike Validate(), which checks raw config file values, this
// runs after the four-layer override chain (defaults -> file -> env -> CLI)
// has been applied. It catches constraints that only make sense on the
// final merged result.
func ValidateResolvedTree(rt *ResolvedTree) error {
	var errs []error

	if rt.RootPath != "" && !filepath.IsAbs(rt.RootPath) {
		errs = append(errs, fmt.Errorf("root_path: must be absolute after expansion, got %q", rt.RootPath))
	}

	if !validTreeTypes[rt.TreeType] {
		errs = append(errs, fmt.Errorf(
			"tree_type: must be one of LOCAL_DISK, GDRIVE, MIXED; got %q", rt.TreeType))
	}

	if rt.TreeType == TreeTypeGDrive && rt.DriveID == "" {
		errs = append(errs, errors.New("drive_id: required when tree_type is GDRIVE"))
	}

	return errors.Join(errs...)
}

var validTreeTypes = map[string]bool{
	TreeTypeLocalDisk: true,
	TreeTypeGDrive:    true,
	TreeTypeMixed:     true,
}

// validateTrees checks all tree-profile-level constraints: required fields,
// per-tree setting validity, and root_path uniqueness within a device.
func validateTrees(trees map[string]TreeProfile) []error {
	if len(trees) == 0 {
		return nil // no trees is valid on first run, before any are registered
	}

	var errs []error

	roots := make(map[string]string, len(trees))
	byDevice := make(map[uint64]map[string]string)

	for name := range trees {
		tree := trees[name]
		errs = append(errs, validateSingleTree(name, &tree)...)
		errs = append(errs, checkDuplicateRoot(name, &tree, roots)...)

		if tree.RootPath != "" {
			if byDevice[tree.DeviceUID] == nil {
				byDevice[tree.DeviceUID] = make(map[string]string)
			}

			byDevice[tree.DeviceUID][expandTilde(tree.RootPath)] = name
		}
	}

	for _, paths := range byDevice {
		errs = append(errs, checkRootOverlap(paths)...)
	}

	return errs
}

// checkRootOverlap detects ancestor/descendant relationships between root
// paths registered on the same device. Two trees whose roots overlap would
// process the same files twice under different tree names.
func checkRootOverlap(paths map[string]string) []error {
	type entry struct {
		path string
		name string
	}

	entries := make([]entry, 0, len(paths))
	for path, name := range paths {
		entries = append(entries, entry{path: filepath.Clean(path), name: name})
	}

	var errs []error

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if isAncestorOrDescendant(entries[i].path, entries[j].path) {
				errs = append(errs, fmt.Errorf(
					"root_path overlap: tree %q and tree %q have nested directories (%s, %s)",
					entries[i].name, entries[j].name, entries[i].path, entries[j].path))
			}
		}
	}

	return errs
}

// validateSingleTree validates one tree profile's fields and section overrides.
func validateSingleTree(name string, t *TreeProfile) []error {
	var errs []error

	errs = append(errs, validateTreeType(name, t.TreeType)...)
	errs = append(errs, validateRootPath(name, t.RootPath)...)
	errs = append(errs, validateTreeDriveID(name, t)...)
	errs = append(errs, validateTreeOverrides(t)...)

	return errs
}

// validateTreeType checks that tree_type is one of the valid values.
func validateTreeType(treeName, treeType string) []error {
	if !validTreeTypes[treeType] {
		return []error{fmt.Errorf(
			"tree.%s.tree_type: must be one of LOCAL_DISK, GDRIVE, MIXED; got %q",
			treeName, treeType)}
	}

	return nil
}

// validateRootPath checks that root_path is set.
func validateRootPath(treeName, rootPath string) []error {
	if rootPath == "" {
		return []error{fmt.Errorf("tree.%s.root_path: must not be empty", treeName)}
	}

	return nil
}

// validateTreeDriveID checks that drive_id is set for GDRIVE trees.
func validateTreeDriveID(treeName string, t *TreeProfile) []error {
	if t.TreeType == TreeTypeGDrive && t.DriveID == "" {
		return []error{fmt.Errorf(
			"tree.%s.drive_id: required for tree_type GDRIVE", treeName)}
	}

	return nil
}

// checkDuplicateRoot ensures no two tree profiles on the same device share
// the same expanded root_path. Overlap across devices is permitted since
// device UIDs are the true namespace boundary.
func checkDuplicateRoot(name string, t *TreeProfile, seen map[string]string) []error {
	if t.RootPath == "" {
		return nil
	}

	key := fmt.Sprintf("%d:%s", t.DeviceUID, expandTilde(t.RootPath))

	if other, exists := seen[key]; exists {
		return []error{fmt.Errorf(
			"tree.%s.root_path: %q conflicts with tree.%s (same device and directory)",
			name, t.RootPath, other)}
	}

	seen[key] = name

	return nil
}

// validateTreeOverrides validates per-tree section overrides.
func validateTreeOverrides(t *TreeProfile) []error {
	var errs []error

	if t.Cache != nil {
		errs = append(errs, validateCache(t.Cache)...)
	}

	if t.Executor != nil {
		errs = append(errs, validateExecutor(t.Executor)...)
	}

	if t.Logging != nil {
		errs = append(errs, validateLogging(t.Logging)...)
	}

	if t.Network != nil {
		errs = append(errs, validateNetwork(t.Network)...)
	}

	return errs
}

func validateCache(c *CacheConfig) []error {
	var errs []error

	if c.LocalDisk.Signatures.BatchIntervalMs < minSigBatchMs {
		errs = append(errs, fmt.Errorf(
			"cache.local_disk.signatures.batch_interval_ms: must be >= %d, got %d",
			minSigBatchMs, c.LocalDisk.Signatures.BatchIntervalMs))
	}

	if c.LocalDisk.Signatures.BytesPerBatchHighWatermark <= 0 {
		errs = append(errs, errors.New(
			"cache.local_disk.signatures.bytes_per_batch_high_watermark: must be > 0"))
	}

	if c.GDrive.PollInterval != "" {
		errs = append(errs, validateDurationMin(
			"cache.gdrive.poll_interval", c.GDrive.PollInterval, minPollInterval)...)
	}

	return errs
}

func validateAgent(a *AgentConfig) []error {
	var errs []error

	if a.RPC.FixedPort < minFixedPort || a.RPC.FixedPort > maxFixedPort {
		errs = append(errs, fmt.Errorf(
			"agent.rpc.fixed_port: must be between %d and %d, got %d",
			minFixedPort, maxFixedPort, a.RPC.FixedPort))
	}

	if a.RPC.UseFixedAddress && a.RPC.FixedHost == "" {
		errs = append(errs, errors.New(
			"agent.rpc.fixed_host: must not be empty when use_fixed_address is true"))
	}

	return errs
}

func validateExecutor(_ *ExecutorConfig) []error {
	return nil
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

// isAncestorOrDescendant returns true if a is an ancestor of b or b is an
// ancestor of a. Uses filepath.Separator suffix to avoid false positives from
// path prefixes (e.g., "/data" vs "/data2").
func isAncestorOrDescendant(a, b string) bool {
	aSlash := a + string(filepath.Separator)
	bSlash := b + string(filepath.Separator)

	return strings.HasPrefix(bSlash, aSlash) || strings.HasPrefix(aSlash, bSlash)
}
