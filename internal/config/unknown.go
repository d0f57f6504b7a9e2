package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// passthroughTopKeys are top-level sections whose contents are opaque to
// the backend (frontend-owned blobs) or are already fully structurally
// typed by TOML decode, so no leaf-level unknown-key check applies.
var passthroughTopKeys = map[string]bool{
	"ui_state": true,
	"display":  true,
	"tree":     true,
}

// knownLeafKeys are the valid leaf field names across the flat global
// config sections (cache, agent, user_ops, executor, logging, network).
// Section identity is not tracked, matching how TOML undecoded keys are
// reported: by dotted path, without distinguishing which struct a leaf
// belongs to.
var knownLeafKeys = map[string]bool{
	"enable_md5_lookup": true, "enable_sha256_lookup": true, "local_disk": true,
	"gdrive": true, "signatures": true, "batch_interval_ms": true,
	"bytes_per_batch_high_watermark": true, "poll_interval": true,
	"rpc": true, "use_fixed_address": true, "fixed_host": true, "fixed_port": true,
	"staging_dir": true, "location": true, "clear_on_startup": true,
	"update_meta_for_dst_nodes": true,
	"enable_op_execution_thread": true,
	"treeview": true,
	"log_level": true, "log_file": true, "log_format": true, "log_retention_days": true,
	"connect_timeout": true, "data_timeout": true, "user_agent": true,
	"read_only_config": true,
}

// knownLeafKeysList is the sorted slice form of knownLeafKeys for
// Levenshtein matching. Sorted for deterministic suggestions when two
// candidates have the same edit distance.
var knownLeafKeysList = func() []string {
	keys := make([]string, 0, len(knownLeafKeys))
	for k := range knownLeafKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// knownTreeFieldKeys are the valid leaf field names inside a [tree.<name>] section.
var knownTreeFieldKeys = map[string]bool{
	"tree_type": true, "root_path": true, "device_uid": true,
	"friendly_name": true, "drive_id": true,
	"cache": true, "executor": true, "logging": true, "network": true,
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		keyStr := key.String()
		topKey := strings.SplitN(keyStr, ".", 2)[0]

		if topKey == "tree" {
			if err := buildTreeKeyError(keyStr); err != nil {
				errs = append(errs, err)
			}

			continue
		}

		if passthroughTopKeys[topKey] {
			continue
		}

		if err := buildGlobalKeyError(keyStr); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// buildGlobalKeyError creates a descriptive error for an unknown key in a
// flat global section, optionally suggesting the closest known key.
func buildGlobalKeyError(keyStr string) error {
	parts := strings.Split(keyStr, ".")
	fieldName := parts[len(parts)-1]

	suggestion := closestMatch(fieldName, knownLeafKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q — did you mean %q?", keyStr, suggestion)
	}

	return fmt.Errorf("unknown config key %q", keyStr)
}

// buildTreeKeyError validates a key inside a [tree.<name>.*] section.
// The tree name itself (second path segment) is never flagged unknown —
// tree names are user-chosen, not from a fixed set.
func buildTreeKeyError(keyStr string) error {
	parts := strings.SplitN(keyStr, ".", 3)
	if len(parts) < 3 {
		return nil // just "tree.<name>" with no field — handled by struct decode
	}

	fieldName := strings.SplitN(parts[2], ".", 2)[0]
	if knownTreeFieldKeys[fieldName] {
		return nil // nested override section, validated by its own decode
	}

	keys := make([]string, 0, len(knownTreeFieldKeys))
	for k := range knownTreeFieldKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	suggestion := closestMatch(fieldName, keys)
	if suggestion != "" {
		return fmt.Errorf("unknown key %q in tree %q — did you mean %q?", fieldName, parts[1], suggestion)
	}

	return fmt.Errorf("unknown key %q in tree %q", fieldName, parts[1])
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
