package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(rt *ResolvedTree, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for tree %q\n\n", rt.Name)

	renderTreeSection(ew, rt)
	renderCacheSection(ew, &rt.Cache)
	renderExecutorSection(ew, &rt.Executor)
	renderLoggingSection(ew, &rt.Logging)
	renderNetworkSection(ew, &rt.Network)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderTreeSection(ew *errWriter, rt *ResolvedTree) {
	ew.printf("[tree]\n")
	ew.printf("  name        = %q\n", rt.Name)
	ew.printf("  tree_type   = %q\n", rt.TreeType)
	ew.printf("  root_path   = %q\n", rt.RootPath)
	ew.printf("  device_uid  = %d\n", rt.DeviceUID)

	if rt.FriendlyName != "" {
		ew.printf("  friendly_name = %q\n", rt.FriendlyName)
	}

	if rt.DriveID != "" {
		ew.printf("  drive_id    = %q\n", rt.DriveID)
	}

	ew.printf("\n")
}

func renderCacheSection(ew *errWriter, c *CacheConfig) {
	ew.printf("[cache]\n")
	ew.printf("  enable_md5_lookup    = %t\n", c.EnableMD5Lookup)
	ew.printf("  enable_sha256_lookup = %t\n", c.EnableSHA256Lookup)
	ew.printf("  signatures.batch_interval_ms              = %d\n", c.LocalDisk.Signatures.BatchIntervalMs)
	ew.printf("  signatures.bytes_per_batch_high_watermark = %d\n", c.LocalDisk.Signatures.BytesPerBatchHighWatermark)
	ew.printf("  gdrive.poll_interval = %q\n", c.GDrive.PollInterval)
	ew.printf("\n")
}

func renderExecutorSection(ew *errWriter, e *ExecutorConfig) {
	ew.printf("[executor]\n")
	ew.printf("  enable_op_execution_thread = %t\n", e.EnableOpExecutionThread)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_format         = %q\n", l.LogFormat)
	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}
}
