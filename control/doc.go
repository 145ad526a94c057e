// Package control
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Configuration, statistics and debug introspection for the runtime.
//
// Provides:
//   - RuntimeConfig: immutable configuration loaded from defaults, a TOML
//     file and HIOLOAD_RT_* environment variables
//   - RuntimeStats: sharded counters and gauges updated from every worker
//   - Collector: Prometheus export of a RuntimeStats
//   - DebugProbes: named state probes for live inspection
//   - NewLogger: the logrus logger used by runtime components
package control
