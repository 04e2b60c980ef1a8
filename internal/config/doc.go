// Package config provides configuration for the script bridge.
//
// Configuration is loaded from environment variables with defaults, then an
// optional settings file named by BRIDGE_CONFIG (TOML or YAML, chosen by
// extension) is decoded on top. The engine reloads configuration on every
// reapply, so edits take effect with the next runtime.
//
// Configuration Sections:
//   - Scripts: script directory, discovery patterns, library directory
//   - Engine: call stack limit, timer floor
//   - Spawn: terminal mode, line size limit
//   - Net: request timeout, retries, user agent, per-host circuit breaker
//   - Logging: log level and output format
//   - Control: remote-control listen address, rate limit, CORS origins, REPL
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("loading scripts from %s\n", cfg.Scripts.Dir)
//
// Environment Variables:
//   - BRIDGE_SCRIPTS_DIR, BRIDGE_SCRIPTS_PATTERNS, BRIDGE_LIB_DIR, BRIDGE_SCRIPTS_ENABLED
//   - BRIDGE_MAX_CALL_STACK, BRIDGE_TIMER_FLOOR_MS
//   - BRIDGE_SPAWN_TERMINAL, BRIDGE_SPAWN_MAX_LINE
//   - BRIDGE_NET_TIMEOUT_MS, BRIDGE_NET_RETRIES, BRIDGE_NET_USER_AGENT
//   - BRIDGE_NET_BREAKER_THRESHOLD, BRIDGE_NET_BREAKER_COOLDOWN_MS
//   - BRIDGE_LOG_LEVEL, BRIDGE_LOG_DEV
//   - BRIDGE_CONTROL_ENABLED, BRIDGE_CONTROL_ADDR, BRIDGE_CONTROL_RPS, BRIDGE_CONTROL_BURST
//   - BRIDGE_CONTROL_ORIGINS, BRIDGE_CONTROL_REPL
//   - BRIDGE_CONFIG
package config
