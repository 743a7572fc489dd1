// Package config loads, validates, and defaults the TOML configuration for
// the taxwire daemon and CLI.
package config
