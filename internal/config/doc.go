// ABOUTME: Package config loads and validates marketmind YAML configuration.
// ABOUTME: Handles env var expansion, defaults, and duration parsing.

// Package config provides configuration loading for marketmind.
//
// Configuration is read from a YAML file with ${VAR} environment variable
// expansion. Fields that are policy rather than mechanism (loop bound,
// rate-limit presets, cache TTL) are exposed here rather than hardcoded.
package config
