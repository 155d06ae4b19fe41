// Package config loads, normalizes, and validates enginehost configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the worker daemon and the controller CLI need: runtime paths, the engine
// binary, the execution grant's notification text, binding timeouts, and
// notification/metrics endpoints.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
