// Package config loads, normalizes, and validates pdfile configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PDFILE_TELEGRAM_TOKEN and NTFY_TOPIC, which may also come from a .env file.
// The Config type centralizes every knob the daemon and CLI need, so staging
// directories, upload limits, and transport credentials are discovered in one
// pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
