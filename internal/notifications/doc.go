// Package notifications delivers operator alerts via ntfy.
//
// The ntfy implementation publishes to the topic configured in config.toml and
// degrades to a no-op when no topic is set. Only daemon lifecycle, failed
// preflight checks, and failed jobs are reported; users hear about their own
// jobs through the chat transport.
package notifications
