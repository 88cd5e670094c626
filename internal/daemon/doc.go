// Package daemon coordinates the long-running pdfile process.
//
// It wires configuration, the prompt catalog, staging, the transform engine,
// job history, and the workflow engine into a single lifecycle guarded by a
// flock-based single-instance lock. Start runs preflight checks, clears
// staging left behind by a previous process, launches the staging sweeper,
// and begins polling the chat transport when one is configured.
//
// The control socket reaches the engine through Send, which injects an event
// on the local channel and returns the prompts rendered for it. Keep
// conversation logic in the workflow package; the daemon only owns startup,
// shutdown, and wiring.
package daemon
