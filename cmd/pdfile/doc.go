// Package main hosts the pdfile CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground (serve) and
// translates terminal invocations into IPC calls against it: driving a chat
// session on the local channel, listing and resetting sessions, reading job
// history, and sending test notifications. Staging maintenance, dependency
// checks, and configuration scaffolding work without a running daemon.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
