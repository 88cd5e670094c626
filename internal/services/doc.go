// Package services defines shared utilities consumed by the workflow engine,
// the job dispatcher, and the transport adapters.
//
// Key responsibilities:
//   - Context helpers that stamp user IDs, operation names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the three outcomes the engine cares about: rejected input (re-prompt,
//     keep the session), failed staging (same as rejected input), and failed
//     transforms (reset the session to idle).
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability) stays uniform across the conversation pipeline.
package services
