// Package history records every dispatched job in a small SQLite database
// next to the logs. Sessions themselves stay in memory; the history exists
// for operators ("pdfile history") and is never read by the workflow engine.
package history
