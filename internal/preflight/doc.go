// Package preflight provides readiness checks for the filesystem paths and
// external tools that pdfile depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check.
//   - The CLI "pdfile deps" command renders CheckSystemDeps and RunAll as tables.
//
// The stager reuses FreeBytes before accepting each upload.
package preflight
