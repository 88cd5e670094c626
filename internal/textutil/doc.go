// Package textutil normalizes user-supplied text for safe filesystem use.
//
// Uploaded documents keep a recognizable name on disk and in the archives
// sent back to the user, so names are transliterated to ASCII first (accents
// stripped, Cyrillic romanized) and then sanitized.
package textutil
