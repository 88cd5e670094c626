package textutil

import (
	"path/filepath"
	"strings"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
	"\x00", "",
)

// maxFileNameBytes keeps staged names well under common filesystem limits.
const maxFileNameBytes = 180

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is trimmed of leading/trailing whitespace.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// SafeFileName transliterates and sanitizes an uploaded file name, keeping
// the extension. Empty or dot-only names fall back to fallback.
func SafeFileName(name, fallback string) string {
	cleaned := SanitizeFileName(Transliterate(name))
	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		cleaned = fallback
	}
	if len(cleaned) > maxFileNameBytes {
		ext := filepath.Ext(cleaned)
		if len(ext) > 16 {
			ext = ""
		}
		cleaned = strings.TrimSpace(cleaned[:maxFileNameBytes-len(ext)]) + ext
	}
	return cleaned
}

// Stem returns name without its final extension.
func Stem(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base
}
