package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

var pdfHeader = []byte("%PDF-1.7\n")

// WriteUpload places a staged upload of exactly size bytes at path, creating
// parent directories. The content starts with a PDF header and is padded with
// comment bytes, enough for format sniffing but not for a real PDF parser.
func WriteUpload(t testing.TB, path string, size int) {
	t.Helper()

	data := pdfHeader
	if pad := size - len(pdfHeader); pad > 0 {
		data = append(bytes.Clone(pdfHeader), bytes.Repeat([]byte{'%'}, pad)...)
	} else if size > 0 {
		data = pdfHeader[:size]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create upload directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write upload %s: %v", path, err)
	}
}
