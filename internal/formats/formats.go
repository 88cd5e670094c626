// Package formats holds the table of file extensions each operation accepts.
package formats

import (
	"path/filepath"
	"strings"
)

// Operation names a transform the user can request.
type Operation string

const (
	OpNone       Operation = "none"
	OpCompress   Operation = "compress"
	OpMerge      Operation = "merge"
	OpSplit      Operation = "split"
	OpDelete     Operation = "delete"
	OpConvertPPT Operation = "convert-ppt"
	OpConvertDoc Operation = "convert-doc"
	OpConvertImg Operation = "convert-img"
)

// Operations lists every selectable operation in menu order.
var Operations = []Operation{OpCompress, OpMerge, OpSplit, OpDelete, OpConvertPPT, OpConvertImg, OpConvertDoc}

var table = map[Operation][]string{
	OpCompress:   {"pdf"},
	OpMerge:      {"pdf"},
	OpSplit:      {"pdf"},
	OpDelete:     {"pdf"},
	OpConvertPPT: {"ppt", "pptx", "odp"},
	OpConvertDoc: {"odt", "doc", "docx"},
	OpConvertImg: {"jpg", "jpeg", "png", "gif", "tiff", "webp", "bmp"},
}

// Valid reports whether op is a known operation other than OpNone.
func (op Operation) Valid() bool {
	_, ok := table[op]
	return ok
}

// SingleFile reports whether op works on exactly one document and a page range.
func (op Operation) SingleFile() bool {
	return op == OpSplit || op == OpDelete
}

// Office reports whether op goes through the office converter.
func (op Operation) Office() bool {
	return op == OpConvertPPT || op == OpConvertDoc
}

// MinFiles is the number of staged files op needs before it can run.
func (op Operation) MinFiles() int {
	if op == OpMerge {
		return 2
	}
	return 1
}

// Parse maps a name to an Operation, returning OpNone for unknown input.
func Parse(name string) Operation {
	op := Operation(strings.ToLower(strings.TrimSpace(name)))
	if op.Valid() {
		return op
	}
	return OpNone
}

// Extension returns the lowercase text after the final dot of name, or "".
func Extension(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	idx := strings.LastIndex(base, ".")
	if idx < 0 || idx == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[idx+1:])
}

// Allowed reports whether fileName's extension is accepted by op and returns
// the accepted list for error messages.
func Allowed(fileName string, op Operation) (bool, []string) {
	accepted := table[op]
	list := append([]string(nil), accepted...)
	ext := Extension(fileName)
	if ext == "" {
		return false, list
	}
	for _, candidate := range accepted {
		if candidate == ext {
			return true, list
		}
	}
	return false, list
}
