package model

import (
	"encoding/json"
	"fmt"
)

// Fingerprint is a cheap summary of a file used to detect change. The zero
// value means unknown and never equals the fingerprint of a real file.
type Fingerprint struct {
	ModTime int64  `json:"mod_time"` // unix nanoseconds
	Size    int64  `json:"size"`
	Hash    uint64 `json:"hash,omitempty"`
}

// IsZero reports whether the fingerprint is unknown.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// String renders the fingerprint for logs.
func (f Fingerprint) String() string {
	if f.Hash != 0 {
		return fmt.Sprintf("%016x/%d", f.Hash, f.Size)
	}
	return fmt.Sprintf("%d/%d", f.ModTime, f.Size)
}

// SourceUnit is one tracked file.
type SourceUnit struct {
	AbsPath     string
	Path        string // slash-separated stable key
	Fingerprint Fingerprint
	Size        int64
}

// ErrorKind classifies file-scoped failures.
type ErrorKind string

const (
	SyntaxError   ErrorKind = "syntax"
	EncodingError ErrorKind = "encoding"
	ReadError     ErrorKind = "read"
)

// ErrorRecord describes why a file produced no DocModel.
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   string    `json:"cause,omitempty"`
	Line    int       `json:"line,omitempty"`
	Column  int       `json:"column,omitempty"`
}

func (e *ErrorRecord) Error() string {
	return e.Message
}

// ParseResult is the outcome of parsing one file: exactly one of Doc and Err
// is set.
type ParseResult struct {
	Path        string
	Fingerprint Fingerprint
	Doc         *DocModel
	Err         *ErrorRecord
}

// OK reports whether the result carries a DocModel.
func (r ParseResult) OK() bool {
	return r.Doc != nil && r.Err == nil
}

// MarshalJSON encodes the DocModel tree, or {"_error": message}.
func (r ParseResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]string{"_error": r.Err.Message})
	}
	if r.Doc == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.Doc)
}

// NewError builds a failed ParseResult.
func NewError(path string, kind ErrorKind, format string, args ...any) ParseResult {
	return ParseResult{
		Path: path,
		Err:  &ErrorRecord{Kind: kind, Message: fmt.Sprintf(format, args...)},
	}
}
