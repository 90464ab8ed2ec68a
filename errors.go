package mustache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies template errors.
type ErrorKind string

const (
	ErrorKindUnclosedTag     ErrorKind = "unclosed_tag"
	ErrorKindClosingMismatch ErrorKind = "closing_tag_mismatch"
	ErrorKindDelimiter       ErrorKind = "delimiter_syntax"
	ErrorKindPartialNotFound ErrorKind = "partial_not_found"
	ErrorKindPartialDepth    ErrorKind = "partial_depth"
)

// Sentinels matched with errors.Is against any *Error of the same kind.
var (
	ErrUnclosedTag        = errors.New("mustache: unclosed tag")
	ErrClosingTagMismatch = errors.New("mustache: non-matching closing tag")
	ErrDelimiterSyntax    = errors.New("mustache: invalid delimiter tag")
	ErrPartialNotFound    = errors.New("mustache: partial not found")
	ErrPartialDepth       = errors.New("mustache: partial nesting too deep")
)

var kindSentinels = map[ErrorKind]error{
	ErrorKindUnclosedTag:     ErrUnclosedTag,
	ErrorKindClosingMismatch: ErrClosingTagMismatch,
	ErrorKindDelimiter:       ErrDelimiterSyntax,
	ErrorKindPartialNotFound: ErrPartialNotFound,
	ErrorKindPartialDepth:    ErrPartialDepth,
}

// Error is a fatal tokenize or render error. Line and Column are 1-based
// and point at the offending tag, or at the name inside it for partial
// errors; they are zero for errors that have no position.
type Error struct {
	Kind    ErrorKind
	Line    int
	Column  int
	Offset  int
	Tag     string // raw text of the offending tag
	Name    string // section or partial name involved, if any
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d, column %d", e.Line, e.Column)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Tag != "" {
		fmt.Fprintf(&b, " (%q)", e.Tag)
	}
	if e.Cause != nil && !isSentinel(e.Cause) {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the cause when present, otherwise the kind's sentinel.
func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return kindSentinels[e.Kind]
}

// Is lets errors.Is match a kind sentinel even when Cause holds another error.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

func isSentinel(err error) bool {
	for _, s := range kindSentinels {
		if err == s {
			return true
		}
	}
	return false
}

// newPosError builds an error positioned at offset within src.
func newPosError(kind ErrorKind, src string, offset, end int, msg string) *Error {
	line, col := lineColumn(src, offset)
	tag := ""
	if end > offset && end <= len(src) {
		tag = src[offset:end]
	}
	return &Error{
		Kind:    kind,
		Line:    line,
		Column:  col,
		Offset:  offset,
		Tag:     tag,
		Message: msg,
	}
}

// lineColumn converts a byte offset into a 1-based line and column.
func lineColumn(src string, offset int) (line, col int) {
	if offset > len(src) {
		offset = len(src)
	}
	head := src[:offset]
	line = strings.Count(head, "\n") + 1
	col = offset - (strings.LastIndexByte(head, '\n') + 1) + 1
	return line, col
}
