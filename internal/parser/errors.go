package parser

import (
	"errors"
	"fmt"

	"github.com/shre-db/linked-squad/go/assistant/internal/util"
)

// previewLength bounds the offending text carried by a ParseError.
const previewLength = 200

// ErrParse matches every *ParseError via errors.Is.
var ErrParse = errors.New("structured response parse failed")

var (
	errEmpty     = errors.New("empty content")
	errNotObject = errors.New("payload is not a JSON object")
)

// Kind classifies a parse failure.
type Kind string

const (
	KindEmpty             Kind = "empty"
	KindTruncated         Kind = "truncated"
	KindMalformedEscaping Kind = "malformed_escaping"
	KindMalformed         Kind = "malformed"
)

// Diagnostics describes the structural balance of a candidate payload. Counts
// exclude characters inside string literals.
type Diagnostics struct {
	OpenBraces         int  `json:"open_braces"`
	CloseBraces        int  `json:"close_braces"`
	OpenBrackets       int  `json:"open_brackets"`
	CloseBrackets      int  `json:"close_brackets"`
	UnescapedQuotes    int  `json:"unescaped_quotes"`
	ControlChars       int  `json:"control_chars"`
	InvalidEscapes     int  `json:"invalid_escapes"`
	UnterminatedString bool `json:"unterminated_string"`
}

// LikelyTruncated reports whether the payload looks cut off rather than badly escaped.
func (d Diagnostics) LikelyTruncated() bool {
	return d.UnterminatedString || d.OpenBraces > d.CloseBraces || d.OpenBrackets > d.CloseBrackets
}

func (d Diagnostics) hasEscapingDefects() bool {
	return d.UnescapedQuotes > 0 || d.ControlChars > 0 || d.InvalidEscapes > 0
}

// ParseError is returned for every parse failure.
type ParseError struct {
	Kind        Kind
	Cause       error
	Preview     string
	Diagnostics Diagnostics
}

func (e *ParseError) Error() string {
	if e.Kind == KindEmpty {
		return "parse failed: empty content"
	}
	return fmt.Sprintf("parse failed (%s): %v; braces %d/%d, brackets %d/%d, unescaped quotes %d; preview: %q",
		e.Kind, e.Cause,
		e.Diagnostics.OpenBraces, e.Diagnostics.CloseBraces,
		e.Diagnostics.OpenBrackets, e.Diagnostics.CloseBrackets,
		e.Diagnostics.UnescapedQuotes, e.Preview)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func newEmptyError() *ParseError {
	return &ParseError{Kind: KindEmpty, Cause: errEmpty}
}

func newParseError(cause error, candidate string) *ParseError {
	_, stats := scan(candidate)
	diag := stats.diagnostics()

	kind := KindMalformed
	switch {
	case diag.LikelyTruncated():
		kind = KindTruncated
	case diag.hasEscapingDefects():
		kind = KindMalformedEscaping
	}

	return &ParseError{
		Kind:        kind,
		Cause:       cause,
		Preview:     util.TruncateString(candidate, previewLength, false),
		Diagnostics: diag,
	}
}

// Classify returns the failure kind of err, or "" when err is not a parse failure.
func Classify(err error) Kind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
