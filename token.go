package mustache

import "fmt"

// ----------------------------- Spans ----------------------------------------

// Span is a half-open [Start, End) byte range into a template source.
// Tokens hold spans instead of substrings so scanning does not allocate.
type Span struct {
	Start int
	End   int
}

// Len returns the span width, or 0 for an empty or inverted span.
func (s Span) Len() int {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// In returns the text the span covers in src. Out of range spans yield "".
func (s Span) In(src string) string {
	if s.Start < 0 || s.End > len(src) || s.Start >= s.End {
		return ""
	}
	return src[s.Start:s.End]
}

// stripSpan narrows [start, end) so it excludes leading and trailing
// whitespace in src, without producing a string.
func stripSpan(src string, start, end int) Span {
	for start < end && isSpace(src[start]) {
		start++
	}
	for end > start && isSpace(src[end-1]) {
		end--
	}
	return Span{Start: start, End: end}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// ----------------------------- Tokens ---------------------------------------

// TokenKind identifies what a token does when rendered.
type TokenKind uint8

const (
	TokenText      TokenKind = iota // literal text before a tag
	TokenVariable                   // {{name}}, {{&name}}, {{{name}}}
	TokenSection                    // {{#name}} or {{^name}}
	TokenClose                      // {{/name}}
	TokenPartial                    // {{>name}}
	TokenComment                    // {{!text}}, only when comments are kept
	TokenDelimiter                  // {{=<% %>=}}
	TokenEnd                        // trailing text, always last
)

var tokenKindNames = [...]string{
	TokenText:      "text",
	TokenVariable:  "variable",
	TokenSection:   "section",
	TokenClose:     "close",
	TokenPartial:   "partial",
	TokenComment:   "comment",
	TokenDelimiter: "delimiter",
	TokenEnd:       "end",
}

func (k TokenKind) String() string {
	if int(k) < len(tokenKindNames) {
		return tokenKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Token is a single structural element of a compiled template.
//
// Option depends on Kind: for variables it is 1 when the output is not
// escaped, for sections it is 1 when the section is inverted, and for
// closing tags it is the index of the matching section token. The Content of
// a closing tag covers the raw body of its block; the Content of text and end
// tokens is the literal text. Delimiter tokens carry the new open delimiter
// in Name and the new close delimiter in Content.
type Token struct {
	Kind    TokenKind
	Name    Span
	Content Span
	Option  int
}

// IsBlock reports whether the token opens or closes a section.
func (t Token) IsBlock() bool { return t.Kind == TokenSection || t.Kind == TokenClose }

// IsMain reports whether the token is a tag that renders data rather than
// text, a comment or a delimiter change.
func (t Token) IsMain() bool {
	return t.Kind == TokenVariable || t.Kind == TokenSection || t.Kind == TokenPartial
}

// IsClosingOrTruthy is true for closing tags and for non-inverted sections.
func (t Token) IsClosingOrTruthy() bool {
	return t.Kind == TokenClose || (t.Kind == TokenSection && t.Option == 0)
}

// Escaped reports whether a variable token's value is HTML escaped.
func (t Token) Escaped() bool { return t.Kind == TokenVariable && t.Option == 0 }

// Inverted reports whether a section token is an inverted section.
func (t Token) Inverted() bool { return t.Kind == TokenSection && t.Option == 1 }

// ----------------------------- Tag dispatch ---------------------------------

type tagKind uint8

const (
	tagVariable tagKind = iota
	tagUnescaped
	tagTriple
	tagSection
	tagInverted
	tagClose
	tagPartial
	tagComment
	tagDelimiter
)

// tagKinds maps the byte right after an open delimiter to the tag kind.
// Anything not listed is the name of an escaped variable.
var tagKinds = func() (table [256]tagKind) {
	table['&'] = tagUnescaped
	table['{'] = tagTriple
	table['#'] = tagSection
	table['^'] = tagInverted
	table['/'] = tagClose
	table['>'] = tagPartial
	table['!'] = tagComment
	table['='] = tagDelimiter
	return
}()

// Tags is an open/close delimiter pair.
type Tags struct {
	Open  string
	Close string
}

// DefaultTags are the standard mustache delimiters.
var DefaultTags = Tags{Open: "{{", Close: "}}"}

func (t Tags) valid() bool { return t.Open != "" && t.Close != "" }
