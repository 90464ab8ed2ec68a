package mustache

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileTokens(t *testing.T, src string, comments bool) (*CompiledTemplate, []Token) {
	t.Helper()
	ct, err := Compile(src, DefaultTags, comments, nil)
	require.NoError(t, err)
	return ct, ct.Tokens()
}

func kinds(tokens []Token) []TokenKind {
	out := make([]TokenKind, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Kind
	}
	return out
}

func TestTokenizeKinds(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		comments bool
		want     []TokenKind
	}{
		{"plain text", "just text", false, []TokenKind{TokenEnd}},
		{"variable", "Hello {{name}}!", false, []TokenKind{TokenText, TokenVariable, TokenEnd}},
		{"unescaped", "{{&a}}{{{b}}}", false, []TokenKind{TokenVariable, TokenVariable, TokenEnd}},
		{"section", "{{#a}}x{{/a}}", false, []TokenKind{TokenSection, TokenText, TokenClose, TokenEnd}},
		{"inverted", "{{^a}}{{/a}}", false, []TokenKind{TokenSection, TokenClose, TokenEnd}},
		{"partial", "{{> header }}", false, []TokenKind{TokenPartial, TokenEnd}},
		{"comment dropped", "a{{! note }}b", false, []TokenKind{TokenText, TokenEnd}},
		{"comment kept", "a{{! note }}b", true, []TokenKind{TokenText, TokenComment, TokenEnd}},
		{"delimiter", "{{=<% %>=}}<%x%>", false, []TokenKind{TokenDelimiter, TokenVariable, TokenEnd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, tokens := compileTokens(t, tt.src, tt.comments)
			assert.Equal(t, tt.want, kinds(tokens))
		})
	}
}

func TestTokenSpans(t *testing.T) {
	ct, tokens := compileTokens(t, "Hello {{ name }}!", false)
	require.Len(t, tokens, 3)

	assert.Equal(t, Span{Start: 0, End: 6}, tokens[0].Content)
	assert.Equal(t, "name", ct.Text(tokens[1].Name))
	assert.True(t, tokens[1].Escaped())
	assert.Equal(t, "!", ct.Text(tokens[2].Content))
}

func TestTokenOptions(t *testing.T) {
	ct, tokens := compileTokens(t, "{{&a}}{{{b}}}{{c}}{{^d}}{{#e}}body{{/e}}{{/d}}", false)
	require.Len(t, tokens, 9)

	assert.Equal(t, 1, tokens[0].Option)
	assert.Equal(t, "b", ct.Text(tokens[1].Name))
	assert.Equal(t, 1, tokens[1].Option)
	assert.Equal(t, 0, tokens[2].Option)

	assert.True(t, tokens[3].Inverted())
	assert.False(t, tokens[3].IsClosingOrTruthy())
	assert.True(t, tokens[4].IsClosingOrTruthy())
	assert.True(t, tokens[4].IsMain())

	closeE := tokens[6]
	assert.Equal(t, TokenClose, closeE.Kind)
	assert.Equal(t, 4, closeE.Option)
	assert.Equal(t, "body", ct.Text(closeE.Content))
	assert.True(t, closeE.IsBlock())

	closeD := tokens[7]
	assert.Equal(t, 3, closeD.Option)
	assert.Equal(t, "{{#e}}body{{/e}}", ct.Text(closeD.Content))
}

func TestTokenizeDelimiterSwitch(t *testing.T) {
	ct, tokens := compileTokens(t, "{{=<% %>=}}<%x%>{{y}}<%={{ }}=%>{{z}}", false)
	require.Equal(t, []TokenKind{TokenDelimiter, TokenVariable, TokenText, TokenDelimiter, TokenVariable, TokenEnd}, kinds(tokens))

	assert.Equal(t, "<%", ct.Text(tokens[0].Name))
	assert.Equal(t, "%>", ct.Text(tokens[0].Content))
	assert.Equal(t, "x", ct.Text(tokens[1].Name))
	assert.Equal(t, "{{y}}", ct.Text(tokens[2].Content))
	assert.Equal(t, "z", ct.Text(tokens[4].Name))
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		sentinel error
		kind     ErrorKind
		line     int
		column   int
	}{
		{"mismatched close", "{{#a}}{{/b}}", ErrClosingTagMismatch, ErrorKindClosingMismatch, 1, 7},
		{"orphan close", "x\n{{/a}}", ErrClosingTagMismatch, ErrorKindClosingMismatch, 2, 1},
		{"unclosed section", "{{#a}}", ErrUnclosedTag, ErrorKindUnclosedTag, 1, 1},
		{"unclosed inner section", "{{#a}}\n  {{#b}}{{/a}}", ErrClosingTagMismatch, ErrorKindClosingMismatch, 2, 9},
		{"unterminated tag", "line1\n  {{name", ErrUnclosedTag, ErrorKindUnclosedTag, 2, 3},
		{"unterminated triple", "{{{a}}", ErrUnclosedTag, ErrorKindUnclosedTag, 1, 1},
		{"one delimiter", "{{=<%=}}", ErrDelimiterSyntax, ErrorKindDelimiter, 1, 1},
		{"three delimiters", "{{=< % >=}}", ErrDelimiterSyntax, ErrorKindDelimiter, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src, DefaultTags, false, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)

			var terr *Error
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tt.kind, terr.Kind)
			assert.Equal(t, tt.line, terr.Line)
			assert.Equal(t, tt.column, terr.Column)
		})
	}
}

func TestTokenizeErrorDetails(t *testing.T) {
	_, err := Compile("{{#list}}\n{{/lsit}}", DefaultTags, false, nil)
	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "lsit", terr.Name)
	assert.Equal(t, "{{/lsit}}", terr.Tag)
	assert.Contains(t, terr.Error(), `expected closing tag for "list"`)
	assert.Contains(t, terr.Error(), "line 2, column 1")

	_, err = Compile("{{#open}}text", DefaultTags, false, nil)
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "open", terr.Name)
}

func TestCursorReplay(t *testing.T) {
	c := Tokenize("a{{b}}c", DefaultTags, false, nil)

	var seen []Token
	for {
		tok, err := c.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, tok)
	}
	require.Equal(t, []TokenKind{TokenText, TokenVariable, TokenEnd}, kinds(seen))

	ct, ok := c.Compiled()
	require.True(t, ok)
	assert.Equal(t, seen, ct.Tokens())

	c.Seek(1)
	assert.Equal(t, 1, c.Pos())
	tok, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, seen[1], tok)

	_, err = c.Next()
	require.NoError(t, err)
	_, err = c.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCursorSeekAhead(t *testing.T) {
	c := Tokenize("a{{b}}c", DefaultTags, false, nil)
	c.Seek(2)
	tok, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, TokenEnd, tok.Kind)
	assert.Equal(t, "c", tok.Content.In(c.Source()))
}

func TestCursorStickyError(t *testing.T) {
	c := Tokenize("{{#a}}", DefaultTags, false, nil)
	tok, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, TokenSection, tok.Kind)

	_, err = c.Next()
	require.ErrorIs(t, err, ErrUnclosedTag)
	_, again := c.Next()
	assert.Same(t, err, again)

	_, ok := c.Compiled()
	assert.False(t, ok)
}

func TestTokenizeInvalidTagsFallBack(t *testing.T) {
	ct, err := Compile("{{x}}", Tags{Open: "", Close: "%>"}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTags, ct.Tags())
	assert.Equal(t, TokenVariable, ct.Tokens()[0].Kind)
}

func TestCompileUsesCache(t *testing.T) {
	cache := NewTemplateCache(4)
	src := "Hi {{#people}}{{name}}, {{/people}}!"

	first, err := Compile(src, DefaultTags, false, cache)
	require.NoError(t, err)
	second, err := Compile(src, DefaultTags, false, cache)
	require.NoError(t, err)
	assert.Same(t, first, second)

	uncached, err := Compile(src, DefaultTags, false, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, uncached)
	assert.Equal(t, uncached.Tokens(), second.Tokens())

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCompiledTokensAreCopies(t *testing.T) {
	ct, tokens := compileTokens(t, "{{a}}", false)
	tokens[0].Kind = TokenComment
	assert.Equal(t, TokenVariable, ct.Tokens()[0].Kind)
	assert.Equal(t, 2, ct.Len())
}

func TestSpan(t *testing.T) {
	s := Span{Start: 2, End: 5}
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, "llo", s.In("hello"))
	assert.Equal(t, "", s.In("he"))
	assert.Equal(t, 0, Span{Start: 4, End: 1}.Len())
	assert.Equal(t, Span{Start: 2, End: 4}, stripSpan("  ab  ", 0, 6))
	assert.Equal(t, "section", TokenSection.String())
	assert.Equal(t, "kind(42)", TokenKind(42).String())
}
