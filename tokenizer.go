package mustache

import (
	"io"
	"slices"
	"strings"
)

// ----------------------------- Compiled template ----------------------------

// CompiledTemplate is the full token sequence of a template, terminated by a
// TokenEnd. It keeps the source string its spans point into and is never
// modified once built, so it is shared freely between renders.
type CompiledTemplate struct {
	src      string
	tags     Tags
	comments bool
	tokens   []Token
}

// Source returns the template text the tokens refer to.
func (t *CompiledTemplate) Source() string { return t.src }

// Tags returns the delimiters the template was tokenized with.
func (t *CompiledTemplate) Tags() Tags { return t.tags }

// Len returns the number of tokens, including the end token.
func (t *CompiledTemplate) Len() int { return len(t.tokens) }

// Tokens returns a copy of the token sequence.
func (t *CompiledTemplate) Tokens() []Token { return slices.Clone(t.tokens) }

// Text returns the source text covered by s.
func (t *CompiledTemplate) Text(s Span) string { return s.In(t.src) }

// Cursor returns a fresh cursor replaying the template's tokens.
func (t *CompiledTemplate) Cursor() *Cursor {
	return &Cursor{src: t.src, tokens: t.tokens, tags: t.tags, comments: t.comments, compiled: t}
}

// Compile tokenizes src completely and returns the compiled template, using
// and filling cache when it is not nil.
func Compile(src string, tags Tags, comments bool, cache *TemplateCache) (*CompiledTemplate, error) {
	c := Tokenize(src, tags, comments, cache)
	if c.compiled != nil {
		return c.compiled, nil
	}
	for {
		_, err := c.Next()
		if err == io.EOF {
			return c.compiled, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ----------------------------- Cursor ---------------------------------------

// Cursor hands out the tokens of one template in order. Tokens are produced
// lazily by scanning the source and kept, so Seek can move back to any
// earlier token and replay it without scanning again. A cursor created from a
// cache hit never scans at all.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	src      string
	tokens   []Token
	pos      int
	scan     *scanner
	err      error
	cache    *TemplateCache
	key      cacheKey
	tags     Tags
	comments bool
	compiled *CompiledTemplate
}

// Tokenize returns a cursor over the tokens of src. Empty delimiters fall
// back to DefaultTags. When cache is not nil a previous tokenization of the
// same (content, tags, comments) is replayed, and a completed scan is stored.
func Tokenize(src string, tags Tags, comments bool, cache *TemplateCache) *Cursor {
	if !tags.valid() {
		tags = DefaultTags
	}
	c := &Cursor{src: src, cache: cache, tags: tags, comments: comments}
	if cache != nil {
		c.key = newCacheKey(src, tags, comments)
		if ct, ok := cache.get(c.key, src); ok {
			c.tokens = ct.tokens
			c.compiled = ct
			return c
		}
	}
	c.scan = newScanner(src, tags, comments)
	c.tokens = make([]Token, 0, 8+strings.Count(src, tags.Open)*2)
	return c
}

// Next returns the token at the current position and advances. After the end
// token it returns io.EOF. Scan errors are sticky.
func (c *Cursor) Next() (Token, error) {
	for c.pos >= len(c.tokens) {
		if c.err != nil {
			return Token{}, c.err
		}
		if c.scan == nil {
			return Token{}, io.EOF
		}
		c.fill()
	}
	t := c.tokens[c.pos]
	c.pos++
	return t, nil
}

// Seek moves the cursor so the next call to Next returns token i. Seeking
// beyond what has been scanned makes Next resume scanning up to i.
func (c *Cursor) Seek(i int) {
	if i < 0 {
		i = 0
	}
	c.pos = i
}

// Pos returns the index of the token Next will return.
func (c *Cursor) Pos() int { return c.pos }

// Source returns the template text the cursor tokenizes.
func (c *Cursor) Source() string { return c.src }

// Compiled returns the finished template once the end token was produced.
func (c *Cursor) Compiled() (*CompiledTemplate, bool) { return c.compiled, c.compiled != nil }

func (c *Cursor) fill() {
	tokens, err := c.scan.step(c.tokens)
	c.tokens = tokens
	if err != nil {
		c.err = err
		c.scan = nil
		return
	}
	if c.scan.done {
		c.scan = nil
		c.compiled = &CompiledTemplate{
			src:      c.src,
			tags:     c.tags,
			comments: c.comments,
			tokens:   slices.Clip(c.tokens),
		}
		c.tokens = c.compiled.tokens
		if c.cache != nil {
			c.cache.put(c.key, c.compiled)
		}
	}
}

// ----------------------------- Scanner --------------------------------------

type openSection struct {
	name  Span
	index int  // token index of the section tag
	body  int  // offset right after the section tag
	tag   Span // the whole section tag
}

type scanner struct {
	src      string
	pos      int
	tags     Tags
	triple   string // closer of {{{name}}}
	delim    string // closer of {{=a b=}}
	comments bool
	open     []openSection
	done     bool
}

func newScanner(src string, tags Tags, comments bool) *scanner {
	s := &scanner{src: src, comments: comments}
	s.setTags(tags)
	return s
}

func (s *scanner) setTags(tags Tags) {
	s.tags = tags
	s.triple = "}" + tags.Close
	s.delim = "=" + tags.Close
}

// step scans up to the next tag and appends the tokens it yields to out:
// an optional text token and the tag token, or the end token.
func (s *scanner) step(out []Token) ([]Token, error) {
	src := s.src
	i := strings.Index(src[s.pos:], s.tags.Open)
	if i < 0 {
		if n := len(s.open); n > 0 {
			o := s.open[n-1]
			err := newPosError(ErrorKindUnclosedTag, src, o.tag.Start, o.tag.End, "section is never closed")
			err.Name = o.name.In(src)
			return out, err
		}
		s.done = true
		return append(out, Token{Kind: TokenEnd, Content: Span{Start: s.pos, End: len(src)}}), nil
	}

	tagStart := s.pos + i
	if tagStart > s.pos {
		out = append(out, Token{Kind: TokenText, Content: Span{Start: s.pos, End: tagStart}})
	}

	inner := tagStart + len(s.tags.Open)
	kind := tagVariable
	if inner < len(src) {
		kind = tagKinds[src[inner]]
	}
	closer, nameStart := s.tags.Close, inner
	switch kind {
	case tagVariable:
	case tagTriple:
		closer, nameStart = s.triple, inner+1
	case tagDelimiter:
		closer, nameStart = s.delim, inner+1
	default:
		nameStart = inner + 1
	}

	j := strings.Index(src[nameStart:], closer)
	if j < 0 {
		return out, newPosError(ErrorKindUnclosedTag, src, tagStart, previewEnd(src, tagStart), "tag has no closing delimiter")
	}
	nameEnd := nameStart + j
	end := nameEnd + len(closer)
	name := stripSpan(src, nameStart, nameEnd)
	s.pos = end

	switch kind {
	case tagVariable:
		out = append(out, Token{Kind: TokenVariable, Name: name})
	case tagUnescaped, tagTriple:
		out = append(out, Token{Kind: TokenVariable, Name: name, Option: 1})
	case tagSection, tagInverted:
		s.open = append(s.open, openSection{
			name:  name,
			index: len(out),
			body:  end,
			tag:   Span{Start: tagStart, End: end},
		})
		opt := 0
		if kind == tagInverted {
			opt = 1
		}
		out = append(out, Token{Kind: TokenSection, Name: name, Option: opt})
	case tagClose:
		n := len(s.open)
		if n == 0 {
			err := newPosError(ErrorKindClosingMismatch, src, tagStart, end, "closing tag without an open section")
			err.Name = name.In(src)
			return out, err
		}
		o := s.open[n-1]
		if o.name.In(src) != name.In(src) {
			err := newPosError(ErrorKindClosingMismatch, src, tagStart, end,
				"expected closing tag for "+quote(o.name.In(src)))
			err.Name = name.In(src)
			return out, err
		}
		s.open = s.open[:n-1]
		out = append(out, Token{
			Kind:    TokenClose,
			Name:    name,
			Content: Span{Start: o.body, End: tagStart},
			Option:  o.index,
		})
	case tagPartial:
		out = append(out, Token{Kind: TokenPartial, Name: name})
	case tagComment:
		if s.comments {
			out = append(out, Token{Kind: TokenComment, Name: name, Content: Span{Start: nameStart, End: nameEnd}})
		}
	case tagDelimiter:
		left, right, ok := splitDelimiters(src, nameStart, nameEnd)
		if !ok {
			return out, newPosError(ErrorKindDelimiter, src, tagStart, end, "expected two whitespace separated delimiters")
		}
		s.setTags(Tags{Open: left.In(src), Close: right.In(src)})
		out = append(out, Token{Kind: TokenDelimiter, Name: left, Content: right})
	}
	return out, nil
}

// splitDelimiters finds exactly two whitespace separated words in
// src[start:end].
func splitDelimiters(src string, start, end int) (left, right Span, ok bool) {
	var words [2]Span
	n := 0
	for i := start; i < end; {
		if isSpace(src[i]) {
			i++
			continue
		}
		j := i
		for j < end && !isSpace(src[j]) {
			j++
		}
		if n == len(words) {
			return Span{}, Span{}, false
		}
		words[n] = Span{Start: i, End: j}
		n++
		i = j
	}
	if n != 2 {
		return Span{}, Span{}, false
	}
	return words[0], words[1], true
}

// previewEnd bounds the tag text reported for a tag that never closes.
func previewEnd(src string, start int) int {
	const limit = 32
	end := len(src)
	if nl := strings.IndexByte(src[start:], '\n'); nl >= 0 {
		end = start + nl
	}
	if end-start > limit {
		end = start + limit
	}
	return end
}

func quote(s string) string { return "\"" + s + "\"" }
