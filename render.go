package mustache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
)

// ----------------------------- Render state machine -------------------------

// frame is what a section saves when it opens and restores when it closes.
type frame struct {
	siblings *siblings
	callback Lambda
	silent   bool
	tags     Tags
}

// process walks the tokens of cur and passes output chunks to yield. scope
// is the current context and scopes the enclosing ones, outermost first. It
// returns false when yield asked to stop.
//
// Sections are not rendered recursively: a section pushes a frame, and a
// looping section seeks the cursor back to its first body token for every
// further element. A section whose value is falsy, or a lambda whose body
// is not rendered directly, sets silent; nested sections inherit it without
// looking their names up.
func (e *Engine) process(cur *Cursor, scope any, scopes []any, depth int, yield func(string) bool) (bool, error) {
	o := &e.opts
	src := cur.Source()
	tags := cur.tags
	if _, hit := cur.Compiled(); !hit && o.logger.Enabled(context.Background(), slog.LevelDebug) {
		o.logger.Debug("template cache miss", slog.Int("bytes", len(src)), slog.Int("depth", depth))
	}

	// Appends below must not write into the caller's backing array.
	stack := scopes[:len(scopes):len(scopes)]
	frames := getFrames()
	defer putFrames(frames)

	var (
		sibs     *siblings
		callback Lambda
		silent   bool
	)

	for {
		tok, err := cur.Next()
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}

		switch tok.Kind {
		case TokenText:
			if !silent && !yield(tok.Content.In(src)) {
				return false, nil
			}

		case TokenVariable:
			if silent {
				continue
			}
			v, ok := o.getter(scope, stack, tok.Name.In(src))
			if !ok {
				continue
			}
			s := o.stringify(v)
			if tok.Option == 0 {
				s = o.escape(s)
			}
			if s != "" && !yield(s) {
				return false, nil
			}

		case TokenSection:
			var (
				v     any
				found bool
			)
			if !silent {
				v, found = o.getter(scope, stack, tok.Name.In(src))
			}
			*frames = append(*frames, frame{siblings: sibs, callback: callback, silent: silent, tags: tags})
			stack = append(stack, scope)
			sibs, callback = nil, nil
			if silent {
				continue
			}

			isFalsy := !found || falsy(v)
			if tok.Option == 1 {
				silent = !isFalsy
				continue
			}
			if isFalsy {
				silent = true
				continue
			}
			if it, ok := iterate(v); ok {
				first, ok := it.next()
				if !ok {
					silent = true
					continue
				}
				sibs, scope = it, first
			} else {
				scope = v
			}
			callback, _ = asLambda(scope)
			silent = callback != nil

		case TokenClose:
			n := len(*frames)
			if n == 0 {
				return false, &Error{Kind: ErrorKindClosingMismatch, Name: tok.Name.In(src), Message: "closing tag without an open section"}
			}
			top := (*frames)[n-1]
			if callback != nil && !top.silent {
				cont, err := e.callLambda(callback, tok, src, stack, top.tags, depth, yield)
				if err != nil || !cont {
					return cont, err
				}
			}
			if sibs != nil {
				if next, ok := sibs.next(); ok {
					scope = next
					callback, _ = asLambda(next)
					silent = callback != nil
					tags = top.tags
					cur.Seek(tok.Option + 1)
					continue
				}
			}
			*frames = (*frames)[:n-1]
			sibs, callback, silent = top.siblings, top.callback, top.silent
			scope = stack[len(stack)-1]
			stack = stack[:len(stack)-1]

		case TokenPartial:
			if silent {
				continue
			}
			cont, err := e.renderPartial(tok, src, scope, stack, tags, depth, yield)
			if err != nil || !cont {
				return cont, err
			}

		case TokenDelimiter:
			tags = Tags{Open: tok.Name.In(src), Close: tok.Content.In(src)}

		case TokenComment:

		case TokenEnd:
			if len(*frames) != 0 {
				return false, &Error{Kind: ErrorKindUnclosedTag, Message: "section is never closed"}
			}
			if tail := tok.Content.In(src); tail != "" && !yield(tail) {
				return false, nil
			}
			return true, nil
		}
	}
}

// callLambda runs a lambda section's callable with the raw body text and a
// render function bound to the scope the section was opened in.
func (e *Engine) callLambda(fn Lambda, tok Token, src string, stack []any, tags Tags, depth int, yield func(string) bool) (bool, error) {
	o := &e.opts
	name := tok.Name.In(src)
	enclosing, parents := stack[len(stack)-1], stack[:len(stack)-1]
	scoped := func(text string, scope any, scopes []any) (string, error) {
		return e.renderScoped(text, scope, scopes, tags, depth)
	}
	o.logger.Debug("lambda section", slog.String("name", name))

	out, err := fn(tok.Content.In(src), o.lambdaRender(enclosing, parents, scoped))
	if err != nil {
		return false, fmt.Errorf("lambda section %q: %w", name, err)
	}
	if s := o.stringify(out); s != "" {
		return yield(s), nil
	}
	return true, nil
}

// renderPartial resolves a partial and splices its output into the stream.
func (e *Engine) renderPartial(tok Token, src string, scope any, stack []any, tags Tags, depth int, yield func(string) bool) (bool, error) {
	o := &e.opts
	name := tok.Name.In(src)
	text, err := e.resolvePartial(name)
	if err != nil {
		if !errors.Is(err, ErrPartialNotFound) {
			return false, fmt.Errorf("resolving partial %q: %w", name, err)
		}
		if o.strictPartials {
			perr := newPosError(ErrorKindPartialNotFound, src, tok.Name.Start, tok.Name.End, "unknown partial")
			perr.Name = name
			return false, perr
		}
		o.logger.Debug("partial not found", slog.String("name", name))
		return true, nil
	}
	if text == "" {
		return true, nil
	}
	if o.maxPartialDepth > 0 && depth >= o.maxPartialDepth {
		perr := newPosError(ErrorKindPartialDepth, src, tok.Name.Start, tok.Name.End,
			fmt.Sprintf("more than %d nested partials", o.maxPartialDepth))
		perr.Name = name
		return false, perr
	}
	cont, err := e.process(Tokenize(text, tags, o.comments, o.cache), scope, stack, depth+1, yield)
	if err != nil {
		return false, fmt.Errorf("partial %q: %w", name, err)
	}
	return cont, nil
}

func (e *Engine) resolvePartial(name string) (string, error) {
	if e.opts.resolver == nil {
		return "", ErrPartialNotFound
	}
	return e.opts.resolver.Partial(name)
}

// renderScoped renders text to a string against an explicit scope chain.
func (e *Engine) renderScoped(text string, scope any, scopes []any, tags Tags, depth int) (string, error) {
	sb := stringBuilderPool.Get().(*strings.Builder)
	sb.Reset()
	defer stringBuilderPool.Put(sb)

	cur := Tokenize(text, tags, e.opts.comments, e.opts.cache)
	_, err := e.process(cur, scope, scopes, depth, func(s string) bool {
		sb.WriteString(s)
		return true
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ----------------------------- Output adapters ------------------------------

func (e *Engine) renderCursor(cur *Cursor, scope any) (string, error) {
	sb := stringBuilderPool.Get().(*strings.Builder)
	sb.Reset()
	defer stringBuilderPool.Put(sb)

	_, err := e.process(cur, scope, e.opts.scopes, 0, func(s string) bool {
		sb.WriteString(s)
		return true
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (e *Engine) writeCursor(w io.Writer, cur *Cursor, scope any) error {
	var werr error
	_, err := e.process(cur, scope, e.opts.scopes, 0, func(s string) bool {
		_, werr = io.WriteString(w, s)
		return werr == nil
	})
	if err != nil {
		return err
	}
	return werr
}

func (e *Engine) streamCursor(newCursor func() *Cursor, scope any) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		_, err := e.process(newCursor(), scope, e.opts.scopes, 0, func(s string) bool {
			return yield(s, nil)
		})
		if err != nil {
			yield("", err)
		}
	}
}
