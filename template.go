package mustache

import (
	"io"
	"iter"
	"log/slog"
	"slices"
)

// ----------------------------- Options --------------------------------------

type options struct {
	scopes          []any // outermost first
	resolver        Resolver
	getter          Getter
	stringify       func(any) string
	escape          func(string) string
	lambdaRender    LambdaRenderFactory
	tags            Tags
	cache           *TemplateCache
	comments        bool
	strictPartials  bool
	maxPartialDepth int
	logger          *slog.Logger
}

// Option configures an Engine or a single render call.
type Option func(*options)

// ScopedRender renders text against an explicit scope and scope chain using
// the engine's settings.
type ScopedRender func(text string, scope any, scopes []any) (string, error)

// LambdaRenderFactory builds the RenderFunc handed to a lambda section.
// scope is the context the section was found in and scopes its enclosing
// contexts, outermost first.
type LambdaRenderFactory func(scope any, scopes []any, render ScopedRender) RenderFunc

// DefaultLambdaRender renders lambda text in the scope the section was found in.
func DefaultLambdaRender(scope any, scopes []any, render ScopedRender) RenderFunc {
	return func(text string) (string, error) { return render(text, scope, scopes) }
}

// WithScopes sets ancestor contexts consulted after the render scope, listed
// from innermost to outermost.
func WithScopes(scopes ...any) Option {
	return func(o *options) {
		s := slices.Clone(scopes)
		slices.Reverse(s)
		o.scopes = s
	}
}

// WithResolver sets where partials come from. Without one every partial
// renders empty.
func WithResolver(r Resolver) Option { return func(o *options) { o.resolver = r } }

// WithPartials is shorthand for WithResolver(MapResolver(partials)).
func WithPartials(partials map[string]string) Option {
	return WithResolver(MapResolver(partials))
}

// WithGetter replaces DefaultGetter.
func WithGetter(g Getter) Option { return func(o *options) { o.getter = g } }

// WithStringify replaces Stringify.
func WithStringify(fn func(any) string) Option { return func(o *options) { o.stringify = fn } }

// WithEscape replaces EscapeHTML. Pass a function returning its input to
// disable escaping.
func WithEscape(fn func(string) string) Option { return func(o *options) { o.escape = fn } }

// WithLambdaRender replaces DefaultLambdaRender.
func WithLambdaRender(f LambdaRenderFactory) Option {
	return func(o *options) { o.lambdaRender = f }
}

// WithDelims sets the initial delimiters.
func WithDelims(left, right string) Option {
	return func(o *options) { o.tags = Tags{Open: left, Close: right} }
}

// WithCache sets the compiled template cache. nil disables caching.
func WithCache(c *TemplateCache) Option { return func(o *options) { o.cache = c } }

// WithComments keeps comment tags as TokenComment in compiled templates.
// Comments never produce output.
func WithComments(keep bool) Option { return func(o *options) { o.comments = keep } }

// WithStrictPartials makes an unknown partial a render error instead of
// empty output.
func WithStrictPartials() Option { return func(o *options) { o.strictPartials = true } }

// WithMaxPartialDepth bounds partial nesting; 0 means unbounded, in which
// case a resolver cycle recurses until the stack runs out.
func WithMaxPartialDepth(n int) Option { return func(o *options) { o.maxPartialDepth = n } }

// WithLogger sets a logger for debug records (cache misses, missing
// partials, lambda calls).
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func defaultOptions() options {
	return options{
		getter:       DefaultGetter,
		stringify:    Stringify,
		escape:       EscapeHTML,
		lambdaRender: DefaultLambdaRender,
		tags:         DefaultTags,
		cache:        DefaultCache,
		logger:       slog.New(slog.DiscardHandler),
	}
}

// ----------------------------- Public API -----------------------------------

// Engine renders templates with a fixed set of options. It is immutable and
// safe for concurrent use as long as its resolver, getter and cache are.
type Engine struct {
	opts options
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	return newEngine(defaultOptions(), opts)
}

// With returns a copy of e with opts applied on top.
func (e *Engine) With(opts ...Option) *Engine {
	return newEngine(e.opts, opts)
}

// newEngine applies opts to o and restores defaults for anything left nil
// or invalid.
func newEngine(o options, opts []Option) *Engine {
	for _, fn := range opts {
		fn(&o)
	}
	if !o.tags.valid() {
		o.tags = DefaultTags
	}
	if o.getter == nil {
		o.getter = DefaultGetter
	}
	if o.stringify == nil {
		o.stringify = Stringify
	}
	if o.escape == nil {
		o.escape = EscapeHTML
	}
	if o.lambdaRender == nil {
		o.lambdaRender = DefaultLambdaRender
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{opts: o}
}

// Compile tokenizes src with the engine's delimiters, comment mode and cache.
func (e *Engine) Compile(src string) (*CompiledTemplate, error) {
	return Compile(src, e.opts.tags, e.opts.comments, e.opts.cache)
}

// Parse compiles src up front so syntax errors surface before rendering.
func (e *Engine) Parse(src string) (*Template, error) {
	ct, err := e.Compile(src)
	if err != nil {
		return nil, err
	}
	return &Template{engine: e, compiled: ct}, nil
}

// Render renders src against scope and returns the full output.
func (e *Engine) Render(src string, scope any) (string, error) {
	return e.renderCursor(Tokenize(src, e.opts.tags, e.opts.comments, e.opts.cache), scope)
}

// RenderBytes is Render for byte templates.
func (e *Engine) RenderBytes(src []byte, scope any) ([]byte, error) {
	s, err := e.Render(string(src), scope)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// RenderTo writes the output of src to w chunk by chunk.
func (e *Engine) RenderTo(w io.Writer, src string, scope any) error {
	return e.writeCursor(w, Tokenize(src, e.opts.tags, e.opts.comments, e.opts.cache), scope)
}

// Stream returns the output of src as a lazy sequence of chunks. Rendering
// advances only as chunks are consumed; breaking out of the loop abandons
// it. An error is delivered as the last element.
func (e *Engine) Stream(src string, scope any) iter.Seq2[string, error] {
	return e.streamCursor(func() *Cursor {
		return Tokenize(src, e.opts.tags, e.opts.comments, e.opts.cache)
	}, scope)
}

// Template is a compiled template bound to an engine.
type Template struct {
	engine   *Engine
	compiled *CompiledTemplate
}

// Compiled returns the underlying token sequence.
func (t *Template) Compiled() *CompiledTemplate { return t.compiled }

// Render executes the template with the given data into w.
func (t *Template) Render(w io.Writer, data any) error {
	return t.engine.writeCursor(w, t.compiled.Cursor(), data)
}

// RenderString renders the template and returns the output.
func (t *Template) RenderString(data any) (string, error) {
	return t.engine.renderCursor(t.compiled.Cursor(), data)
}

// Stream renders the template lazily, see Engine.Stream.
func (t *Template) Stream(data any) iter.Seq2[string, error] {
	return t.engine.streamCursor(t.compiled.Cursor, data)
}

// Render renders src against scope with a one-off engine.
func Render(src string, scope any, opts ...Option) (string, error) {
	return New(opts...).Render(src, scope)
}

// RenderTo renders src into w with a one-off engine.
func RenderTo(w io.Writer, src string, scope any, opts ...Option) error {
	return New(opts...).RenderTo(w, src, scope)
}

// Stream streams src with a one-off engine.
func Stream(src string, scope any, opts ...Option) iter.Seq2[string, error] {
	return New(opts...).Stream(src, scope)
}
