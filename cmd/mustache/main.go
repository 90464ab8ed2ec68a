package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/natefinch/atomic"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/oarkflow/mustache"
)

type cli struct {
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"warn" env:"MUSTACHE_LOG_LEVEL"`

	Render renderCmd `cmd:"" help:"Render a template with JSON data."`
	Tokens tokensCmd `cmd:"" help:"Print the token stream of a template."`
}

// TemplateFlags are shared by every command that reads a template.
type TemplateFlags struct {
	Template string `arg:"" help:"Template file, - for stdin." default:"-"`
	Delims   string `help:"Initial delimiters, e.g. \"<% %>\"." env:"MUSTACHE_DELIMS"`
	Comments bool   `help:"Keep comment tags in the token stream."`
	Encoding string `help:"Character encoding of input files (any WHATWG label)." default:"utf-8" env:"MUSTACHE_ENCODING"`
}

type renderCmd struct {
	TemplateFlags `embed:""`

	Data           string        `short:"d" help:"JSON data file, - for stdin." env:"MUSTACHE_DATA"`
	Partials       string        `short:"p" help:"Directory holding partial files." env:"MUSTACHE_PARTIALS"`
	PartialsExt    string        `help:"Extension of partial files." default:".mustache"`
	PartialsDB     string        `name:"partials-db" help:"SQLite database holding partials." env:"MUSTACHE_PARTIALS_DB"`
	PartialsTable  string        `help:"Table holding partials." default:"partials" env:"MUSTACHE_PARTIALS_TABLE"`
	QueryTimeout   time.Duration `help:"Timeout for partial queries." default:"5s"`
	StrictPartials bool          `help:"Fail on unknown partials instead of rendering them empty."`
	MaxDepth       int           `help:"Maximum partial nesting, 0 for unbounded." default:"64"`
	Output         string        `short:"o" help:"Write the result to this file atomically instead of stdout."`
}

type tokensCmd struct {
	TemplateFlags `embed:""`

	JSON bool `short:"j" help:"Print tokens as JSON."`
}

// env carries the process streams into command Run methods.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	logger *slog.Logger
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var c cli
	exited := false
	parser, err := kong.New(&c,
		kong.Name("mustache"),
		kong.Description("Render and inspect mustache templates."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) { exited = true }),
		kong.UsageOnError(),
	)
	if err != nil {
		return err
	}
	ctx, err := parser.Parse(args)
	if exited {
		return nil
	}
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	return ctx.Run(&env{stdin: stdin, stdout: stdout, logger: logger})
}

func (c *renderCmd) Run(e *env) error {
	if c.Template == "-" && c.Data == "-" {
		return errors.New("template and data cannot both be read from stdin")
	}
	src, err := c.readTemplate(e.stdin)
	if err != nil {
		return err
	}
	data, err := c.readData(e.stdin)
	if err != nil {
		return err
	}

	opts, err := c.options(e.logger)
	if err != nil {
		return err
	}
	var resolvers mustache.ChainResolver
	if c.Partials != "" {
		resolvers = append(resolvers, mustache.NewDirResolver(c.Partials, c.PartialsExt))
	}
	if c.PartialsDB != "" {
		db, err := openDB(c.PartialsDB)
		if err != nil {
			return fmt.Errorf("opening partial database: %w", err)
		}
		defer db.Close()
		r, err := mustache.NewSQLResolver(db, c.PartialsTable, c.QueryTimeout)
		if err != nil {
			return err
		}
		resolvers = append(resolvers, r)
	}
	if len(resolvers) > 0 {
		opts = append(opts, mustache.WithResolver(resolvers))
	}
	opts = append(opts, mustache.WithMaxPartialDepth(c.MaxDepth))
	if c.StrictPartials {
		opts = append(opts, mustache.WithStrictPartials())
	}

	engine := mustache.New(opts...)
	start := time.Now()
	if c.Output == "" {
		if err := engine.RenderTo(e.stdout, src, data); err != nil {
			return err
		}
	} else {
		var buf bytes.Buffer
		if err := engine.RenderTo(&buf, src, data); err != nil {
			return err
		}
		if err := atomic.WriteFile(c.Output, &buf); err != nil {
			return fmt.Errorf("writing %s: %w", c.Output, err)
		}
	}
	e.logger.Info("template rendered",
		slog.String("template", c.Template),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *renderCmd) readData(stdin io.Reader) (any, error) {
	if c.Data == "" {
		return map[string]any{}, nil
	}
	raw, err := c.readInput(c.Data, stdin)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding data %s: %w", c.Data, err)
	}
	return data, nil
}

func (c *tokensCmd) Run(e *env) error {
	src, err := c.readTemplate(e.stdin)
	if err != nil {
		return err
	}
	opts, err := c.options(e.logger)
	if err != nil {
		return err
	}
	ct, err := mustache.New(opts...).Compile(src)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeTokensJSON(e.stdout, ct)
	}
	return writeTokensTable(e.stdout, ct)
}

// ----------------------------- Shared input handling ------------------------

func (f *TemplateFlags) readTemplate(stdin io.Reader) (string, error) {
	raw, err := f.readInput(f.Template, stdin)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (f *TemplateFlags) readInput(path string, stdin io.Reader) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return toUTF8(raw, f.Encoding)
}

func (f *TemplateFlags) options(logger *slog.Logger) ([]mustache.Option, error) {
	opts := []mustache.Option{
		mustache.WithLogger(logger),
		mustache.WithComments(f.Comments),
	}
	if f.Delims != "" {
		parts := strings.Fields(f.Delims)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid delimiters %q: expected two whitespace separated strings", f.Delims)
		}
		opts = append(opts, mustache.WithDelims(parts[0], parts[1]))
	}
	return opts, nil
}

// toUTF8 decodes data from the named encoding. A UTF-8 byte order mark is
// dropped.
func toUTF8(data []byte, name string) ([]byte, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
	default:
		enc, err := htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("unsupported encoding: %s", name)
		}
		data, err = enc.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("encoding conversion error: %w", err)
		}
	}
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), nil
}

// ----------------------------- Token output ---------------------------------

type tokenJSON struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Option  int    `json:"option"`
}

func tokenRows(ct *mustache.CompiledTemplate) []tokenJSON {
	tokens := ct.Tokens()
	rows := make([]tokenJSON, len(tokens))
	for i, t := range tokens {
		span := t.Content
		if t.Kind != mustache.TokenText && t.Kind != mustache.TokenEnd && t.Kind != mustache.TokenClose {
			span = t.Name
		}
		rows[i] = tokenJSON{
			Index:   i,
			Kind:    t.Kind.String(),
			Name:    ct.Text(t.Name),
			Content: ct.Text(t.Content),
			Start:   span.Start,
			End:     span.End,
			Option:  t.Option,
		}
	}
	return rows
}

func writeTokensJSON(w io.Writer, ct *mustache.CompiledTemplate) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenRows(ct))
}

func writeTokensTable(w io.Writer, ct *mustache.CompiledTemplate) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tNAME\tOPTION\tSPAN\tCONTENT")
	for _, r := range tokenRows(ct) {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d-%d\t%s\n",
			r.Index, r.Kind, r.Name, r.Option, r.Start, r.End, preview(r.Content))
	}
	return tw.Flush()
}

func preview(s string) string {
	const limit = 40
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	q := fmt.Sprintf("%q", s)
	return q[1 : len(q)-1]
}
