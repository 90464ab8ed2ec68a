package mustache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ----------------------------- Partial resolvers ----------------------------

// Resolver looks up partial templates by name. An unknown name is reported
// with an error wrapping ErrPartialNotFound; the engine renders it empty
// unless strict partials are enabled. Any other error aborts the render.
type Resolver interface {
	Partial(name string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (string, error)

func (f ResolverFunc) Partial(name string) (string, error) { return f(name) }

// MapResolver serves partials from memory.
type MapResolver map[string]string

func (m MapResolver) Partial(name string) (string, error) {
	if p, ok := m[name]; ok {
		return p, nil
	}
	return "", notFound(name)
}

// ChainResolver asks each resolver in turn and returns the first hit.
type ChainResolver []Resolver

func (c ChainResolver) Partial(name string) (string, error) {
	for _, r := range c {
		p, err := r.Partial(name)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPartialNotFound) {
			return "", err
		}
	}
	return "", notFound(name)
}

func notFound(name string) error {
	return fmt.Errorf("%w: %q", ErrPartialNotFound, name)
}

// ----------------------------- Directory resolver ---------------------------

// DirResolver loads partial "name" from <dir>/<name><ext>, falling back to
// <dir>/_<name><ext>. File contents are cached and re-read when the file's
// modification time changes.
type DirResolver struct {
	dir   string
	ext   string
	mu    sync.RWMutex
	files map[string]cachedPartial
}

type cachedPartial struct {
	content string
	modTime time.Time
}

// NewDirResolver creates a resolver for partial files in dir.
func NewDirResolver(dir, ext string) *DirResolver {
	return &DirResolver{
		dir:   dir,
		ext:   ext,
		files: make(map[string]cachedPartial),
	}
}

func (r *DirResolver) Partial(name string) (string, error) {
	if !fs.ValidPath(name) || name == "." {
		return "", notFound(name)
	}
	dir, base := path.Split(name)
	for _, file := range [...]string{name + r.ext, dir + "_" + base + r.ext} {
		p, err := r.load(filepath.Join(r.dir, filepath.FromSlash(file)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return p, err
	}
	return "", notFound(name)
}

func (r *DirResolver) load(filename string) (string, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fs.ErrNotExist
	}

	r.mu.RLock()
	cached, ok := r.files[filename]
	r.mu.RUnlock()
	if ok && !cached.modTime.Before(info.ModTime()) {
		return cached.content, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("reading partial %q: %w", filename, err)
	}
	r.mu.Lock()
	r.files[filename] = cachedPartial{content: string(content), modTime: info.ModTime()}
	r.mu.Unlock()
	return string(content), nil
}

// ClearCache forgets every cached file.
func (r *DirResolver) ClearCache() {
	r.mu.Lock()
	r.files = make(map[string]cachedPartial)
	r.mu.Unlock()
}

// ----------------------------- SQL resolver ---------------------------------

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLResolver reads partials from a (name, body) table. Queries use "?"
// placeholders, as understood by the SQLite drivers.
type SQLResolver struct {
	db      *sql.DB
	table   string
	timeout time.Duration
}

// NewSQLResolver creates a resolver over table. timeout bounds each lookup;
// zero means no deadline.
func NewSQLResolver(db *sql.DB, table string, timeout time.Duration) (*SQLResolver, error) {
	if !identifierRe.MatchString(table) {
		return nil, fmt.Errorf("invalid partial table name %q", table)
	}
	return &SQLResolver{db: db, table: table, timeout: timeout}, nil
}

func (r *SQLResolver) lookupContext() (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(context.Background(), r.timeout)
	}
	return context.Background(), func() {}
}

func (r *SQLResolver) Partial(name string) (string, error) {
	ctx, cancel := r.lookupContext()
	defer cancel()

	var body string
	err := r.db.QueryRowContext(ctx, "SELECT body FROM "+r.table+" WHERE name = ?", name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(name)
	}
	if err != nil {
		return "", fmt.Errorf("querying partial %q: %w", name, err)
	}
	return body, nil
}

// EnsureSchema creates the partial table when it does not exist.
func (r *SQLResolver) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS "+r.table+" (name TEXT PRIMARY KEY, body TEXT NOT NULL)")
	if err != nil {
		return fmt.Errorf("creating partial table: %w", err)
	}
	return nil
}

// Put stores or replaces a partial.
func (r *SQLResolver) Put(ctx context.Context, name, body string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO "+r.table+" (name, body) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET body = excluded.body",
		name, body)
	if err != nil {
		return fmt.Errorf("storing partial %q: %w", name, err)
	}
	return nil
}
