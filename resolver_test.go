package mustache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestMapResolver(t *testing.T) {
	r := MapResolver{"a": "A"}
	p, err := r.Partial("a")
	require.NoError(t, err)
	assert.Equal(t, "A", p)

	_, err = r.Partial("b")
	assert.ErrorIs(t, err, ErrPartialNotFound)
}

func TestChainResolver(t *testing.T) {
	broken := errors.New("broken")
	chain := ChainResolver{
		MapResolver{"a": "first"},
		ResolverFunc(func(name string) (string, error) {
			if name == "bad" {
				return "", broken
			}
			return "", notFound(name)
		}),
		MapResolver{"a": "shadowed", "b": "second"},
	}

	p, err := chain.Partial("a")
	require.NoError(t, err)
	assert.Equal(t, "first", p)

	p, err = chain.Partial("b")
	require.NoError(t, err)
	assert.Equal(t, "second", p)

	_, err = chain.Partial("bad")
	assert.ErrorIs(t, err, broken)

	_, err = chain.Partial("none")
	assert.ErrorIs(t, err, ErrPartialNotFound)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mustache"), "A")
	writeFile(t, filepath.Join(dir, "_b.mustache"), "B")
	writeFile(t, filepath.Join(dir, "sub", "_c.mustache"), "C")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.mustache"), 0o755))

	r := NewDirResolver(dir, ".mustache")
	for name, want := range map[string]string{"a": "A", "b": "B", "sub/c": "C"} {
		p, err := r.Partial(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, p)
	}
	for _, name := range []string{"missing", "../a", "/a", ".", "", "d"} {
		_, err := r.Partial(name)
		assert.ErrorIs(t, err, ErrPartialNotFound, name)
	}
}

func TestDirResolverReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tpl")
	writeFile(t, path, "old")

	r := NewDirResolver(dir, ".tpl")
	p, err := r.Partial("a")
	require.NoError(t, err)
	assert.Equal(t, "old", p)

	writeFile(t, path, "new")
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	p, err = r.Partial("a")
	require.NoError(t, err)
	assert.Equal(t, "new", p)

	r.ClearCache()
	p, err = r.Partial("a")
	require.NoError(t, err)
	assert.Equal(t, "new", p)
}

func TestDirResolverRender(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "_user.mustache"), "<{{name}}>")

	out, err := Render("{{#users}}{{>user}}{{/users}}", map[string]any{
		"users": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
	}, WithResolver(NewDirResolver(dir, ".mustache")))
	require.NoError(t, err)
	assert.Equal(t, "<a><b>", out)
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLResolver(t *testing.T) {
	ctx := context.Background()
	r, err := NewSQLResolver(openMemoryDB(t), "partials", time.Second)
	require.NoError(t, err)
	require.NoError(t, r.EnsureSchema(ctx))
	require.NoError(t, r.EnsureSchema(ctx))

	require.NoError(t, r.Put(ctx, "greet", "Hi {{name}}"))
	p, err := r.Partial("greet")
	require.NoError(t, err)
	assert.Equal(t, "Hi {{name}}", p)

	require.NoError(t, r.Put(ctx, "greet", "Hello {{name}}"))
	p, err = r.Partial("greet")
	require.NoError(t, err)
	assert.Equal(t, "Hello {{name}}", p)

	_, err = r.Partial("missing")
	assert.ErrorIs(t, err, ErrPartialNotFound)

	out, err := Render("{{>greet}}!", map[string]any{"name": "Bob"}, WithResolver(r))
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob!", out)
}

func TestSQLResolverErrors(t *testing.T) {
	db := openMemoryDB(t)
	_, err := NewSQLResolver(db, "partials; DROP TABLE x", 0)
	assert.Error(t, err)

	r, err := NewSQLResolver(db, "absent", 0)
	require.NoError(t, err)
	_, err = r.Partial("a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialNotFound)

	_, err = Render("{{>a}}", nil, WithResolver(r))
	assert.Error(t, err)
}
