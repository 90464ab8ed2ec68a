package mustache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// ----------------------------- Template set ---------------------------------

// ReloadCallback is called when a template file is (re)loaded or fails to
// compile.
type ReloadCallback func(name string, tmpl *Template, err error)

// Set holds every template below a directory, addressed by its slash
// separated path without extension. Files starting with "_" are registered
// without the underscore. The set is also the engine's partial resolver, so
// templates include each other with {{>name}}. Changed files are picked up
// by Reload, which Start runs periodically.
type Set struct {
	engine *Engine
	dir    string
	ext    string

	mu        sync.RWMutex
	templates map[string]*setEntry
	failed    map[string]failure // path -> version that was rejected
	callbacks []ReloadCallback

	stopOnce sync.Once
	stopChan chan struct{}
}

type setEntry struct {
	path    string
	modTime time.Time
	tmpl    *Template
}

type failure struct {
	modTime   time.Time
	duplicate bool
}

// NewSet loads all files with extension ext below dir. A resolver passed in
// opts is consulted for names the set does not contain.
func NewSet(dir, ext string, opts ...Option) (*Set, error) {
	s := &Set{
		dir:       dir,
		ext:       ext,
		templates: make(map[string]*setEntry),
		failed:    make(map[string]failure),
		stopChan:  make(chan struct{}),
	}
	e := New(opts...)
	var resolver Resolver = s
	if e.opts.resolver != nil {
		resolver = ChainResolver{s, e.opts.resolver}
	}
	s.engine = e.With(WithResolver(resolver))

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Engine returns the engine templates are compiled and rendered with.
func (s *Set) Engine() *Engine { return s.engine }

// Lookup returns the named template.
func (s *Set) Lookup(name string) (*Template, bool) {
	s.mu.RLock()
	entry, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.tmpl, true
}

// Names returns the sorted template names.
func (s *Set) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	s.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Partial implements Resolver.
func (s *Set) Partial(name string) (string, error) {
	tmpl, ok := s.Lookup(name)
	if !ok {
		return "", notFound(name)
	}
	return tmpl.compiled.Source(), nil
}

// Render renders the named template to a string.
func (s *Set) Render(name string, data any) (string, error) {
	tmpl, ok := s.Lookup(name)
	if !ok {
		return "", fmt.Errorf("template %q: %w", name, ErrPartialNotFound)
	}
	return tmpl.RenderString(data)
}

// RenderTo renders the named template into w.
func (s *Set) RenderTo(w io.Writer, name string, data any) error {
	tmpl, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("template %q: %w", name, ErrPartialNotFound)
	}
	return tmpl.Render(w, data)
}

// AddCallback registers a callback for reload events.
func (s *Set) AddCallback(cb ReloadCallback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// Reload rescans the directory: new and modified files are compiled, and
// files that disappeared are dropped. A file that fails to compile keeps its
// previous version and is reported to the callbacks once per change. When
// two files map to the same name the first in lexical order wins and the
// other is reported as a failure.
func (s *Set) Reload() error {
	seen := make(map[string]string) // name -> path
	paths := make(map[string]bool)
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), s.ext) {
			return nil
		}
		paths[path] = true
		name := s.templateName(path)
		if other, dup := seen[name]; dup {
			return s.loadDuplicate(name, path, other)
		}
		seen[name] = path
		return s.loadFile(name, path)
	})
	if err != nil {
		return fmt.Errorf("loading templates from %q: %w", s.dir, err)
	}

	s.mu.Lock()
	for name := range s.templates {
		if _, ok := seen[name]; !ok {
			delete(s.templates, name)
		}
	}
	for path := range s.failed {
		if !paths[path] {
			delete(s.failed, path)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Set) templateName(path string) string {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(strings.TrimSuffix(rel, s.ext))
	dir, base := filepath.Split(rel)
	return dir + strings.TrimPrefix(base, "_")
}

func (s *Set) loadFile(name, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	s.mu.RLock()
	entry, ok := s.templates[name]
	s.mu.RUnlock()
	if ok && entry.path == path && !info.ModTime().After(entry.modTime) {
		return nil
	}
	if s.failedBefore(path, info.ModTime(), false) {
		return nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	tmpl, err := s.engine.Parse(string(content))
	if err != nil {
		s.fail(name, path, failure{modTime: info.ModTime()}, fmt.Errorf("compiling template %q: %w", path, err))
		return nil
	}

	s.mu.Lock()
	s.templates[name] = &setEntry{path: path, modTime: info.ModTime(), tmpl: tmpl}
	delete(s.failed, path)
	s.mu.Unlock()
	s.notify(name, tmpl, nil)
	return nil
}

func (s *Set) loadDuplicate(name, path, other string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if s.failedBefore(path, info.ModTime(), true) {
		return nil
	}
	s.fail(name, path, failure{modTime: info.ModTime(), duplicate: true}, fmt.Errorf("template %q: %s and %s share the name", name, other, path))
	return nil
}

// failedBefore reports whether the version of path modified at modTime was
// already rejected for the same reason.
func (s *Set) failedBefore(path string, modTime time.Time, duplicate bool) bool {
	s.mu.RLock()
	f, ok := s.failed[path]
	s.mu.RUnlock()
	return ok && f.duplicate == duplicate && !modTime.After(f.modTime)
}

func (s *Set) fail(name, path string, f failure, err error) {
	s.mu.Lock()
	s.failed[path] = f
	s.mu.Unlock()
	s.notify(name, nil, err)
}

func (s *Set) notify(name string, tmpl *Template, err error) {
	s.mu.RLock()
	callbacks := slices.Clone(s.callbacks)
	s.mu.RUnlock()
	for _, cb := range callbacks {
		cb(name, tmpl, err)
	}
}

// Start reloads the set every interval until Stop is called.
func (s *Set) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go s.watchLoop(interval)
}

// Stop ends the reload loop started by Start.
func (s *Set) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Set) watchLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.Reload(); err != nil {
				s.notify("", nil, err)
			}
		}
	}
}
