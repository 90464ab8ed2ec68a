package mustache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, src string, cache *TemplateCache) *CompiledTemplate {
	t.Helper()
	ct, err := Compile(src, DefaultTags, false, cache)
	require.NoError(t, err)
	return ct
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewTemplateCache(2)
	mustCompile(t, "a{{x}}", cache)
	mustCompile(t, "b{{x}}", cache)
	mustCompile(t, "c{{x}}", cache)

	assert.False(t, cache.Contains("a{{x}}", DefaultTags, false))
	assert.True(t, cache.Contains("b{{x}}", DefaultTags, false))
	assert.True(t, cache.Contains("c{{x}}", DefaultTags, false))

	stats := cache.Stats()
	assert.Equal(t, uint64(3), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 2, stats.Capacity)
}

func TestCacheReadRefreshesRecency(t *testing.T) {
	cache := NewTemplateCache(2)
	mustCompile(t, "a", cache)
	mustCompile(t, "b", cache)
	mustCompile(t, "a", cache)
	mustCompile(t, "c", cache)

	assert.True(t, cache.Contains("a", DefaultTags, false))
	assert.False(t, cache.Contains("b", DefaultTags, false))
	assert.Equal(t, uint64(1), cache.Stats().Hits)
}

func TestCacheKeepsMostRecentKeys(t *testing.T) {
	const capacity = 8
	cache := NewTemplateCache(capacity)
	for i := 0; i < 3*capacity; i++ {
		mustCompile(t, fmt.Sprintf("template %d {{v}}", i), cache)
	}
	for i := 0; i < 3*capacity; i++ {
		want := i >= 2*capacity
		assert.Equal(t, want, cache.Contains(fmt.Sprintf("template %d {{v}}", i), DefaultTags, false), "template %d", i)
	}

	// Only the cached ones skip scanning.
	before := cache.Stats()
	for i := 2 * capacity; i < 3*capacity; i++ {
		mustCompile(t, fmt.Sprintf("template %d {{v}}", i), cache)
	}
	after := cache.Stats()
	assert.Equal(t, before.Misses, after.Misses)
	assert.Equal(t, before.Hits+capacity, after.Hits)
}

func TestCacheKeyIncludesTagsAndComments(t *testing.T) {
	cache := NewTemplateCache(8)
	src := "{{! c }}<%x%>{{y}}"

	a, err := Compile(src, DefaultTags, false, cache)
	require.NoError(t, err)
	b, err := Compile(src, Tags{Open: "<%", Close: "%>"}, false, cache)
	require.NoError(t, err)
	c, err := Compile(src, DefaultTags, true, cache)
	require.NoError(t, err)

	assert.Equal(t, 3, cache.Len())
	assert.NotEqual(t, a.Len(), c.Len())
	assert.Equal(t, TokenText, b.Tokens()[0].Kind)
	assert.True(t, cache.Contains(src, Tags{Open: "<%", Close: "%>"}, false))
	assert.False(t, cache.Contains(src, Tags{Open: "<%", Close: "%>"}, true))
}

func TestCacheEvictHook(t *testing.T) {
	var evicted []string
	cache := NewTemplateCache(1, WithEvictHook(func(ct *CompiledTemplate) {
		evicted = append(evicted, ct.Source())
	}))
	mustCompile(t, "first", cache)
	mustCompile(t, "second", cache)
	assert.Equal(t, []string{"first"}, evicted)
}

func TestCachePurge(t *testing.T) {
	cache := NewTemplateCache(4)
	mustCompile(t, "x", cache)
	mustCompile(t, "y", cache)
	cache.Purge()

	assert.Equal(t, 0, cache.Len())
	assert.False(t, cache.Contains("x", DefaultTags, false))
	assert.Equal(t, uint64(2), cache.Stats().Evictions)
}

func TestCacheDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCacheSize, NewTemplateCache(0).Capacity())
	assert.Equal(t, DefaultCacheSize, NewTemplateCache(-3).Capacity())
}

func TestCacheConcurrentRenders(t *testing.T) {
	cache := NewTemplateCache(16)
	e := New(WithCache(cache))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := fmt.Sprintf("{{#items}}%d:{{.}} {{/items}}", i%4)
			out, err := e.Render(src, map[string]any{"items": []int{1, 2}})
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf("%d:1 %d:2 ", i%4, i%4); out != want {
				errs <- fmt.Errorf("expected %q, got %q", want, out)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 4, cache.Len())
}
