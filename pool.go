package mustache

import (
	"strings"
	"sync"
)

// ----------------------------- Buffer and stack pools -----------------------

var stringBuilderPool = sync.Pool{
	New: func() any { return &strings.Builder{} },
}

var framesPool = sync.Pool{
	New: func() any {
		s := make([]frame, 0, 8) // typical nesting depth
		return &s
	},
}

func getFrames() *[]frame {
	return framesPool.Get().(*[]frame)
}

func putFrames(s *[]frame) {
	clear((*s)[:cap(*s)]) // drop references to scopes and iterators
	*s = (*s)[:0]
	framesPool.Put(s)
}

// WarmupPools pre-allocates section stacks for n concurrent renders.
func WarmupPools(n int) {
	stacks := make([]*[]frame, n)
	for i := range stacks {
		stacks[i] = getFrames()
	}
	for _, s := range stacks {
		putFrames(s)
	}
}
