package testutil

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs_Sequence(t *testing.T) {
	gen := NewSequentialIDs("track")

	assert.Equal(t, "track-0001", gen.Generate())
	assert.Equal(t, "track-0002", gen.Generate())
	assert.Equal(t, "track-0003", gen.Generate())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	gen := NewSequentialIDs("")
	assert.Equal(t, "rec-0001", gen.Generate())
}

func TestSequentialIDs_BytewiseOrderMatchesCreation(t *testing.T) {
	gen := NewSequentialIDs("r")
	var ids []string
	for i := 0; i < 120; i++ {
		ids = append(ids, gen.Generate())
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	gen := NewSequentialIDs("p")

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
