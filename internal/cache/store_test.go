package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/vellum/internal/types"
)

func compiled(name, text string) *types.CompiledTemplate {
	return &types.CompiledTemplate{FullyQualifiedName: name, ExpandedText: text}
}

func TestStore_PutGet(t *testing.T) {
	s := NewStore()

	assert.Nil(t, s.Put(compiled("Home/Index", "v1")))
	tmpl, ok := s.Get("Home/Index")
	require.True(t, ok)
	assert.Equal(t, "v1", tmpl.ExpandedText)

	previous := s.Put(compiled("Home/Index", "v2"))
	require.NotNil(t, previous)
	assert.Equal(t, "v1", previous.ExpandedText)

	// the old pointer is untouched by the swap
	assert.Equal(t, "v1", tmpl.ExpandedText)

	_, ok = s.Get("Home/Missing")
	assert.False(t, ok)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Swaps)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestStore_RemoveAndReplace(t *testing.T) {
	s := NewStore()
	s.Put(compiled("B", "b"))
	s.Put(compiled("A", "a"))

	assert.Equal(t, []string{"A", "B"}, s.Names())
	assert.Equal(t, "A", s.All()[0].FullyQualifiedName)

	assert.True(t, s.Remove("A"))
	assert.False(t, s.Remove("A"))
	assert.Equal(t, int64(1), s.Stats().Deletes)

	s.Replace([]*types.CompiledTemplate{compiled("C", "c"), compiled("D", "d")})
	assert.Equal(t, []string{"C", "D"}, s.Names())
	assert.Equal(t, 2, s.Len())
}

func TestStore_ConcurrentSwap(t *testing.T) {
	s := NewStore()
	s.Put(compiled("Home/Index", "old-old-old"))

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			text := "old-old-old"
			if i%2 == 0 {
				text = "new-new-new"
			}
			s.Put(compiled("Home/Index", text))
		}
		close(done)
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				tmpl, ok := s.Get("Home/Index")
				if !ok {
					t.Error("entry missing during swap")
					return
				}
				if tmpl.ExpandedText != "old-old-old" && tmpl.ExpandedText != "new-new-new" {
					t.Errorf("torn read: %q", tmpl.ExpandedText)
					return
				}
			}
		}()
	}

	wg.Wait()
}
