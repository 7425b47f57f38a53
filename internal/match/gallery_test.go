package match

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGalleryAddCopiesVectors(t *testing.T) {
	g := NewGallery()
	vec := []float32{1, 2, 3}
	g.Add("s1", vec)

	// Mutating the caller's slice must not leak into the gallery.
	vec[0] = 99

	snap := g.Snapshot()
	require.Len(t, snap["s1"], 1)
	assert.Equal(t, []float32{1, 2, 3}, snap["s1"][0])
}

func TestGallerySnapshotIsolation(t *testing.T) {
	g := NewGallery()
	g.Add("s1", []float32{1, 0})
	g.Add("s2", []float32{0, 1})

	snap := g.Snapshot()
	require.Len(t, snap, 2)

	g.Add("s3", []float32{1, 1})
	g.Add("s1", []float32{2, 2})
	g.RemoveIdentity("s2")

	// The earlier snapshot still describes the gallery as it was.
	assert.Len(t, snap, 2)
	assert.Len(t, snap["s1"], 1)
	assert.Contains(t, snap, "s2")

	fresh := g.Snapshot()
	assert.Len(t, fresh, 2)
	assert.Len(t, fresh["s1"], 2)
	assert.NotContains(t, fresh, "s2")
}

func TestGalleryReplaceIdentity(t *testing.T) {
	g := NewGallery()
	g.Add("s1", []float32{1, 0})
	g.Add("s1", []float32{0, 1})
	require.Equal(t, 2, g.Signatures())

	g.ReplaceIdentity("s1", [][]float32{{5, 5}})
	assert.Equal(t, 1, g.Signatures())
	assert.Equal(t, []float32{5, 5}, g.Snapshot()["s1"][0])

	// Replacing with an empty set drops the identity entirely.
	g.ReplaceIdentity("s1", nil)
	assert.Equal(t, 0, g.Identities())
	assert.Equal(t, 0, g.Signatures())
}

func TestGalleryLoad(t *testing.T) {
	g := NewGallery()
	g.Add("old", []float32{9, 9})

	g.Load(map[string][][]float32{
		"s1": {{1, 0}, {0, 1}},
		"s2": {{1, 1}},
	})

	assert.Equal(t, 2, g.Identities())
	assert.Equal(t, 3, g.Signatures())
	assert.NotContains(t, g.Snapshot(), "old")
}

func TestGalleryRemoveIdentity(t *testing.T) {
	g := NewGallery()
	g.Add("s1", []float32{1})
	g.Add("s2", []float32{2})

	g.RemoveIdentity("s1")
	assert.Equal(t, 1, g.Identities())
	assert.Equal(t, 1, g.Signatures())

	// Removing an unknown identity is a no-op.
	g.RemoveIdentity("ghost")
	assert.Equal(t, 1, g.Identities())
}

func TestGalleryConcurrentReadersAndWriters(t *testing.T) {
	g := NewGallery()
	m := New(MetricEuclidean, 1.0)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				g.Add(fmt.Sprintf("id-%d-%d", w, i), []float32{float32(i), float32(w)})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				snap := g.Snapshot()
				res := m.Verify([]float32{0, 0}, snap, 0.5)
				// Every vector in a snapshot must be fully formed.
				for _, vecs := range snap {
					for _, v := range vecs {
						require.Len(t, v, 2)
					}
				}
				_ = res
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, g.Signatures())
	assert.Equal(t, 400, g.Identities())
}
