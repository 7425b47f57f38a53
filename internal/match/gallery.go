package match

import "sync"

// Gallery is the in-memory signature store consulted on every verification.
// Writers are serialized by the mutex; readers take snapshots that stay
// coherent while writes continue. Vectors are copied on insert and never
// mutated afterwards, so snapshots may share their backing arrays.
type Gallery struct {
	mu   sync.RWMutex
	sigs map[string][][]float32
	n    int
}

func NewGallery() *Gallery {
	return &Gallery{sigs: make(map[string][][]float32)}
}

// Load replaces the entire gallery, typically with the result of the
// startup hydration query.
func (g *Gallery) Load(all map[string][][]float32) {
	sigs := make(map[string][][]float32, len(all))
	n := 0
	for id, vecs := range all {
		cp := make([][]float32, 0, len(vecs))
		for _, v := range vecs {
			cp = append(cp, cloneVec(v))
		}
		sigs[id] = cp
		n += len(cp)
	}

	g.mu.Lock()
	g.sigs = sigs
	g.n = n
	g.mu.Unlock()
}

// Add appends one signature for the identity, creating it if needed.
func (g *Gallery) Add(identity string, vec []float32) {
	cp := cloneVec(vec)

	g.mu.Lock()
	g.sigs[identity] = append(g.sigs[identity], cp)
	g.n++
	g.mu.Unlock()
}

// ReplaceIdentity swaps the identity's signature set wholesale. Used after a
// single-signature delete, where the store reloads the survivors. An empty
// set removes the identity.
func (g *Gallery) ReplaceIdentity(identity string, vecs [][]float32) {
	cp := make([][]float32, 0, len(vecs))
	for _, v := range vecs {
		cp = append(cp, cloneVec(v))
	}

	g.mu.Lock()
	g.n -= len(g.sigs[identity])
	if len(cp) == 0 {
		delete(g.sigs, identity)
	} else {
		g.sigs[identity] = cp
		g.n += len(cp)
	}
	g.mu.Unlock()
}

// RemoveIdentity drops the identity and all its signatures.
func (g *Gallery) RemoveIdentity(identity string) {
	g.mu.Lock()
	g.n -= len(g.sigs[identity])
	delete(g.sigs, identity)
	g.mu.Unlock()
}

// Snapshot returns a consistent copy of the gallery map. The vector slices
// are shared with the live gallery; they are immutable by construction.
func (g *Gallery) Snapshot() map[string][][]float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string][][]float32, len(g.sigs))
	for id, vecs := range g.sigs {
		out[id] = vecs
	}
	return out
}

// Identities reports the number of enrolled identities with signatures.
func (g *Gallery) Identities() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sigs)
}

// Signatures reports the total signature count across all identities.
func (g *Gallery) Signatures() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.n
}

func cloneVec(v []float32) []float32 {
	cp := make([]float32, len(v))
	copy(cp, v)
	return cp
}
