package matcher

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/GideonEse/fete/internal/member"
)

// ErrUnavailable means the index holds no descriptors; every detection is
// treated as unknown rather than an error by the detection loop.
var ErrUnavailable = errors.New("matcher: no descriptors indexed")

const maxNeighbors = 16

// Match is a resolved identity for a detected face.
type Match struct {
	MemberID string
	Name     string
	Distance float64
}

// Index matches detected face descriptors against the registry's corpus
// using an HNSW graph with cosine distance. Rebuild whenever the member
// list changes.
type Index struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[string]
	names     map[string]string
	size      int
	version   uint64
	threshold float64
}

// New creates an empty index. A candidate matches when its cosine distance
// to the query is at most threshold.
func New(threshold float64) *Index {
	return &Index{threshold: threshold, names: make(map[string]string)}
}

// Rebuild re-derives the descriptor corpus from the member list, keeping
// only non-admin members with a descriptor. Returns the indexed count.
func (x *Index) Rebuild(members []member.Member, version uint64) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.names = make(map[string]string)
	x.size = 0
	x.version = version
	x.graph = nil

	g := hnsw.NewGraph[string]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors)
	g.Distance = hnsw.CosineDistance

	for _, m := range members {
		if !m.HasDescriptor() {
			continue
		}
		g.Add(hnsw.MakeNode(m.ID, m.FaceDescriptor))
		x.names[m.ID] = m.Name
		x.size++
	}
	if x.size > 0 {
		x.graph = g
	}
	return x.size
}

// Match returns the best-matching member for a descriptor. ok is false for
// below-threshold candidates (unknown face). ErrUnavailable is returned
// when the corpus is empty.
func (x *Index) Match(descriptor []float32) (Match, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return Match{}, false, ErrUnavailable
	}
	neighbors := x.graph.Search(descriptor, 1)
	if len(neighbors) == 0 {
		return Match{}, false, nil
	}
	best := neighbors[0]
	dist := CosineDistance(descriptor, best.Value)
	m := Match{MemberID: best.Key, Name: x.names[best.Key], Distance: dist}
	if dist > x.threshold {
		return m, false, nil
	}
	return m, true, nil
}

// Size returns the number of indexed descriptors.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.size
}

// Version returns the registry version the corpus was built from.
func (x *Index) Version() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.version
}
