// Package dag orders variables by their dependencies.
//
// A Graph keeps the declaration order of its vertices. Sorting is Kahn's
// algorithm with ties broken by declaration, so a study that declares
// every variable after what it reads is evaluated exactly in the order it
// was written.
package dag

import (
	"container/heap"
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Graph is a directed graph of vertices carrying a value of type T. An
// edge runs from a dependency to the vertex that reads it.
type Graph[T any] struct {
	ids      []string
	index    map[string]int
	values   []T
	parents  [][]int
	children [][]int
	edges    int
}

// New returns an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{index: make(map[string]int)}
}

// Add adds a vertex. Adding an existing ID replaces its value and keeps
// its position.
func (g *Graph[T]) Add(id string, v T) {
	if i, ok := g.index[id]; ok {
		g.values[i] = v
		return
	}
	g.index[id] = len(g.ids)
	g.ids = append(g.ids, id)
	g.values = append(g.values, v)
	g.parents = append(g.parents, nil)
	g.children = append(g.children, nil)
}

// Connect records that to depends on from. Both must exist. Repeated
// edges are ignored and a self edge is reported as a cycle.
func (g *Graph[T]) Connect(from, to string) error {
	f, ok := g.index[from]
	if !ok {
		return fmt.Errorf("dependency %q is not in the graph", from)
	}
	t, ok := g.index[to]
	if !ok {
		return fmt.Errorf("dependent %q is not in the graph", to)
	}
	if f == t {
		return &core.CycleError{Cycle: []string{from, from}}
	}
	if slices.Contains(g.children[f], t) {
		return nil
	}
	g.children[f] = append(g.children[f], t)
	g.parents[t] = append(g.parents[t], f)
	g.edges++
	return nil
}

// Value returns the value stored under id.
func (g *Graph[T]) Value(id string) (T, bool) {
	i, ok := g.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return g.values[i], true
}

// IDs returns every vertex in declaration order.
func (g *Graph[T]) IDs() []string {
	return slices.Clone(g.ids)
}

// Len is the number of vertices.
func (g *Graph[T]) Len() int { return len(g.ids) }

// EdgeCount is the number of distinct edges.
func (g *Graph[T]) EdgeCount() int { return g.edges }

// Parents returns the direct dependencies of id in the order they were
// connected.
func (g *Graph[T]) Parents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.parents[i])
}

// Children returns the direct dependents of id.
func (g *Graph[T]) Children(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.children[i])
}

func (g *Graph[T]) names(idx []int) []string {
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = g.ids[i]
	}
	return out
}

// Sorted returns the values with every dependency before its dependents.
// Among vertices that are ready, the earliest declared comes first. A
// cycle is reported as a *core.CycleError.
func (g *Graph[T]) Sorted() ([]T, error) {
	order, _, err := g.kahn()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(order))
	for k, i := range order {
		out[k] = g.values[i]
	}
	return out, nil
}

// Levels groups vertex IDs by depth: level 0 has no dependencies and a
// vertex at level N reads only lower levels. Each level is in declaration
// order.
func (g *Graph[T]) Levels() ([][]string, error) {
	_, depth, err := g.kahn()
	if err != nil {
		return nil, err
	}
	var levels [][]string
	for i, d := range depth {
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], g.ids[i])
	}
	return levels, nil
}

// kahn returns the evaluation order as vertex indexes and the depth of
// every vertex.
func (g *Graph[T]) kahn() ([]int, []int, error) {
	pending := make([]int, len(g.ids))
	ready := &minHeap{}
	for i := range g.ids {
		pending[i] = len(g.parents[i])
		if pending[i] == 0 {
			heap.Push(ready, i)
		}
	}

	depth := make([]int, len(g.ids))
	order := make([]int, 0, len(g.ids))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, c := range g.children[i] {
			depth[c] = max(depth[c], depth[i]+1)
			if pending[c]--; pending[c] == 0 {
				heap.Push(ready, c)
			}
		}
	}

	if len(order) < len(g.ids) {
		return nil, nil, &core.CycleError{Cycle: g.cycle(pending)}
	}
	return order, depth, nil
}

// cycle extracts one cycle from the vertices Kahn could not release.
// Every such vertex has an unreleased parent, so walking parents must
// revisit a vertex.
func (g *Graph[T]) cycle(pending []int) []string {
	start := slices.IndexFunc(pending, func(p int) bool { return p > 0 })
	step := make(map[int]int)
	var walk []int
	for i := start; ; {
		if at, seen := step[i]; seen {
			walk = walk[at:]
			break
		}
		step[i] = len(walk)
		walk = append(walk, i)
		for _, p := range g.parents[i] {
			if pending[p] > 0 {
				i = p
				break
			}
		}
	}
	// walk follows parents; report it along the edges, closed.
	slices.Reverse(walk)
	out := g.names(walk)
	return append(out, out[0])
}

// Upstream returns every transitive dependency of id in declaration order.
func (g *Graph[T]) Upstream(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.ids))
	stack := slices.Clone(g.parents[i])
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[p] {
			continue
		}
		seen[p] = true
		stack = append(stack, g.parents[p]...)
	}
	var out []string
	for k, s := range seen {
		if s {
			out = append(out, g.ids[k])
		}
	}
	return out
}

// Subgraph returns the vertices named by ids, in declaration order, with
// the edges between them. Unknown IDs are ignored.
func (g *Graph[T]) Subgraph(ids []string) *Graph[T] {
	keep := make([]bool, len(g.ids))
	for _, id := range ids {
		if i, ok := g.index[id]; ok {
			keep[i] = true
		}
	}
	sub := New[T]()
	for i, id := range g.ids {
		if keep[i] {
			sub.Add(id, g.values[i])
		}
	}
	for i, id := range g.ids {
		if !keep[i] {
			continue
		}
		for _, c := range g.children[i] {
			if keep[c] {
				_ = sub.Connect(id, g.ids[c])
			}
		}
	}
	return sub
}

// minHeap orders ready vertices by declaration index.
type minHeap []int

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(int)) }

func (h *minHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
