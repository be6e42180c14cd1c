package graph

import (
	"cmp"
	"slices"
)

// upstreamOf returns every processor p depends on through its inputs,
// transitively. Dependencies are not followed through feedback nodes. When p
// owns other processors the walk starts from all of them, so the result
// covers whatever the subgraph reads from outside.
func upstreamOf(p Processor) map[Processor]struct{} {
	visited := make(map[Processor]struct{})
	stack := []Processor{p}

	if sg, ok := p.(Subgraph); ok {
		stack = appendDescendants(stack, sg)
	}

	for len(stack) > 0 {
		q := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, in := range q.base().inputs {
			if in.src == nil || in.src.owner == nil {
				continue
			}

			owner := in.src.owner
			if _, ok := owner.(*Feedback); ok {
				continue
			}

			if _, ok := visited[owner]; ok {
				continue
			}

			visited[owner] = struct{}{}
			stack = append(stack, owner)
		}
	}

	return visited
}

func appendDescendants(dst []Processor, sg Subgraph) []Processor {
	sg.EachChild(func(c Processor) {
		dst = append(dst, c)
		if sub, ok := c.(Subgraph); ok {
			dst = appendDescendants(dst, sub)
		}
	})

	return dst
}

// childOf maps v to the direct child of r that is v or owns v.
func (r *Router) childOf(v Processor) Processor {
	for q := v; q != nil; q = q.base().parent {
		if q.base().parent == r.self {
			return q
		}
	}

	return nil
}

// dependencies returns the direct children of r that p must follow.
func (r *Router) dependencies(p Processor) map[Processor]struct{} {
	deps := make(map[Processor]struct{})

	for v := range upstreamOf(p) {
		if c := r.childOf(v); c != nil && c != p {
			deps[c] = struct{}{}
		}
	}

	return deps
}

// Reorder moves p after everything it depends on and then lets the enclosing
// router place this router after its own new dependencies. It is called by
// Add and Connect; callers that bind inputs some other way use it to restore
// the ordering.
func (r *Router) Reorder(p Processor) {
	if _, ok := r.locals[p]; ok && !r.IsClone() {
		if r.placeAfterDeps(p) {
			r.bump()
		}
	}

	if parent := ownerRouter(r.self); parent != nil {
		parent.Reorder(r.self)
	}
}

// placeAfterDeps keeps the order when p already follows all of its
// dependencies and otherwise re-sorts it. It reports whether the order
// changed.
//
// Adding an edge that the current order already satisfies cannot change the
// insertion-priority sort, so the common case costs one scan.
func (r *Router) placeAfterDeps(p Processor) bool {
	order := r.shared.order
	deps := r.dependencies(p)

	pos := slices.Index(order, p)

	satisfied := true

	for _, q := range order[pos+1:] {
		if _, ok := deps[q]; ok {
			satisfied = false

			break
		}
	}

	if satisfied {
		return false
	}

	copy(r.shared.order, r.sortStable(order))

	return true
}

// sortStable is Kahn's algorithm where, among ready processors, the one added
// to the router first leaves first. Independent processors therefore run in
// insertion order. Processors caught in a cycle, which Connect never creates,
// are appended in their current order.
func (r *Router) sortStable(order []Processor) []Processor {
	inserted := r.shared.inserted
	byInsertion := func(a, b Processor) int {
		return cmp.Compare(inserted[a], inserted[b])
	}

	present := make(map[Processor]struct{}, len(order))
	for _, q := range order {
		present[q] = struct{}{}
	}

	indegree := make(map[Processor]int, len(order))
	outgoing := make(map[Processor][]Processor, len(order))

	for _, q := range order {
		for d := range r.dependencies(q) {
			if _, ok := present[d]; !ok {
				continue
			}

			outgoing[d] = append(outgoing[d], q)
			indegree[q]++
		}
	}

	ready := make([]Processor, 0, len(order))

	for _, q := range order {
		if indegree[q] == 0 {
			ready = append(ready, q)
		}
	}

	slices.SortFunc(ready, byInsertion)

	sorted := make([]Processor, 0, len(order))
	done := make(map[Processor]struct{}, len(order))

	for len(ready) > 0 {
		q := ready[0]
		ready = ready[1:]

		sorted = append(sorted, q)
		done[q] = struct{}{}

		for _, next := range outgoing[q] {
			indegree[next]--
			if indegree[next] == 0 {
				i, _ := slices.BinarySearchFunc(ready, next, byInsertion)
				ready = slices.Insert(ready, i, next)
			}
		}
	}

	for _, q := range order {
		if _, ok := done[q]; !ok {
			sorted = append(sorted, q)
		}
	}

	return sorted
}
