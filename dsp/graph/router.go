package graph

import (
	"fmt"
)

// Router owns a set of processors and runs them in dependency order.
//
// The canonical router holds the global order. Clones made with CloneRouter
// share that order and its change counter; each clone keeps a local order of
// its own processor instances and re-synchronizes it the next time it
// processes after the counter moved.
type Router struct {
	Base

	shared *routerShared

	// locals maps each canonical processor to this router's instance of it.
	locals   map[Processor]Processor
	order    []Processor
	feedback []*Feedback
	seen     int
}

type routerShared struct {
	order    []Processor
	feedback []*Feedback
	inserted map[Processor]int
	next     int
	version  int

	onFeedback func(fb *Feedback)
}

// NewRouter returns an empty router that sizes its processors for f.
func NewRouter(f Format) *Router {
	r := &Router{}
	r.InitRouter(r, 0, 0)
	r.SetFormat(f)

	return r
}

// InitRouter prepares an embedded router. Types that embed Router pass
// themselves as self so that ownership and outputs refer to the outer type.
func (r *Router) InitRouter(self Processor, numInputs, numOutputs int) {
	r.Init(self, numInputs, numOutputs, AudioRate)
	r.shared = &routerShared{inserted: make(map[Processor]int)}
	r.locals = make(map[Processor]Processor)
	r.seen = 0
}

func (r *Router) router() *Router { return r }

// SetFormat sizes the buffers of the router and everything it owns. Types
// embedding Router call it once after InitRouter.
func (r *Router) SetFormat(f Format) {
	allocateTree(r.self, f)
}

// OnFeedback registers a callback that runs whenever Connect inserts a
// feedback node. Integration layers use it for diagnostics.
func (r *Router) OnFeedback(fn func(fb *Feedback)) {
	r.shared.onFeedback = fn
}

// IsClone reports whether the router is a clone of another router.
func (r *Router) IsClone() bool {
	return r.origin != r.self
}

// Len returns the number of processors in the order, feedback nodes included.
func (r *Router) Len() int {
	return len(r.shared.order)
}

// Order returns a copy of this router's current processing order.
func (r *Router) Order() []Processor {
	r.ensureSynced()

	return append([]Processor(nil), r.order...)
}

// Feedbacks returns this router's feedback nodes.
func (r *Router) Feedbacks() []*Feedback {
	r.ensureSynced()

	return append([]*Feedback(nil), r.feedback...)
}

// Has reports whether p is a direct child of the router. Clones answer for
// their local instances as well as for the canonical processors.
func (r *Router) Has(p Processor) bool {
	if _, ok := r.locals[p]; ok {
		return true
	}

	return p.base().parent == r.self
}

// EachChild calls fn for every processor owned by this router instance.
func (r *Router) EachChild(fn func(Processor)) {
	if r.IsClone() {
		for _, c := range r.shared.order {
			if l, ok := r.locals[c]; ok {
				fn(l)
			}
		}

		return
	}

	for _, c := range r.shared.order {
		fn(c)
	}
}

// Add inserts p into the router and places it after its dependencies.
// Panics if p already belongs to a router or if r is a clone.
func (r *Router) Add(p Processor) {
	r.mustBeCanonical("Add")

	b := p.base()
	if b.parent != nil {
		panic(fmt.Sprintf("graph: %T already belongs to a router", p))
	}

	b.parent = r.self
	allocateTree(p, r.Format())
	propagateRates(p, r.state.sampleRate, r.state.oversample)

	r.shared.inserted[p] = r.shared.next
	r.shared.next++
	r.shared.order = append(r.shared.order, p)
	r.locals[p] = p

	if fb, ok := p.(*Feedback); ok {
		r.shared.feedback = append(r.shared.feedback, fb)
	}

	r.bump()
	r.Reorder(p)
}

// Attach makes r the owner of p without scheduling it. Types embedding
// Router use it for sub-routers they process themselves, and must then list
// p in their EachChild.
func (r *Router) Attach(p Processor) {
	b := p.base()
	if b.parent != nil {
		panic(fmt.Sprintf("graph: %T already belongs to a router", p))
	}

	b.parent = r.self
	allocateTree(p, r.Format())
	propagateRates(p, r.state.sampleRate, r.state.oversample)
}

// Remove takes p out of the router. Inputs in this router that read from p
// are unbound and feedback nodes sourced from p are removed with it.
func (r *Router) Remove(p Processor) {
	r.mustBeCanonical("Remove")

	if !r.Has(p) {
		return
	}

	r.detach(p)

	removed := map[Processor]struct{}{p: {}}

	for _, fb := range append([]*Feedback(nil), r.shared.feedback...) {
		if src := fb.inputs[0].src; src != nil && src.owner == p {
			r.detach(fb)
			removed[fb] = struct{}{}
		}
	}

	for _, c := range appendDescendants(nil, r.self.(Subgraph)) {
		for _, in := range c.base().inputs {
			if in.src == nil {
				continue
			}

			if _, ok := removed[in.src.owner]; ok {
				in.src = nil
			}
		}
	}

	r.bump()
}

func (r *Router) detach(p Processor) {
	r.shared.order = removeProcessor(r.shared.order, p)
	delete(r.shared.inserted, p)
	delete(r.locals, p)

	if fb, ok := p.(*Feedback); ok {
		for i, f := range r.shared.feedback {
			if f == fb {
				r.shared.feedback = append(r.shared.feedback[:i], r.shared.feedback[i+1:]...)

				break
			}
		}
	}

	p.base().parent = nil
}

// Connect binds input index of dst to src, replacing any previous binding,
// and returns the output actually bound. When src is produced downstream of
// dst the connection would close a cycle; a Feedback node delaying src by
// one block is inserted instead and its output is returned.
//
// dst must belong to this router's graph (directly or in a nested router)
// and index must be a valid port; violations panic.
func (r *Router) Connect(dst Processor, index int, src *Output) *Output {
	r.mustOwn(dst)

	db := dst.base()
	if index < 0 || index >= len(db.inputs) {
		panic(fmt.Sprintf("graph: input index %d out of range for %T (%d inputs)", index, dst, len(db.inputs)))
	}

	old := db.inputs[index].src
	bound := r.bind(dst, db.inputs[index], src)
	r.dropOrphanFeedback(old)

	return bound
}

// ConnectNext appends a new input to dst and binds it to src. It is meant for
// processors with a variable number of inputs such as sums.
func (r *Router) ConnectNext(dst Processor, src *Output) *Output {
	r.mustOwn(dst)

	in := dst.base().AddInput()

	return r.bind(dst, in, src)
}

func (r *Router) bind(dst Processor, in *Input, src *Output) *Output {
	owner := ownerRouter(dst)

	if src != nil && src.owner != nil && closesCycle(dst, src.owner) {
		fb := NewFeedback(src)
		owner.Add(fb)
		in.src = fb.outputs[0]

		if fn := r.shared.onFeedback; fn != nil {
			fn(fb)
		}
	} else {
		in.src = src
	}

	owner.Reorder(dst)
	r.touch(owner)

	return in.src
}

// closesCycle reports whether dst reading from src would form a loop. A
// subgraph's own outputs act as inputs to what it owns and never do.
func closesCycle(dst, src Processor) bool {
	if src == dst {
		return true
	}

	if Contains(src, dst) {
		return false
	}

	return IsDownstream(dst, src)
}

// Disconnect unbinds input index of dst.
func (r *Router) Disconnect(dst Processor, index int) {
	r.mustOwn(dst)

	db := dst.base()
	if index < 0 || index >= len(db.inputs) {
		panic(fmt.Sprintf("graph: input index %d out of range for %T (%d inputs)", index, dst, len(db.inputs)))
	}

	old := db.inputs[index].src
	db.inputs[index].src = nil
	r.dropOrphanFeedback(old)
	r.touch(ownerRouter(dst))
}

// DisconnectSource removes every input of dst that reads src, directly or
// through a feedback node. Appended inputs are deleted, so variable-input
// processors shrink back. It reports whether anything was removed.
func (r *Router) DisconnectSource(dst Processor, src *Output) bool {
	r.mustOwn(dst)

	db := dst.base()
	kept := db.inputs[:0]
	removed := false

	var orphans []*Output

	for _, in := range db.inputs {
		if in.src != nil && (in.src == src || feedbackSource(in.src) == src) {
			removed = true

			orphans = append(orphans, in.src)

			continue
		}

		kept = append(kept, in)
	}

	for i := len(kept); i < len(db.inputs); i++ {
		db.inputs[i] = nil
	}

	db.inputs = kept

	for _, o := range orphans {
		r.dropOrphanFeedback(o)
	}

	if removed {
		r.touch(ownerRouter(dst))
	}

	return removed
}

// IsDownstream reports whether downstream depends, directly or transitively
// and not through a feedback node, on upstream or on anything upstream owns.
func IsDownstream(upstream, downstream Processor) bool {
	for v := range upstreamOf(downstream) {
		if v == upstream || Contains(upstream, v) {
			return true
		}
	}

	return false
}

// Process runs every enabled processor once in dependency order. Feedback
// nodes first publish the snapshot they captured during the previous block.
func (r *Router) Process(numSamples int) {
	if r.seen != r.shared.version {
		r.sync()
	}

	for _, fb := range r.feedback {
		fb.refresh(numSamples)
	}

	for _, p := range r.order {
		if p.Enabled() {
			p.Process(numSamples)
		}
	}
}

// SetSampleRate propagates the sample rate to every processor.
func (r *Router) SetSampleRate(rate float64) {
	r.Base.SetSampleRate(rate)
	r.EachChild(func(p Processor) { p.SetSampleRate(rate) })
}

// SetOversampleAmount propagates the oversampling amount to every processor
// and resizes their buffers.
func (r *Router) SetOversampleAmount(n int) {
	r.Base.SetOversampleAmount(n)
	r.EachChild(func(p Processor) { p.SetOversampleAmount(n) })
}

// CorrectToTime forwards a transport position to every tempo-following
// processor in the graph.
func (r *Router) CorrectToTime(seconds float64) {
	r.EachChild(func(p Processor) {
		if tc, ok := p.(TimeCorrector); ok {
			tc.CorrectToTime(seconds)
		}
	})
}

// Clone returns a deep clone of the router.
func (r *Router) Clone() Processor {
	return r.CloneRouter()
}

// CloneRouter deep-clones the router's processors. The clone shares the
// global order with r. Inputs that read from processors inside the cloned
// graph are relinked to the clone's own instances on first use; inputs that
// read from outside keep their sources.
func (r *Router) CloneRouter() *Router {
	r.ensureSynced()

	c := &Router{}
	c.Base = r.Base
	c.CloneBase(c)
	c.shared = r.shared
	c.locals = make(map[Processor]Processor, len(r.locals))
	c.seen = -1

	for origin, local := range r.locals {
		l := local.Clone()
		l.base().parent = c
		c.locals[origin] = l
	}

	return c
}

// Local returns this router's instance of the canonical processor p,
// searching nested routers. It returns nil if p is not part of the graph.
func (r *Router) Local(p Processor) Processor {
	r.ensureSynced()

	return r.findLocal(p.base().origin)
}

// LocalOutput maps an output of a canonical processor to the matching output
// of this router's instance, or returns out unchanged when its owner is not
// part of the graph.
func (r *Router) LocalOutput(out *Output) *Output {
	if out == nil || out.owner == nil {
		return out
	}

	l := r.Local(out.owner)
	if l == nil {
		return out
	}

	return l.base().outputs[out.index]
}

func (r *Router) ensureSynced() {
	if r.seen != r.shared.version {
		r.sync()
	}
}

// sync rebuilds the local order from the shared one. Clones also create
// instances for processors added since the last sync, drop removed ones and
// relink inputs.
func (r *Router) sync() {
	sh := r.shared

	if !r.IsClone() {
		r.order = append(r.order[:0], sh.order...)
		r.feedback = append(r.feedback[:0], sh.feedback...)
		r.seen = sh.version

		return
	}

	present := make(map[Processor]struct{}, len(sh.order))
	for _, c := range sh.order {
		present[c] = struct{}{}

		if _, ok := r.locals[c]; !ok {
			l := c.Clone()
			l.base().parent = r.self
			r.locals[c] = l
		}
	}

	for origin := range r.locals {
		if _, ok := present[origin]; !ok {
			delete(r.locals, origin)
		}
	}

	r.order = r.order[:0]
	for _, c := range sh.order {
		r.order = append(r.order, r.locals[c])
	}

	r.feedback = r.feedback[:0]
	for _, fb := range sh.feedback {
		if l, ok := r.locals[fb].(*Feedback); ok {
			r.feedback = append(r.feedback, l)
		}
	}

	r.relink()
	r.seen = sh.version
}

// relink points every local input at the clone's own instance of the
// canonical source when that source lives inside the cloned graph.
func (r *Router) relink() {
	root := r.cloneRoot()

	for origin, local := range r.locals {
		ob, lb := origin.base(), local.base()

		for len(lb.inputs) < len(ob.inputs) {
			lb.inputs = append(lb.inputs, &Input{})
		}

		lb.inputs = lb.inputs[:len(ob.inputs)]

		for i, in := range ob.inputs {
			src := in.src
			if src == nil || src.owner == nil {
				lb.inputs[i].src = src

				continue
			}

			if l := root.findLocal(src.owner.base().origin); l != nil {
				lb.inputs[i].src = l.base().outputs[src.index]
			} else {
				lb.inputs[i].src = src
			}
		}
	}
}

func (r *Router) cloneRoot() *Router {
	root := r

	for {
		pr := ownerRouter(root.self)
		if pr == nil || !pr.IsClone() {
			return root
		}

		root = pr
	}
}

func (r *Router) findLocal(origin Processor) Processor {
	if l, ok := r.locals[origin]; ok {
		return l
	}

	for _, l := range r.locals {
		if sub, ok := l.(interface{ router() *Router }); ok {
			if found := sub.router().findLocal(origin); found != nil {
				return found
			}
		}
	}

	return nil
}

func (r *Router) bump() {
	r.shared.version++
}

// touch bumps r and, when an edit landed in a nested router, that router too
// so its clones relink.
func (r *Router) touch(owner *Router) {
	r.bump()

	if owner != nil && owner.shared != r.shared {
		owner.bump()
	}
}

func (r *Router) mustBeCanonical(op string) {
	if r.IsClone() {
		panic("graph: " + op + " called on a router clone")
	}
}

func (r *Router) mustOwn(p Processor) {
	if !Contains(r.self, p) {
		panic(fmt.Sprintf("graph: %T is not part of this router's graph", p))
	}
}

// dropOrphanFeedback removes the feedback node behind out once nothing reads
// from it anymore.
func (r *Router) dropOrphanFeedback(out *Output) {
	if out == nil {
		return
	}

	fb, ok := out.owner.(*Feedback)
	if !ok {
		return
	}

	owner := ownerRouter(fb)
	if owner == nil || owner.IsClone() {
		return
	}

	for _, c := range owner.shared.order {
		for _, in := range c.base().inputs {
			if in.src == out {
				return
			}
		}
	}

	owner.detach(fb)
	owner.bump()
}

// ownerRouter returns the router that directly owns p, or nil.
func ownerRouter(p Processor) *Router {
	parent := p.base().parent
	if parent == nil {
		return nil
	}

	if pr, ok := parent.(interface{ router() *Router }); ok {
		return pr.router()
	}

	return nil
}

func feedbackSource(out *Output) *Output {
	if fb, ok := out.owner.(*Feedback); ok {
		return fb.inputs[0].src
	}

	return nil
}

func propagateRates(p Processor, sampleRate float64, oversample int) {
	b := p.base()
	if b.state.sampleRate != sampleRate {
		p.SetSampleRate(sampleRate)
	}

	if b.state.oversample != oversample {
		p.SetOversampleAmount(oversample)
	}
}

func removeProcessor(list []Processor, p Processor) []Processor {
	for i, q := range list {
		if q == p {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}
