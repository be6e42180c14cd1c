package graph

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/cwbudde/algo-synth/internal/testutil"
)

var testFormat = Format{Lanes: 2, MaxBlock: 4}

// node writes offset plus the sum of its inputs to every lane.
type node struct {
	Base

	offset float64
	calls  int
}

func newNode(numInputs int, offset float64) *node {
	n := &node{offset: offset}
	n.Init(n, numInputs, 1, AudioRate)

	return n
}

func (n *node) Process(numSamples int) {
	n.calls++

	out := n.Output(0)
	lanes := n.Lanes()

	for f := range numSamples {
		for ln := range lanes {
			v := n.offset
			for _, in := range n.inputs {
				v += in.At(f, ln)
			}

			out.Buffer[f*lanes+ln] = v
		}
	}
}

func (n *node) Clone() Processor {
	c := *n
	c.CloneBase(&c)

	return &c
}

func value(p Processor) float64 {
	return p.base().Output(0).At(0, 0)
}

// requireTopological checks that every processor follows the owners of its
// inputs, except inputs read through feedback nodes.
func requireTopological(t *testing.T, r *Router) {
	t.Helper()

	pos := make(map[Processor]int)
	for i, p := range r.Order() {
		pos[p] = i
	}

	for p, i := range pos {
		for _, in := range p.base().inputs {
			if in.src == nil {
				continue
			}

			owner := in.src.owner
			if _, ok := owner.(*Feedback); ok {
				continue
			}

			j, ok := pos[owner]
			if ok && j >= i {
				t.Fatalf("%p at %d reads %p at %d", p, i, owner, j)
			}
		}
	}
}

func TestRouterOrdersChainAddedInReverse(t *testing.T) {
	t.Parallel()

	r := NewRouter(testFormat)
	a, b, c := newNode(0, 1), newNode(1, 0), newNode(1, 0)

	r.Add(c)
	r.Add(b)
	r.Add(a)
	r.Connect(c, 0, b.Output(0))
	r.Connect(b, 0, a.Output(0))

	requireTopological(t, r)
	r.Process(4)

	if got := value(c); got != 1 {
		t.Fatalf("c = %v, want 1", got)
	}

	if len(r.Feedbacks()) != 0 {
		t.Fatalf("unexpected feedback nodes: %d", len(r.Feedbacks()))
	}
}

func TestRouterKeepsInsertionOrderForIndependentNodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		connect func(a, b, c, d *node, r *Router)
		want    func(a, b, c, d *node) []Processor
	}{
		{
			name:    "first reads last",
			connect: func(a, _, c, _ *node, r *Router) { r.Connect(a, 0, c.Output(0)) },
			want:    func(a, b, c, d *node) []Processor { return []Processor{b, c, a, d} },
		},
		{
			name:    "satisfied edge keeps order",
			connect: func(a, b, _, _ *node, r *Router) { r.Connect(b, 0, a.Output(0)) },
			want:    func(a, b, c, d *node) []Processor { return []Processor{a, b, c, d} },
		},
		{
			name: "chain against insertion",
			connect: func(a, b, c, d *node, r *Router) {
				r.Connect(b, 0, d.Output(0))
				r.Connect(a, 0, c.Output(0))
			},
			want: func(a, b, c, d *node) []Processor { return []Processor{c, a, d, b} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRouter(testFormat)
			a, b, c, d := newNode(1, 0), newNode(1, 0), newNode(1, 0), newNode(1, 0)

			for _, n := range []*node{a, b, c, d} {
				r.Add(n)
			}

			tt.connect(a, b, c, d, r)

			if got, want := r.Order(), tt.want(a, b, c, d); !slices.Equal(got, want) {
				t.Fatalf("order = %v, want %v", got, want)
			}
		})
	}
}

func TestRouterRandomAcyclicGraphs(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(42, 0))

	for trial := range 20 {
		r := NewRouter(testFormat)

		nodes := make([]*node, 24)
		for i := range nodes {
			nodes[i] = newNode(0, float64(i))
		}

		for _, i := range rng.Perm(len(nodes)) {
			r.Add(nodes[i])
		}

		for range 60 {
			src, dst := rng.IntN(len(nodes)), rng.IntN(len(nodes))
			if src == dst {
				continue
			}

			if src > dst {
				src, dst = dst, src
			}

			r.ConnectNext(nodes[dst], nodes[src].Output(0))
		}

		if n := len(r.Feedbacks()); n != 0 {
			t.Fatalf("trial %d: %d feedback nodes in an acyclic graph", trial, n)
		}

		requireTopological(t, r)

		if got, want := r.Order(), r.sortStable(r.Order()); !slices.Equal(got, want) {
			t.Fatalf("trial %d: order is not the insertion-priority sort", trial)
		}

		if len(r.Order()) != len(nodes) {
			t.Fatalf("trial %d: order has %d processors, want %d", trial, len(r.Order()), len(nodes))
		}
	}
}

func TestRouterRandomCyclicGraphsStayOrdered(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 3))
	r := NewRouter(testFormat)

	nodes := make([]*node, 16)
	for i := range nodes {
		nodes[i] = newNode(0, 0.001)
		r.Add(nodes[i])
	}

	for range 80 {
		src, dst := rng.IntN(len(nodes)), rng.IntN(len(nodes))
		r.ConnectNext(nodes[dst], nodes[src].Output(0))
		requireTopological(t, r)
	}

	for _, fb := range r.Feedbacks() {
		pos := make(map[Processor]int)
		for i, p := range r.Order() {
			pos[p] = i
		}

		if pos[fb.Source().Owner()] > pos[fb] {
			t.Fatal("feedback node runs before its source")
		}
	}

	for range 8 {
		r.Process(4)
	}

	for _, n := range nodes {
		testutil.RequireFinite(t, n.Output(0).Buffer)
	}
}

func TestRouterSkipsDisabledProcessors(t *testing.T) {
	t.Parallel()

	r := NewRouter(testFormat)
	a := newNode(0, 3)
	r.Add(a)

	r.Process(4)
	a.offset = 5
	a.Enable(false)
	r.Process(4)

	if a.calls != 1 {
		t.Fatalf("calls = %d, want 1", a.calls)
	}

	if got := value(a); got != 3 {
		t.Fatalf("disabled output = %v, want previous value 3", got)
	}
}

func TestRouterRemoveUnbindsReaders(t *testing.T) {
	t.Parallel()

	r := NewRouter(testFormat)
	a, b := newNode(0, 1), newNode(1, 0)
	r.Add(a)
	r.Add(b)
	r.Connect(b, 0, a.Output(0))

	r.Remove(a)

	if b.Input(0).Bound() {
		t.Fatal("input still bound to removed processor")
	}

	if r.Has(a) || a.Parent() != nil {
		t.Fatal("removed processor still owned")
	}

	r.Process(4)

	if got := value(b); got != 0 {
		t.Fatalf("b = %v, want 0", got)
	}
}

func TestRouterDisconnectSourceShrinksInputs(t *testing.T) {
	t.Parallel()

	r := NewRouter(testFormat)
	a, b, sum := newNode(0, 1), newNode(0, 2), newNode(0, 0)
	r.Add(sum)
	r.Add(a)
	r.Add(b)
	r.ConnectNext(sum, a.Output(0))
	r.ConnectNext(sum, b.Output(0))

	r.Process(4)

	if got := value(sum); got != 3 {
		t.Fatalf("sum = %v, want 3", got)
	}

	if !r.DisconnectSource(sum, a.Output(0)) {
		t.Fatal("DisconnectSource reported nothing removed")
	}

	if sum.NumInputs() != 1 {
		t.Fatalf("NumInputs = %d, want 1", sum.NumInputs())
	}

	if r.DisconnectSource(sum, a.Output(0)) {
		t.Fatal("second DisconnectSource removed something")
	}

	r.Process(4)

	if got := value(sum); got != 2 {
		t.Fatalf("sum = %v, want 2", got)
	}
}

func TestRouterNestedOrdering(t *testing.T) {
	t.Parallel()

	outer := NewRouter(testFormat)
	inner := NewRouter(testFormat)
	x, y := newNode(1, 0), newNode(0, 2)

	inner.Add(x)
	outer.Add(inner)
	outer.Add(y)
	outer.Connect(x, 0, y.Output(0))

	order := outer.Order()
	if order[0] != y || order[1] != inner {
		t.Fatalf("outer order = %v, want [y inner]", order)
	}

	outer.Process(4)

	if got := value(x); got != 2 {
		t.Fatalf("x = %v, want 2", got)
	}
}

func TestRouterPanics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func()
	}{
		{
			name: "add twice",
			fn: func() {
				r := NewRouter(testFormat)
				a := newNode(0, 0)
				r.Add(a)
				r.Add(a)
			},
		},
		{
			name: "connect foreign processor",
			fn: func() {
				r := NewRouter(testFormat)
				r.Connect(newNode(1, 0), 0, nil)
			},
		},
		{
			name: "input out of range",
			fn: func() {
				r := NewRouter(testFormat)
				a := newNode(1, 0)
				r.Add(a)
				r.Connect(a, 1, nil)
			},
		},
		{
			name: "add to clone",
			fn: func() {
				r := NewRouter(testFormat)
				r.CloneRouter().Add(newNode(0, 0))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()

			tt.fn()
		})
	}
}

func TestRouterCloneRelinksAndFollowsEdits(t *testing.T) {
	t.Parallel()

	ext := newNode(0, 100)
	extRouter := NewRouter(testFormat)
	extRouter.Add(ext)
	extRouter.Process(4)

	r := NewRouter(testFormat)
	a, b := newNode(0, 1), newNode(2, 0)
	r.Add(a)
	r.Add(b)
	r.Connect(b, 0, a.Output(0))
	r.Connect(b, 1, ext.Output(0))

	c := r.CloneRouter()
	if !c.IsClone() || r.IsClone() {
		t.Fatal("IsClone mismatch")
	}

	ca := c.Local(a).(*node)
	if ca == a {
		t.Fatal("clone shares processor instance")
	}

	ca.offset = 5
	c.Process(4)
	r.Process(4)

	if got := value(c.Local(b)); got != 105 {
		t.Fatalf("clone b = %v, want 105", got)
	}

	if got := value(b); got != 101 {
		t.Fatalf("canonical b = %v, want 101", got)
	}

	if c.LocalOutput(b.Output(0)) != c.Local(b).base().Output(0) {
		t.Fatal("LocalOutput did not map to the clone's output")
	}

	if c.LocalOutput(ext.Output(0)) != ext.Output(0) {
		t.Fatal("LocalOutput changed an external output")
	}

	d := newNode(1, 10)
	r.Add(d)
	r.Connect(d, 0, b.Output(0))
	c.Process(4)

	if got := value(c.Local(d)); got != 115 {
		t.Fatalf("clone d = %v, want 115", got)
	}

	r.Remove(d)
	c.Process(4)

	if c.Local(d) != nil {
		t.Fatal("clone kept a removed processor")
	}

	if len(c.Order()) != len(r.Order()) {
		t.Fatalf("clone order length %d, canonical %d", len(c.Order()), len(r.Order()))
	}
}

func TestRouterCloneOfNestedRouter(t *testing.T) {
	t.Parallel()

	outer := NewRouter(testFormat)
	inner := NewRouter(testFormat)
	x, y := newNode(1, 0), newNode(0, 2)

	inner.Add(x)
	outer.Add(inner)
	outer.Add(y)
	outer.Connect(x, 0, y.Output(0))

	c := outer.CloneRouter()
	c.Local(y).(*node).offset = 7
	c.Process(4)

	if got := value(c.Local(x)); got != 7 {
		t.Fatalf("nested clone x = %v, want 7", got)
	}
}

func TestRouterSampleRatePropagates(t *testing.T) {
	t.Parallel()

	r := NewRouter(testFormat)
	a := newNode(0, 0)
	r.SetSampleRate(48000)
	r.Add(a)

	if a.SampleRate() != 48000 {
		t.Fatalf("SampleRate = %v, want 48000", a.SampleRate())
	}

	r.SetOversampleAmount(2)

	if a.SampleRate() != 96000 {
		t.Fatalf("oversampled SampleRate = %v, want 96000", a.SampleRate())
	}

	if got := a.Output(0).Frames(); got != 8 {
		t.Fatalf("Frames = %d, want 8", got)
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	buf := []float64{1, math.NaN(), math.Inf(1), math.Inf(-1), 2e6, -2e6}
	if !Sanitize(buf) {
		t.Fatal("Sanitize reported no correction")
	}

	want := []float64{1, 0, 0, 0, Limit, -Limit}
	testutil.RequireSliceNearlyEqual(t, buf, want, 0)

	if Sanitize([]float64{0.5, -0.5}) {
		t.Fatal("Sanitize corrected finite values")
	}
}

func TestRouterProcessDoesNotAllocate(t *testing.T) {
	r := NewRouter(testFormat)
	a, b, c := newNode(0, 1), newNode(2, 0), newNode(1, 0)

	r.Add(a)
	r.Add(b)
	r.Add(c)
	r.Connect(b, 0, a.Output(0))
	r.Connect(b, 1, c.Output(0))
	r.Connect(c, 0, b.Output(0))
	r.Process(4)

	allocs := testing.AllocsPerRun(100, func() { r.Process(4) })
	if allocs != 0 {
		t.Fatalf("allocs per run = %v, want 0", allocs)
	}
}

func BenchmarkRouterProcess(b *testing.B) {
	f := Format{Lanes: 8, MaxBlock: 128}
	r := NewRouter(f)

	prev := newNode(0, 1)
	r.Add(prev)

	for range 31 {
		n := newNode(1, 0)
		r.Add(n)
		r.Connect(n, 0, prev.Output(0))
		prev = n
	}

	b.ReportAllocs()

	for b.Loop() {
		r.Process(128)
	}
}
