package graph

// Feedback delays a signal by one block. Routers insert one whenever a
// connection would otherwise close a cycle: the node is ordered after its
// source and captures it while processing, and publishes the captured block
// at the start of the next one.
type Feedback struct {
	Base

	delayed []float64
}

// NewFeedback returns a feedback node reading src. The node runs at the rate
// of src.
func NewFeedback(src *Output) *Feedback {
	rate := src.rate

	fb := &Feedback{}
	fb.Init(fb, 1, 1, rate)
	fb.inputs[0].src = src

	return fb
}

// Prepare implements Preparer.
func (fb *Feedback) Prepare(Format) {
	fb.delayed = make([]float64, len(fb.outputs[0].Buffer))
}

// Source returns the output being delayed.
func (fb *Feedback) Source() *Output {
	return fb.inputs[0].Source()
}

// Process captures the current block of the source.
func (fb *Feedback) Process(numSamples int) {
	src := fb.inputs[0].Source()
	n := min(fb.Frames(numSamples)*fb.Lanes(), len(src.Buffer), len(fb.delayed))

	copy(fb.delayed[:n], src.Buffer[:n])
	Sanitize(fb.delayed[:n])
}

// refresh publishes the block captured during the previous Process call.
func (fb *Feedback) refresh(numSamples int) {
	out := fb.outputs[0]
	n := min(fb.Frames(numSamples)*fb.Lanes(), len(out.Buffer), len(fb.delayed))

	copy(out.Buffer[:n], fb.delayed[:n])
}

// Clone implements Processor.
func (fb *Feedback) Clone() Processor {
	c := *fb
	c.CloneBase(&c)

	return &c
}
