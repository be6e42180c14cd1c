// Package ringbuf provides a fixed-capacity double-ended queue backed by a
// circular array.
//
// The queue never grows on its own. Capacity is set at construction and only
// changes through Reserve or EnsureSpace, so a queue sized during
// initialization can be pushed to and popped from inside a real-time audio
// callback without allocating.
//
// The backing array holds capacity+1 slots; one slot always stays empty so
// that a full queue (end+1 == start) can be told apart from an empty one
// (end == start).
//
// # Usage
//
//	q := ringbuf.New[int](16)
//	q.PushBack(3)
//	q.PushFront(1)
//	q.Sort(func(a, b int) bool { return a < b })
//	for v := range q.All() {
//		fmt.Println(v)
//	}
package ringbuf

import "iter"

// Queue is a fixed-capacity double-ended queue.
type Queue[T comparable] struct {
	data  []T
	start int
	end   int
}

// New returns an empty queue that holds up to capacity elements.
func New[T comparable](capacity int) *Queue[T] {
	if capacity < 0 {
		panic("ringbuf: negative capacity")
	}

	return &Queue[T]{data: make([]T, capacity+1)}
}

// Capacity returns the maximum number of elements the queue can hold.
func (q *Queue[T]) Capacity() int {
	return len(q.data) - 1
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	return (q.end - q.start + len(q.data)) % len(q.data)
}

// Empty reports whether the queue holds no elements.
func (q *Queue[T]) Empty() bool {
	return q.start == q.end
}

// Full reports whether another push would exceed the capacity.
func (q *Queue[T]) Full() bool {
	return q.next(q.end) == q.start
}

// Free returns the number of elements that can still be pushed.
func (q *Queue[T]) Free() int {
	return q.Capacity() - q.Len()
}

// PushBack appends v at the tail. Panics if the queue is full.
func (q *Queue[T]) PushBack(v T) {
	if q.Full() {
		panic("ringbuf: push to full queue")
	}

	q.data[q.end] = v
	q.end = q.next(q.end)
}

// PushFront inserts v at the head. Panics if the queue is full.
func (q *Queue[T]) PushFront(v T) {
	if q.Full() {
		panic("ringbuf: push to full queue")
	}

	q.start = q.prev(q.start)
	q.data[q.start] = v
}

// PopBack removes and returns the tail element. Panics if empty.
func (q *Queue[T]) PopBack() T {
	if q.Empty() {
		panic("ringbuf: pop from empty queue")
	}

	var zero T

	q.end = q.prev(q.end)
	v := q.data[q.end]
	q.data[q.end] = zero

	return v
}

// PopFront removes and returns the head element. Panics if empty.
func (q *Queue[T]) PopFront() T {
	if q.Empty() {
		panic("ringbuf: pop from empty queue")
	}

	var zero T

	v := q.data[q.start]
	q.data[q.start] = zero
	q.start = q.next(q.start)

	return v
}

// Front returns the head element without removing it. Panics if empty.
func (q *Queue[T]) Front() T {
	if q.Empty() {
		panic("ringbuf: front of empty queue")
	}

	return q.data[q.start]
}

// Back returns the tail element without removing it. Panics if empty.
func (q *Queue[T]) Back() T {
	if q.Empty() {
		panic("ringbuf: back of empty queue")
	}

	return q.data[q.prev(q.end)]
}

// At returns the element at logical index i, where 0 is the head.
func (q *Queue[T]) At(i int) T {
	return q.data[q.slot(i)]
}

// Set replaces the element at logical index i.
func (q *Queue[T]) Set(i int, v T) {
	q.data[q.slot(i)] = v
}

// IndexOf returns the logical index of the first element equal to v, or -1.
func (q *Queue[T]) IndexOf(v T) int {
	n := q.Len()
	for i := range n {
		if q.data[(q.start+i)%len(q.data)] == v {
			return i
		}
	}

	return -1
}

// Contains reports whether v is queued.
func (q *Queue[T]) Contains(v T) bool {
	return q.IndexOf(v) >= 0
}

// Count returns how many queued elements equal v.
func (q *Queue[T]) Count(v T) int {
	count := 0

	n := q.Len()
	for i := range n {
		if q.data[(q.start+i)%len(q.data)] == v {
			count++
		}
	}

	return count
}

// Remove deletes the first element equal to v and reports whether one was found.
func (q *Queue[T]) Remove(v T) bool {
	i := q.IndexOf(v)
	if i < 0 {
		return false
	}

	q.RemoveAt(i)

	return true
}

// RemoveAll deletes every element equal to v and returns how many were removed.
func (q *Queue[T]) RemoveAll(v T) int {
	removed := 0
	for q.Remove(v) {
		removed++
	}

	return removed
}

// RemoveAt deletes the element at logical index i. Whichever side of i is
// shorter is shifted to close the gap.
func (q *Queue[T]) RemoveAt(i int) {
	n := q.Len()
	if i < 0 || i >= n {
		panic("ringbuf: index out of range")
	}

	var zero T

	if i < n-1-i {
		for j := i; j > 0; j-- {
			q.data[q.slot(j)] = q.data[q.slot(j-1)]
		}

		q.data[q.start] = zero
		q.start = q.next(q.start)

		return
	}

	for j := i; j < n-1; j++ {
		q.data[q.slot(j)] = q.data[q.slot(j+1)]
	}

	q.end = q.prev(q.end)
	q.data[q.end] = zero
}

// InsertAt places v at logical index i, shifting later elements back.
// Panics if the queue is full or i is outside [0, Len()].
func (q *Queue[T]) InsertAt(i int, v T) {
	n := q.Len()
	if i < 0 || i > n {
		panic("ringbuf: index out of range")
	}

	q.PushBack(v)

	for j := n; j > i; j-- {
		q.data[q.slot(j)] = q.data[q.slot(j-1)]
	}

	q.data[q.slot(i)] = v
}

// Clear removes all elements without releasing storage.
func (q *Queue[T]) Clear() {
	var zero T
	for !q.Empty() {
		q.data[q.start] = zero
		q.start = q.next(q.start)
	}

	q.start = 0
	q.end = 0
}

// Reserve grows the capacity to at least capacity, keeping the logical order.
// It never shrinks the queue.
func (q *Queue[T]) Reserve(capacity int) {
	if capacity <= q.Capacity() {
		return
	}

	n := q.Len()

	data := make([]T, capacity+1)
	for i := range n {
		data[i] = q.data[(q.start+i)%len(q.data)]
	}

	q.data = data
	q.start = 0
	q.end = n
}

// EnsureSpace grows the queue so that at least n more elements fit.
func (q *Queue[T]) EnsureSpace(n int) {
	if q.Free() >= n {
		return
	}

	q.Reserve(q.Len() + n)
}

// Sort orders the queue in place with an insertion sort so that no element
// for which less(a, b) is false moves ahead of b. Equal elements keep their
// relative order. The queues sorted in the audio path are short (one entry
// per voice), where insertion sort beats anything that allocates.
func (q *Queue[T]) Sort(less func(a, b T) bool) {
	n := q.Len()
	for i := 1; i < n; i++ {
		v := q.data[q.slot(i)]

		j := i - 1
		for ; j >= 0 && less(v, q.data[q.slot(j)]); j-- {
			q.data[q.slot(j+1)] = q.data[q.slot(j)]
		}

		q.data[q.slot(j+1)] = v
	}
}

// All iterates the queue from head to tail.
func (q *Queue[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		n := q.Len()
		for i := range n {
			if !yield(q.data[(q.start+i)%len(q.data)]) {
				return
			}
		}
	}
}

// Backward iterates the queue from tail to head.
func (q *Queue[T]) Backward() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := q.Len() - 1; i >= 0; i-- {
			if !yield(q.data[(q.start+i)%len(q.data)]) {
				return
			}
		}
	}
}

func (q *Queue[T]) slot(i int) int {
	if i < 0 || i >= q.Len() {
		panic("ringbuf: index out of range")
	}

	return (q.start + i) % len(q.data)
}

func (q *Queue[T]) next(i int) int {
	i++
	if i >= len(q.data) {
		return 0
	}

	return i
}

func (q *Queue[T]) prev(i int) int {
	if i == 0 {
		return len(q.data) - 1
	}

	return i - 1
}
