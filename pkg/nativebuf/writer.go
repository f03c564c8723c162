package nativebuf

import "fmt"

// Writer fills a view sequentially through a monotonic cursor.
type Writer[T any] struct {
	view View[T]
	pos  int
}

// NewWriter returns a writer positioned at the start of v.
func NewWriter[T any](v View[T]) *Writer[T] {
	return &Writer[T]{view: v}
}

// Write stores x at the cursor and advances it.
func (w *Writer[T]) Write(x T) {
	if w.pos >= w.view.count {
		panic(fmt.Sprintf("nativebuf: write past end (capacity %d)", w.view.count))
	}
	w.view.Set(w.pos, x)
	w.pos++
}

// WriteAll writes every element of xs.
func (w *Writer[T]) WriteAll(xs []T) {
	if len(xs) > w.Remaining() {
		panic(fmt.Sprintf("nativebuf: bulk write of %d exceeds remaining %d", len(xs), w.Remaining()))
	}
	for _, x := range xs {
		w.view.Set(w.pos, x)
		w.pos++
	}
}

// Position returns the number of elements written since the last rewind.
func (w *Writer[T]) Position() int {
	return w.pos
}

// Remaining returns how many elements can still be written.
func (w *Writer[T]) Remaining() int {
	return w.view.count - w.pos
}

// EOF reports whether the view is full.
func (w *Writer[T]) EOF() bool {
	return w.pos >= w.view.count
}

// Rewind moves the cursor back to the start. Contents are kept.
func (w *Writer[T]) Rewind() {
	w.pos = 0
}

// View returns the underlying view.
func (w *Writer[T]) View() View[T] {
	return w.view
}

// Written returns a view of the elements written so far.
func (w *Writer[T]) Written() View[T] {
	return w.view.Slice(0, w.pos)
}
