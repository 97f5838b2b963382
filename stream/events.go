package stream

// Events is a typed append-only stream partitioned per work item, so that the
// solver can emit events from several goroutines without locking.
type Events[T any] struct {
	items [][]T
}

// NewEvents creates an event stream with workItems empty buckets.
func NewEvents[T any](workItems int) *Events[T] {
	e := &Events[T]{}
	e.Reset(workItems)
	return e
}

// Reset empties the stream and resizes it to workItems.
func (e *Events[T]) Reset(workItems int) {
	if cap(e.items) < workItems {
		e.items = append(e.items[:cap(e.items)], make([][]T, workItems-cap(e.items))...)
	}
	e.items = e.items[:workItems]
	for i := range e.items {
		clear(e.items[i])
		e.items[i] = e.items[i][:0]
	}
}

// EventWriter appends events to the bucket of one work item.
type EventWriter[T any] struct {
	events   *Events[T]
	workItem int
	open     bool
}

// Writer opens the bucket of workItem for writing.
func (e *Events[T]) Writer(workItem int) *EventWriter[T] {
	return &EventWriter[T]{events: e, workItem: workItem, open: true}
}

// Write appends one event. Writing to a closed or nil writer is a no-op.
func (w *EventWriter[T]) Write(event T) {
	if w == nil || !w.open {
		return
	}
	w.events.items[w.workItem] = append(w.events.items[w.workItem], event)
}

// End closes the writer.
func (w *EventWriter[T]) End() {
	if w != nil {
		w.open = false
	}
}

// Item returns the events of one work item, in write order.
func (e *Events[T]) Item(workItem int) []T {
	return e.items[workItem]
}

// WorkItemCount returns the number of buckets.
func (e *Events[T]) WorkItemCount() int {
	return len(e.items)
}

// All returns every event, work item after work item, in write order.
func (e *Events[T]) All() []T {
	n := 0
	for _, item := range e.items {
		n += len(item)
	}
	all := make([]T, 0, n)
	for _, item := range e.items {
		all = append(all, item...)
	}
	return all
}

// Len returns the total number of events.
func (e *Events[T]) Len() int {
	n := 0
	for _, item := range e.items {
		n += len(item)
	}
	return n
}
