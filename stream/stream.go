// Package stream holds the append-only buffers that connect the pipeline stages of
// a step: the Jacobian byte stream written by the builder and replayed by the
// solver, and the typed event streams emitted on the last solver iteration.
//
// A stream is partitioned into work items. Each work item owns an independent
// buffer, so two goroutines may write or read two different work items at the same
// time without locking. A single work item must never be shared between goroutines.
package stream

import (
	"encoding/binary"
	"fmt"
)

// SizePrefix is the byte size of the length prefix leading every record. The
// prefix holds the full record size, itself included.
const SizePrefix = 4

// Stream is a set of per work item byte buffers holding length-prefixed records.
type Stream struct {
	items [][]byte
}

// New creates a stream with the given number of empty work items.
func New(workItems int) *Stream {
	s := &Stream{}
	s.Reset(workItems)
	return s
}

// Reset empties the stream and resizes it to workItems, keeping allocated memory.
func (s *Stream) Reset(workItems int) {
	if cap(s.items) < workItems {
		s.items = append(s.items[:cap(s.items)], make([][]byte, workItems-cap(s.items))...)
	}
	s.items = s.items[:workItems]
	for i := range s.items {
		s.items[i] = s.items[i][:0]
	}
}

// WorkItemCount returns the number of work items.
func (s *Stream) WorkItemCount() int {
	return len(s.items)
}

// Len returns the number of bytes stored for a work item.
func (s *Stream) Len(workItem int) int {
	return len(s.items[workItem])
}

// Writer appends records to one work item at a time, between Begin and End.
type Writer struct {
	stream   *Stream
	workItem int
	open     bool
}

// NewWriter returns a writer on s.
func NewWriter(s *Stream) *Writer {
	return &Writer{stream: s, workItem: -1}
}

// Begin opens workItem for writing.
func (w *Writer) Begin(workItem int) {
	if w.open {
		panic(fmt.Sprintf("stream: Begin(%d) while work item %d is open", workItem, w.workItem))
	}
	w.workItem = workItem
	w.open = true
}

// Allocate appends a record of size bytes (prefix included) and returns it with
// the prefix already written. The slice is only valid until the next Allocate on
// the same work item.
func (w *Writer) Allocate(size int) []byte {
	if !w.open {
		panic("stream: Allocate outside Begin/End")
	}
	if size < SizePrefix {
		panic(fmt.Sprintf("stream: record size %d smaller than its prefix", size))
	}

	buf := w.stream.items[w.workItem]
	start := len(buf)
	buf = append(buf, make([]byte, size)...)
	w.stream.items[w.workItem] = buf

	record := buf[start : start+size : start+size]
	binary.LittleEndian.PutUint32(record, uint32(size))
	return record
}

// End closes the open work item.
func (w *Writer) End() {
	if !w.open {
		panic("stream: End without Begin")
	}
	w.open = false
}

// Reader walks the records of one work item in the order they were written.
// Returned records alias the stream memory: writes through them are visible to
// later readers of the same work item.
type Reader struct {
	buf    []byte
	offset int
}

// NewReader returns a reader positioned on the first record of workItem.
func NewReader(s *Stream, workItem int) *Reader {
	return &Reader{buf: s.items[workItem]}
}

// Next returns the next record, or false once the work item is exhausted.
func (r *Reader) Next() ([]byte, bool) {
	if r.offset >= len(r.buf) {
		return nil, false
	}
	size := int(binary.LittleEndian.Uint32(r.buf[r.offset:]))
	record := r.buf[r.offset : r.offset+size : r.offset+size]
	r.offset += size
	return record, true
}

// Count returns the number of records stored in a work item.
func (s *Stream) Count(workItem int) int {
	n := 0
	r := NewReader(s, workItem)
	for _, ok := r.Next(); ok; _, ok = r.Next() {
		n++
	}
	return n
}
