package store

import "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

// TraceEvent records every object created/updated and every object deleted
// at a single instant. Events are ordered by Ts; events recorded through the
// store at the same instant are coalesced by traceEventList at append time.
// A store rebuilt by FromSnapshot keeps the imported events as they are, so
// an export's start marker and a recorded event at start_ts both appear.
type TraceEvent struct {
	Ts      int64                          `json:"ts"`
	Applied []*unstructured.Unstructured   `json:"appliedObjs,omitempty"`
	Deleted []*unstructured.Unstructured   `json:"deletedObjs,omitempty"`
}

// Len returns the number of object mutations this event carries.
func (e *TraceEvent) Len() int {
	return len(e.Applied) + len(e.Deleted)
}

// IsEmpty reports whether this event carries no mutations at all, which
// happens once an export.Filter strips every object out of it, and for the
// start/end markers an export adds.
func (e *TraceEvent) IsEmpty() bool {
	return e.Len() == 0
}

// traceEventList is an append-only, time-ordered sequence of TraceEvents.
// It is not safe for concurrent use; callers (Store) serialize access.
type traceEventList struct {
	events []TraceEvent
}

func newTraceEventList() *traceEventList {
	return &traceEventList{}
}

func (l *traceEventList) isEmpty() bool {
	return len(l.events) == 0
}

func (l *traceEventList) len() int {
	return len(l.events)
}

// back returns a pointer to the last event, or nil if the list is empty.
func (l *traceEventList) back() *TraceEvent {
	if l.isEmpty() {
		return nil
	}
	return &l.events[len(l.events)-1]
}

// appendApplied records obj as applied at ts, coalescing into the tail
// event if it already exists at the same timestamp.
func (l *traceEventList) appendApplied(ts int64, obj *unstructured.Unstructured) {
	l.append(ts, func(e *TraceEvent) {
		e.Applied = append(e.Applied, obj)
	})
}

// appendDeleted records obj as deleted at ts, coalescing into the tail
// event if it already exists at the same timestamp.
func (l *traceEventList) appendDeleted(ts int64, obj *unstructured.Unstructured) {
	l.append(ts, func(e *TraceEvent) {
		e.Deleted = append(e.Deleted, obj)
	})
}

func (l *traceEventList) append(ts int64, mutate func(*TraceEvent)) {
	if tail := l.back(); tail != nil && tail.Ts == ts {
		mutate(tail)
		return
	}
	l.events = append(l.events, TraceEvent{Ts: ts})
	mutate(&l.events[len(l.events)-1])
}

// startTs returns the timestamp of the first recorded event, or 0 if empty.
func (l *traceEventList) startTs() int64 {
	if l.isEmpty() {
		return 0
	}
	return l.events[0].Ts
}

// endTs returns the timestamp of the last recorded event, or 0 if empty.
func (l *traceEventList) endTs() int64 {
	if l.isEmpty() {
		return 0
	}
	return l.events[len(l.events)-1].Ts
}
