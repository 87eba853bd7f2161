// Package patch implements the pending-replacement queue: the ordered
// buffer of object bodies waiting to be rendered into an incremental
// update or folded into a full rewrite.
package patch

import "github.com/benedoc-inc/pdfedit/core/dictscan"

// Patch is a pending replacement of one object's body. Original is the
// body the editor read before modifying it, kept for callers that need
// to detect whether a write actually changed anything; it plays no role
// in rendering.
type Patch struct {
	Ref      dictscan.Ref
	Body     []byte
	Original []byte
}

// Queue is an ordered buffer of pending patches. Appends are cheap;
// List collapses duplicate references, keeping the last-enqueued body
// per reference while preserving the insertion order of distinct
// references, per the last-write-wins rule.
type Queue struct {
	order []dictscan.Ref
	byRef map[dictscan.Ref]Patch
}

// NewQueue returns an empty patch queue.
func NewQueue() *Queue {
	return &Queue{byRef: make(map[dictscan.Ref]Patch)}
}

// Enqueue appends a patch. If ref was already queued, its body is
// overwritten in place but its position in List's output is unchanged.
func (q *Queue) Enqueue(p Patch) {
	if _, exists := q.byRef[p.Ref]; !exists {
		q.order = append(q.order, p.Ref)
	}
	q.byRef[p.Ref] = p
}

// Get returns the currently queued patch for ref, if any.
func (q *Queue) Get(ref dictscan.Ref) (Patch, bool) {
	p, ok := q.byRef[ref]
	return p, ok
}

// List returns the deduplicated patches in first-seen reference order,
// each carrying its most recently enqueued body.
func (q *Queue) List() []Patch {
	out := make([]Patch, 0, len(q.order))
	for _, ref := range q.order {
		out = append(out, q.byRef[ref])
	}
	return out
}

// Len reports the number of distinct references currently queued.
func (q *Queue) Len() int {
	return len(q.order)
}

// Clear empties the queue, as happens after every successful write or
// flatten.
func (q *Queue) Clear() {
	q.order = nil
	q.byRef = make(map[dictscan.Ref]Patch)
}
