// Package editor exposes the facade the field layer and the CLI drive:
// open a document, read and enqueue object bodies, and render either an
// incremental update or a full rewrite.
package editor

import (
	"go.uber.org/zap"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/core/parse"
	"github.com/benedoc-inc/pdfedit/core/patch"
	"github.com/benedoc-inc/pdfedit/core/write"
	"github.com/benedoc-inc/pdfedit/logging"
	"github.com/benedoc-inc/pdfedit/types"
)

// Editor is a single document instance: a read-only resolver over the
// bytes it was opened with, plus a pending patch queue. It is not safe
// for concurrent use.
type Editor struct {
	resolver *parse.Resolver
	queue    *patch.Queue
	log      *zap.Logger
}

// Open builds an Editor over data with an empty patch queue. log may be
// nil.
func Open(data []byte, log *zap.Logger) (*Editor, error) {
	log = logging.NopIfNil(log)

	r, err := parse.Open(data, log)
	if err != nil {
		return nil, err
	}

	return &Editor{
		resolver: r,
		queue:    patch.NewQueue(),
		log:      log,
	}, nil
}

// ListObjects yields every live (ref, body) pair, consulting queued
// patches ahead of the underlying resolver.
func (e *Editor) ListObjects(fn func(ref dictscan.Ref, body []byte) error) error {
	seen := make(map[dictscan.Ref]bool)
	for _, p := range e.queue.List() {
		seen[p.Ref] = true
		if err := fn(p.Ref, p.Body); err != nil {
			return err
		}
	}
	return e.resolver.EachObject(func(ref dictscan.Ref, body []byte) error {
		if seen[ref] {
			return nil
		}
		return fn(ref, body)
	})
}

// Read returns ref's current body, consulting the patch queue first and
// falling back to the resolver. ok is false if ref has no entry in
// either.
func (e *Editor) Read(ref dictscan.Ref) (body []byte, ok bool) {
	if p, found := e.queue.Get(ref); found {
		return p.Body, true
	}
	body, err := e.resolver.ObjectBody(ref)
	if err != nil {
		return nil, false
	}
	return body, true
}

// Enqueue records newBody as ref's replacement for the next write or
// flatten. original is the body the caller read before modifying it
// (used by callers to detect no-op edits); it has no bearing on render.
func (e *Editor) Enqueue(ref dictscan.Ref, newBody, original []byte) {
	e.queue.Enqueue(patch.Patch{Ref: ref, Body: newBody, Original: original})
}

// WriteIncremental renders the patch queue as an incremental update
// appended to the original bytes, reopens the resolver over the new
// bytes, and clears the queue on success.
func (e *Editor) WriteIncremental() ([]byte, error) {
	out, err := write.Incremental(e.resolver, e.queue.List(), e.log)
	if err != nil {
		return nil, err
	}
	return e.swapResolver(out)
}

// WriteFull discards update history and renders a fresh document from
// the materialized view (base objects plus queued patches), then
// reopens the resolver over the new bytes and clears the queue on
// success.
func (e *Editor) WriteFull() ([]byte, error) {
	out, err := write.Full(e.resolver, e.queue.List(), e.log)
	if err != nil {
		return nil, err
	}
	return e.swapResolver(out)
}

// Clear drops the given field and widget annotation references from
// their referring arrays and performs a full rewrite.
func (e *Editor) Clear(dropFields, dropWidgets []dictscan.Ref) ([]byte, error) {
	out, err := write.Clear(e.resolver, e.queue.List(), dropFields, dropWidgets, e.log)
	if err != nil {
		return nil, err
	}
	return e.swapResolver(out)
}

func (e *Editor) swapResolver(out []byte) ([]byte, error) {
	r, err := parse.Open(out, e.log)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidDictionary, "rendered document failed to reopen", err)
	}
	e.resolver = r
	e.queue.Clear()
	return out, nil
}

// RootRef returns the document's catalog reference.
func (e *Editor) RootRef() dictscan.Ref {
	return e.resolver.Root()
}

// TrailerDict returns the effective trailer dictionary's raw bytes.
func (e *Editor) TrailerDict() []byte {
	return e.resolver.Trailer()
}

// AcroFormRef returns the catalog's /AcroForm reference, if any.
func (e *Editor) AcroFormRef() (dictscan.Ref, bool) {
	return e.resolver.AcroFormRef()
}
