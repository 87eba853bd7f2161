// Package parse implements the object resolver: it locates the
// cross-reference chain (classic tables, cross-reference streams, and
// their /Prev history), builds the effective ref-to-location index, and
// exposes object bodies, the trailer, and the document root.
package parse

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/core/objstm"
	"github.com/benedoc-inc/pdfedit/logging"
	"github.com/benedoc-inc/pdfedit/types"
)

// EntryKind tags which of the three xref entry variants an object
// occupies.
type EntryKind int

const (
	// KindFree marks an absent entry; ignored at lookup time.
	KindFree EntryKind = iota
	// KindInFile marks a byte offset where "num gen obj ... endobj"
	// appears in the source bytes.
	KindInFile
	// KindInObjStm marks a container reference plus an index within it.
	KindInObjStm
)

// XRefEntry is one resolved location for an object number.
type XRefEntry struct {
	Kind         EntryKind
	Offset       int64 // valid when Kind == KindInFile
	ContainerNum int   // valid when Kind == KindInObjStm
	Index        int   // valid when Kind == KindInObjStm
	Generation   int
}

// Resolver is the effective, already-merged view of a PDF's objects. It
// owns read-only access to the source buffer. Object-stream containers
// are decoded lazily and cached; in-file object bodies are sliced from
// the source on every lookup and are not cached. A Resolver is a
// single-owner value and is not safe for concurrent mutation.
type Resolver struct {
	data        []byte
	entries     map[int]XRefEntry
	trailer     []byte
	rootRef     dictscan.Ref
	maxObjNum   int
	startOffset int64
	objstmCache map[int][]objstm.Entry
	log         *zap.Logger
}

// Open builds a Resolver over data by walking the xref chain starting
// from the last startxref. log may be nil.
func Open(data []byte, log *zap.Logger) (*Resolver, error) {
	log = logging.NopIfNil(log)

	r := &Resolver{
		data:        data,
		entries:     make(map[int]XRefEntry),
		objstmCache: make(map[int][]objstm.Entry),
		log:         log,
	}

	start, err := findLastStartXRef(data)
	if err != nil {
		return nil, err
	}
	r.startOffset = start

	visited := make(map[int64]bool)
	offset := start
	for offset >= 0 {
		if visited[offset] {
			break
		}
		visited[offset] = true

		prev, err := r.walkXRefAt(offset)
		if err != nil {
			return nil, err
		}
		if prev < 0 {
			break
		}
		offset = prev
	}

	if len(r.entries) == 0 {
		return nil, types.NewPDFError(types.ErrCodeEmptyXref, "xref chain produced no entries")
	}
	if r.trailer == nil {
		return nil, types.NewPDFError(types.ErrCodeMalformedXref, "no trailer dictionary found")
	}

	if ref, ok := dictscan.IndirectRefAfter("/Root", r.trailer); ok {
		r.rootRef = ref
	}

	for num := range r.entries {
		if num > r.maxObjNum {
			r.maxObjNum = num
		}
	}

	log.Debug("resolver opened", zap.Int("objects", len(r.entries)), zap.Int64("startxref", start))
	return r, nil
}

// walkXRefAt parses the xref section (classic table or stream) located
// at offset, merges its entries into r (earlier-seen entries win, so
// this must only be called in latest-to-oldest order), and returns the
// /Prev offset to follow next, or -1 if there is none.
func (r *Resolver) walkXRefAt(offset int64) (int64, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return -1, types.NewPDFErrorf(types.ErrCodeMalformedXref, "xref offset %d out of range", offset)
	}

	section := r.data[offset:]
	trimmed := bytes.TrimLeft(section, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("xref")) {
		return r.parseClassicXRef(offset)
	}
	return r.parseXRefStream(offset)
}

// merge records entry for num only if no entry is present yet, matching
// the "earlier-seen wins" rule the latest-to-oldest walk relies on.
func (r *Resolver) merge(num int, entry XRefEntry) {
	if _, exists := r.entries[num]; exists {
		return
	}
	r.entries[num] = entry
}

// ObjectBody returns the raw body bytes for ref, loading and caching any
// object-stream container as needed.
func (r *Resolver) ObjectBody(ref dictscan.Ref) ([]byte, error) {
	entry, ok := r.entries[ref.Num]
	if !ok || entry.Kind == KindFree {
		return nil, types.NewPDFErrorf(types.ErrCodeMissingObject, "object %d has no xref entry", ref.Num).
			WithContext("ref", ref.String())
	}

	switch entry.Kind {
	case KindInFile:
		return r.readInFileBody(entry.Offset)
	case KindInObjStm:
		return r.readInObjStmBody(entry.ContainerNum, entry.Index, ref.Num)
	default:
		return nil, types.NewPDFErrorf(types.ErrCodeMissingObject, "object %d is free", ref.Num)
	}
}

// readInFileBody extracts the byte range between "obj" and "endobj"
// starting at offset, per the object-body definition in section 3:
// exclusive of both markers and of the whitespace directly following
// "obj".
func (r *Resolver) readInFileBody(offset int64) ([]byte, error) {
	data := r.data
	objIdx := bytes.Index(data[offset:], []byte("obj"))
	if objIdx == -1 {
		return nil, types.NewPDFErrorf(types.ErrCodeMalformedXref, "no 'obj' keyword at offset %d", offset)
	}
	bodyStart := int(offset) + objIdx + len("obj")
	if bodyStart < len(data) && isObjWhitespace(data[bodyStart]) {
		bodyStart++
	}
	endIdx := bytes.Index(data[bodyStart:], []byte("endobj"))
	if endIdx == -1 {
		return nil, types.NewPDFErrorf(types.ErrCodeMalformedXref, "no matching 'endobj' for object at offset %d", offset)
	}
	bodyEnd := bodyStart + endIdx
	return data[bodyStart:bodyEnd], nil
}

func isObjWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// readInObjStmBody loads (and memoizes) the object stream container
// numbered containerNum and returns the body at index, falling back to
// a by-object-number search if the index appears to have drifted.
func (r *Resolver) readInObjStmBody(containerNum, index, wantNum int) ([]byte, error) {
	entries, err := r.loadObjStm(containerNum)
	if err != nil {
		return nil, err
	}
	if index >= 0 && index < len(entries) && entries[index].Ref.Num == wantNum {
		return entries[index].Body, nil
	}
	for _, e := range entries {
		if e.Ref.Num == wantNum {
			return e.Body, nil
		}
	}
	return nil, types.NewPDFErrorf(types.ErrCodeMissingObject,
		"object %d not found in object stream %d (expected index %d)", wantNum, containerNum, index)
}

func (r *Resolver) loadObjStm(containerNum int) ([]objstm.Entry, error) {
	if cached, ok := r.objstmCache[containerNum]; ok {
		return cached, nil
	}

	containerEntry, ok := r.entries[containerNum]
	if !ok || containerEntry.Kind != KindInFile {
		return nil, types.NewPDFErrorf(types.ErrCodeMissingObject, "object stream %d has no in-file entry", containerNum)
	}

	body, err := r.readInFileBody(containerEntry.Offset)
	if err != nil {
		return nil, err
	}

	dictTok, rest, ok := splitLeadingDict(body)
	if !ok {
		return nil, types.NewPDFErrorf(types.ErrCodeCorruptStream, "object stream %d has no dictionary", containerNum)
	}

	nTok, _ := dictscan.ValueTokenAfter("/N", dictTok)
	firstTok, _ := dictscan.ValueTokenAfter("/First", dictTok)
	n, err1 := strconv.Atoi(string(nTok))
	if err1 != nil {
		return nil, types.WrapErrorf(types.ErrCodeCorruptStream,
			errors.Wrapf(err1, "parsing /N for object stream %d", containerNum),
			"object stream %d has an unparsable /N", containerNum)
	}
	first, err2 := strconv.Atoi(string(firstTok))
	if err2 != nil {
		return nil, types.WrapErrorf(types.ErrCodeCorruptStream,
			errors.Wrapf(err2, "parsing /First for object stream %d", containerNum),
			"object stream %d has an unparsable /First", containerNum)
	}

	raw, err := extractStreamBytes(rest, dictTok)
	if err != nil {
		return nil, err
	}

	decompressed, err := inflateWithFallback(raw)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeCorruptStream, "failed to decompress object stream",
			errors.Wrapf(err, "inflating object stream %d", containerNum))
	}

	entries, err := objstm.Decode(decompressed, n, first)
	if err != nil {
		return nil, err
	}

	r.objstmCache[containerNum] = entries
	return entries, nil
}

// Trailer returns the effective trailer dictionary's raw bytes.
func (r *Resolver) Trailer() []byte {
	return r.trailer
}

// Root returns the document's catalog reference.
func (r *Resolver) Root() dictscan.Ref {
	return r.rootRef
}

// MaxObjectNumber returns the highest object number seen in the
// effective index.
func (r *Resolver) MaxObjectNumber() int {
	return r.maxObjNum
}

// Data returns the original source bytes the Resolver was opened with.
func (r *Resolver) Data() []byte {
	return r.data
}

// StartXRefOffset returns the byte offset the originally opened document's
// last startxref pointed to, for use as /Prev when appending an
// incremental update.
func (r *Resolver) StartXRefOffset() int64 {
	return r.startOffset
}

// EachObject yields (ref, body) for every live entry in the effective
// map. Iteration stops early if fn returns an error, which is then
// returned to the caller.
func (r *Resolver) EachObject(fn func(ref dictscan.Ref, body []byte) error) error {
	for num, entry := range r.entries {
		if entry.Kind == KindFree {
			continue
		}
		ref := dictscan.Ref{Num: num, Gen: entry.Generation}
		body, err := r.ObjectBody(ref)
		if err != nil {
			return err
		}
		if err := fn(ref, body); err != nil {
			return err
		}
	}
	return nil
}

// AcroFormRef returns the catalog's /AcroForm reference, if any.
func (r *Resolver) AcroFormRef() (dictscan.Ref, bool) {
	catalogBody, err := r.ObjectBody(r.rootRef)
	if err != nil {
		return dictscan.Ref{}, false
	}
	return dictscan.IndirectRefAfter("/AcroForm", catalogBody)
}

// splitLeadingDict extracts the first top-level "<< ... >>" dictionary
// from body and returns it along with the remainder of body starting at
// the dictionary's end.
func splitLeadingDict(body []byte) (dict []byte, rest []byte, ok bool) {
	var found []byte
	var end int
	dictscan.EachDictionary(body, func(d []byte, start, e int) bool {
		found = d
		end = e
		return false
	})
	if found == nil {
		return nil, nil, false
	}
	return found, body[end:], true
}

// extractStreamBytes finds the "stream"..."endstream" body that follows
// a dictionary, given the remainder of the object body after the
// dictionary and the dictionary itself (for a future /Length-based fast
// path; currently resolved by literal "endstream" search for byte-exact
// robustness against inaccurate /Length values).
func extractStreamBytes(rest []byte, _ []byte) ([]byte, error) {
	kwIdx := bytes.Index(rest, []byte("stream"))
	if kwIdx == -1 {
		return nil, types.NewPDFError(types.ErrCodeCorruptStream, "no stream keyword found")
	}
	start := kwIdx + len("stream")
	if start < len(rest) && rest[start] == '\r' {
		start++
	}
	if start < len(rest) && rest[start] == '\n' {
		start++
	}
	endIdx := bytes.Index(rest[start:], []byte("endstream"))
	if endIdx == -1 {
		return nil, types.NewPDFError(types.ErrCodeCorruptStream, "no endstream keyword found")
	}
	return rest[start : start+endIdx], nil
}
