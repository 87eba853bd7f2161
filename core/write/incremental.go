// Package write renders new PDF bytes from a resolver's view plus a set
// of pending patches: either a small incremental update appended to the
// original bytes, or a complete flattened rewrite.
package write

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/core/objstm"
	"github.com/benedoc-inc/pdfedit/core/parse"
	"github.com/benedoc-inc/pdfedit/core/patch"
	"github.com/benedoc-inc/pdfedit/logging"
)

// xrefRow is one resolved entry destined for the packed cross-reference
// stream: type 0 (free), 1 (in file at offset f1), or 2 (in object
// stream f1 at index f2).
type xrefRow struct {
	num int
	typ byte
	f1  int64
	f2  int64
}

// Incremental appends one update section to r's original bytes
// reflecting patches, without modifying any byte already present in the
// source. The returned slice always begins with the exact original
// bytes (after ensuring a trailing newline), satisfying the
// prefix-preservation invariant. log may be nil.
//
// When at least one patch packs into an object stream, the update is
// emitted as an object stream plus a cross-reference stream (the
// general case). When objstm.Encode rejects every entry — no packed
// objects at all, e.g. every patch body itself contains a stream — the
// update falls back to direct objects plus a classic xref table and
// trailer, since a cross-reference stream has nothing left to justify
// its own existence.
func Incremental(r *parse.Resolver, patches []patch.Patch, log *zap.Logger) ([]byte, error) {
	log = logging.NopIfNil(log)

	base := ensureTrailingNewline(r.Data())
	if len(patches) == 0 {
		return base, nil
	}

	deduped := dedupLastWins(patches)

	entries := make([]objstm.Entry, len(deduped))
	for i, p := range deduped {
		entries[i] = objstm.Entry{Ref: p.Ref, Body: p.Body}
	}
	result, err := objstm.Encode(entries)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(base)

	if len(result.Packed) == 0 {
		log.Debug("objstm encoding produced no packed entries, falling back to classic xref table",
			zap.Int("patches", len(deduped)))
		return incrementalClassic(r, &buf, result.Rejected)
	}

	nextNum := r.MaxObjectNumber()
	for _, p := range deduped {
		if p.Ref.Num > nextNum {
			nextNum = p.Ref.Num
		}
	}
	nextNum++

	var rows []xrefRow

	objstmNum := nextNum
	nextNum++

	objstmOffset := int64(buf.Len())
	fmt.Fprintf(&buf, "%d 0 obj\n<< %s >>\nstream\n", objstmNum, result.DictFragment)
	buf.Write(result.Stream)
	buf.WriteString("\nendstream\nendobj\n")

	rows = append(rows, xrefRow{num: objstmNum, typ: 1, f1: objstmOffset})
	for idx, e := range result.Packed {
		rows = append(rows, xrefRow{num: e.Ref.Num, typ: 2, f1: int64(objstmNum), f2: int64(idx)})
	}

	for _, e := range result.Rejected {
		offset := int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", e.Ref.Num)
		buf.Write(e.Body)
		buf.WriteString("\nendobj\n")
		rows = append(rows, xrefRow{num: e.Ref.Num, typ: 1, f1: offset})
	}

	xrefNum := nextNum
	xrefOffset := int64(buf.Len())
	rows = append(rows, xrefRow{num: xrefNum, typ: 1, f1: xrefOffset})

	sort.Slice(rows, func(i, j int) bool { return rows[i].num < rows[j].num })

	packed := packXRefRows(rows)
	index := indexSubsections(rows)

	rootRef, hasRoot := dictscan.IndirectRefAfter("/Root", r.Trailer())

	size := xrefNum + 1

	compressed, err := deflate(packed)
	if err != nil {
		return nil, err
	}

	dict := fmt.Sprintf(
		"<< /Type /XRef /Size %d /W [1 4 2] /Index [%s] /Filter /FlateDecode /Length %d",
		size, index, len(compressed),
	)
	if hasRoot {
		dict += fmt.Sprintf(" /Root %s", rootRef.String())
	}
	if r.StartXRefOffset() >= 0 {
		dict += fmt.Sprintf(" /Prev %d", r.StartXRefOffset())
	}
	dict += " >>"

	fmt.Fprintf(&buf, "%d 0 obj\n%s\nstream\n", xrefNum, dict)
	buf.Write(compressed)
	buf.WriteString("\nendstream\nendobj\n")

	buf.WriteString("trailer\n<< ")
	fmt.Fprintf(&buf, "/Size %d ", size)
	if hasRoot {
		fmt.Fprintf(&buf, "/Root %s ", rootRef.String())
	}
	if r.StartXRefOffset() >= 0 {
		fmt.Fprintf(&buf, "/Prev %d ", r.StartXRefOffset())
	}
	fmt.Fprintf(&buf, "/XRefStm %d >>\n", xrefOffset)

	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	log.Debug("wrote incremental update via xref stream",
		zap.Int("packed", len(result.Packed)), zap.Int("rejected", len(result.Rejected)))

	return buf.Bytes(), nil
}

// incrementalClassic appends rejected (every patch objstm.Encode could
// not pack) to buf as direct objects, followed by a classic xref table
// covering only the object numbers this update touched and a classic
// trailer chaining to r's prior xref section via /Prev.
func incrementalClassic(r *parse.Resolver, buf *bytes.Buffer, rejected []objstm.Entry) ([]byte, error) {
	var rows []xrefRow
	for _, e := range rejected {
		offset := int64(buf.Len())
		fmt.Fprintf(buf, "%d 0 obj\n", e.Ref.Num)
		buf.Write(e.Body)
		buf.WriteString("\nendobj\n")
		rows = append(rows, xrefRow{num: e.Ref.Num, typ: 1, f1: offset})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].num < rows[j].num })

	xrefOffset := int64(buf.Len())
	buf.WriteString("xref\n")
	i := 0
	for i < len(rows) {
		start := rows[i].num
		j := i
		for j+1 < len(rows) && rows[j+1].num == rows[j].num+1 {
			j++
		}
		fmt.Fprintf(buf, "%d %d\n", start, j-i+1)
		for k := i; k <= j; k++ {
			fmt.Fprintf(buf, "%010d %05d n \n", rows[k].f1, 0)
		}
		i = j + 1
	}

	rootRef, hasRoot := dictscan.IndirectRefAfter("/Root", r.Trailer())

	size := r.MaxObjectNumber() + 1
	for _, row := range rows {
		if row.num+1 > size {
			size = row.num + 1
		}
	}

	buf.WriteString("trailer\n<< ")
	fmt.Fprintf(buf, "/Size %d ", size)
	if hasRoot {
		fmt.Fprintf(buf, "/Root %s ", rootRef.String())
	}
	if r.StartXRefOffset() >= 0 {
		fmt.Fprintf(buf, "/Prev %d ", r.StartXRefOffset())
	}
	buf.WriteString(">>\n")

	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), nil
}

// indexSubsections groups rows (sorted, distinct) into
// maximal contiguous runs and renders the /Index array's "start count"
// pairs.
func indexSubsections(rows []xrefRow) string {
	var parts []string
	i := 0
	for i < len(rows) {
		start := rows[i].num
		j := i
		for j+1 < len(rows) && rows[j+1].num == rows[j].num+1 {
			j++
		}
		parts = append(parts, fmt.Sprintf("%d %d", start, j-i+1))
		i = j + 1
	}
	return strings.Join(parts, " ")
}

// packXRefRows packs rows (already sorted by object number) into the
// fixed-width big-endian byte layout W = [1, 4, 2].
func packXRefRows(rows []xrefRow) []byte {
	const w0, w1, w2 = 1, 4, 2
	out := make([]byte, 0, len(rows)*(w0+w1+w2))
	for _, row := range rows {
		out = append(out, row.typ)
		out = appendBigEndian(out, row.f1, w1)
		out = appendBigEndian(out, row.f2, w2)
	}
	return out
}

func appendBigEndian(out []byte, value int64, width int) []byte {
	start := len(out)
	out = append(out, make([]byte, width)...)
	for i := width - 1; i >= 0; i-- {
		out[start+i] = byte(value & 0xff)
		value >>= 8
	}
	return out
}

// dedupLastWins collapses patches sharing a reference, keeping the last
// occurrence's body and the first occurrence's position in the output
// order.
func dedupLastWins(patches []patch.Patch) []patch.Patch {
	order := make([]dictscan.Ref, 0, len(patches))
	byRef := make(map[dictscan.Ref]patch.Patch, len(patches))
	for _, p := range patches {
		if _, exists := byRef[p.Ref]; !exists {
			order = append(order, p.Ref)
		}
		byRef[p.Ref] = p
	}
	out := make([]patch.Patch, 0, len(order))
	for _, ref := range order {
		out = append(out, byRef[ref])
	}
	return out
}

// ensureTrailingNewline returns data with exactly one '\n' appended if it
// does not already end with one, per step 2 of the incremental-update
// algorithm.
func ensureTrailingNewline(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\n' {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = '\n'
	return out
}
