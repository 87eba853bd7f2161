// Package objstm decodes and encodes PDF object-stream (/ObjStm)
// containers: the packed sequence of complete objects that a
// cross-reference stream may point into via a type-2 entry.
package objstm

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/types"
)

// Entry is one packed object: its reference (always generation 0 inside
// an object stream) and its raw body bytes.
type Entry struct {
	Ref  dictscan.Ref
	Body []byte
}

// Decode unpacks raw (the already-decompressed container bytes) into its
// ordered list of entries. n is /N (object count) and first is /First
// (byte offset of the first object body).
func Decode(raw []byte, n int, first int) ([]Entry, error) {
	if n == 0 {
		return nil, nil
	}
	if first < 0 || first > len(raw) {
		return nil, types.NewPDFErrorf(types.ErrCodeCorruptStream,
			"object stream /First %d exceeds container length %d", first, len(raw))
	}

	header := raw[:first]
	fields := splitHeaderFields(header)
	if len(fields) < 2*n {
		return nil, types.NewPDFErrorf(types.ErrCodeCorruptStream,
			"object stream header has %d fields, need %d for N=%d", len(fields), 2*n, n)
	}

	type pair struct {
		num    int
		offset int
	}
	pairs := make([]pair, n)
	for i := 0; i < n; i++ {
		num, err1 := strconv.Atoi(fields[2*i])
		off, err2 := strconv.Atoi(fields[2*i+1])
		if err1 != nil || err2 != nil {
			return nil, types.NewPDFErrorf(types.ErrCodeCorruptStream,
				"object stream header entry %d is not numeric", i)
		}
		pairs[i] = pair{num: num, offset: off}
	}

	entries := make([]Entry, n)
	for i, p := range pairs {
		start := first + p.offset
		var end int
		if i+1 < n {
			end = first + pairs[i+1].offset
		} else {
			end = len(raw)
		}
		if start < 0 || end > len(raw) || start > end {
			return nil, types.NewPDFErrorf(types.ErrCodeCorruptStream,
				"object stream entry %d has out-of-range body [%d:%d) in container of length %d",
				i, start, end, len(raw))
		}
		body := bytes.TrimRight(raw[start:end], " \t\r\n")
		entries[i] = Entry{Ref: dictscan.Ref{Num: p.num, Gen: 0}, Body: body}
	}

	return entries, nil
}

// splitHeaderFields splits the whitespace-separated header into its
// individual integer tokens without relying on regexp.
func splitHeaderFields(header []byte) []string {
	var fields []string
	i := 0
	for i < len(header) {
		for i < len(header) && isHeaderSpace(header[i]) {
			i++
		}
		start := i
		for i < len(header) && !isHeaderSpace(header[i]) {
			i++
		}
		if i > start {
			fields = append(fields, string(header[start:i]))
		}
	}
	return fields
}

func isHeaderSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// Result is the output of Encode: the dictionary fragment (without the
// wrapping `<< >>`) and the deflated stream body, plus which entries
// ended up packed vs. rejected.
type Result struct {
	DictFragment string
	Stream       []byte
	Packed       []Entry
	Rejected     []Entry
}

// Encode packs entries into a single ObjStm container. Entries that are
// themselves containers (/Type /ObjStm or /Type /XRef) or whose body
// contains the literal bytes "stream" (which also catches "endstream")
// are excluded and returned in Rejected, per the fallback rule in
// section 4.4 step 3 and the design note in section 9: such objects must
// be written as direct objects instead.
//
// If every entry is rejected, Result.DictFragment is empty and
// Result.Stream is nil — the caller should fall back to the raw-object
// write path entirely.
func Encode(entries []Entry) (Result, error) {
	var packed, rejected []Entry
	for _, e := range entries {
		if isUnpackable(e.Body) {
			rejected = append(rejected, e)
			continue
		}
		packed = append(packed, e)
	}

	if len(packed) == 0 {
		return Result{Rejected: rejected}, nil
	}

	var header bytes.Buffer
	var body bytes.Buffer
	offsets := make([]int, len(packed))
	for i, e := range packed {
		offsets[i] = body.Len()
		body.Write(e.Body)
	}
	for i, e := range packed {
		fmt.Fprintf(&header, "%d %d ", e.Ref.Num, offsets[i])
	}
	first := header.Len()

	full := make([]byte, 0, first+body.Len())
	full = append(full, header.Bytes()...)
	full = append(full, body.Bytes()...)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(full); err != nil {
		return Result{}, errors.Wrap(err, "deflating object stream")
	}
	if err := zw.Close(); err != nil {
		return Result{}, errors.Wrap(err, "closing object stream deflate writer")
	}

	dictFragment := fmt.Sprintf(
		"/Type /ObjStm /N %d /First %d /Filter /FlateDecode /Length %d",
		len(packed), first, compressed.Len(),
	)

	return Result{
		DictFragment: dictFragment,
		Stream:       compressed.Bytes(),
		Packed:       packed,
		Rejected:     rejected,
	}, nil
}

func isUnpackable(body []byte) bool {
	if bytes.Contains(body, []byte("stream")) {
		return true
	}
	if typ, ok := dictscan.ValueTokenAfter("/Type", body); ok {
		switch string(typ) {
		case "/ObjStm", "/XRef":
			return true
		}
	}
	return false
}
