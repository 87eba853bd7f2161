package parse

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/types"
)

// parseXRefStream parses a cross-reference stream object located at
// offset: its "num gen obj" header, dictionary, and deflate-compressed
// (optionally PNG-predicted) body. It merges resolved entries into r
// (earlier-seen entries win) and returns the /Prev offset to follow, or
// -1 if none.
func (r *Resolver) parseXRefStream(offset int64) (int64, error) {
	data := r.data
	pos := skipXRefWhitespace(data, int(offset))

	objNum, next, ok := readInt(data, pos)
	if !ok {
		return -1, types.NewPDFErrorf(types.ErrCodeMalformedXref, "expected object number at offset %d", pos)
	}
	_, next2, ok := readInt(data, next)
	if !ok {
		return -1, types.NewPDFErrorf(types.ErrCodeMalformedXref, "expected generation at offset %d", next)
	}
	next2 = skipXRefWhitespace(data, next2)
	if !bytes.HasPrefix(data[next2:], []byte("obj")) {
		return -1, types.NewPDFErrorf(types.ErrCodeMalformedXref, "expected 'obj' keyword at offset %d", next2)
	}
	bodyPos := next2 + len("obj")

	dict, dictEnd, ok := firstDictFrom(data, bodyPos)
	if !ok {
		return -1, types.NewPDFError(types.ErrCodeMalformedXref, "xref stream dictionary not found")
	}

	raw, err := extractStreamBytes(data[dictEnd:], dict)
	if err != nil {
		return -1, err
	}

	if filterTok, ok := dictscan.ValueTokenAfter("/Filter", dict); ok {
		if string(filterTok) != "/FlateDecode" {
			return -1, types.NewPDFErrorf(types.ErrCodeUnsupportedFilter, "xref stream filter %s is not supported", filterTok)
		}
	}

	decompressed, err := inflateWithFallback(raw)
	if err != nil {
		return -1, types.WrapError(types.ErrCodeCorruptStream, "failed to decompress xref stream",
			errors.Wrap(err, "inflating xref stream"))
	}

	if parmsTok, ok := dictscan.ValueTokenAfter("/DecodeParms", dict); ok && string(parmsTok) == "<<" {
		// ValueTokenAfter yields only the "<<" marker for a nested
		// dictionary, so read the whole sub-dictionary after the key.
		parms, _, _ := firstDictFrom(dict, bytes.Index(dict, []byte("/DecodeParms")))
		predictor := intFromDict(parms, "/Predictor", 1)
		columns := intFromDict(parms, "/Columns", 1)
		if predictor >= 10 && predictor <= 15 {
			decompressed = applyPNGPredictor(decompressed, columns)
		}
	}

	wTok, ok := dictscan.ValueTokenAfter("/W", dict)
	if !ok {
		return -1, types.NewPDFError(types.ErrCodeMalformedXref, "xref stream missing /W")
	}
	widths := parseIntArray(wTok)
	if len(widths) != 3 {
		return -1, types.NewPDFError(types.ErrCodeMalformedXref, "xref stream /W must have three widths")
	}
	w0, w1, w2 := widths[0], widths[1], widths[2]

	sizeTok, _ := dictscan.ValueTokenAfter("/Size", dict)
	size, _ := strconv.Atoi(string(sizeTok))

	var subsections [][2]int
	if idxTok, ok := dictscan.ValueTokenAfter("/Index", dict); ok {
		nums := parseIntArray(idxTok)
		for i := 0; i+1 < len(nums); i += 2 {
			subsections = append(subsections, [2]int{nums[i], nums[i+1]})
		}
	}
	if subsections == nil {
		subsections = [][2]int{{0, size}}
	}

	entrySize := w0 + w1 + w2
	if entrySize == 0 {
		return -1, types.NewPDFError(types.ErrCodeMalformedXref, "xref stream entry width is zero")
	}

	idx := 0
	for _, sub := range subsections {
		for num := sub[0]; num < sub[0]+sub[1]; num++ {
			if idx*entrySize+entrySize > len(decompressed) {
				break
			}
			entry := decompressed[idx*entrySize : idx*entrySize+entrySize]
			idx++

			typeVal := readBigEndianField(entry, 0, w0, 1)
			f1 := readBigEndianField(entry, w0, w1, 0)
			f2 := readBigEndianField(entry, w0+w1, w2, 0)

			switch typeVal {
			case 0:
				r.merge(num, XRefEntry{Kind: KindFree})
			case 1:
				r.merge(num, XRefEntry{Kind: KindInFile, Offset: f1, Generation: int(f2)})
			case 2:
				r.merge(num, XRefEntry{Kind: KindInObjStm, ContainerNum: int(f1), Index: int(f2)})
			}
		}
	}

	// Register the xref-stream object's own reference if not already
	// present via some other section.
	r.merge(int(objNum), XRefEntry{Kind: KindInFile, Offset: offset})

	if r.trailer == nil {
		r.trailer = dict
	}

	if prevTok, ok := dictscan.ValueTokenAfter("/Prev", dict); ok {
		if off, err := strconv.ParseInt(string(prevTok), 10, 64); err == nil {
			return off, nil
		}
	}

	return -1, nil
}

// readBigEndianField reads width bytes starting at offset within entry
// as a big-endian unsigned integer. A width of zero yields defaultVal
// without consuming any bytes, per the boundary rule in section 8.
func readBigEndianField(entry []byte, offset, width int, defaultVal int64) int64 {
	if width == 0 {
		return defaultVal
	}
	var val int64
	for i := 0; i < width; i++ {
		val = val<<8 | int64(entry[offset+i])
	}
	return val
}

// inflateWithFallback decompresses raw as zlib-wrapped deflate, falling
// back to raw (headerless) deflate if the zlib wrapper is absent or
// corrupt.
func inflateWithFallback(raw []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
		defer zr.Close()
		if out, err := io.ReadAll(zr); err == nil {
			return out, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()
	return io.ReadAll(fr)
}

// parseIntArray parses a bracketed, whitespace-separated array of
// integers such as "[1 4 2]" into a slice.
func parseIntArray(tok []byte) []int {
	inner := tok
	if len(inner) >= 2 && inner[0] == '[' && inner[len(inner)-1] == ']' {
		inner = inner[1 : len(inner)-1]
	}
	fields := bytes.Fields(inner)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(string(f))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// intFromDict reads a single integer value for key out of a small
// dictionary-like token (e.g. a /DecodeParms sub-dictionary).
func intFromDict(dict []byte, key string, defaultVal int) int {
	tok, ok := dictscan.ValueTokenAfter(key, dict)
	if !ok {
		return defaultVal
	}
	n, err := strconv.Atoi(string(tok))
	if err != nil {
		return defaultVal
	}
	return n
}
