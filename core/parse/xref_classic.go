package parse

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/types"
)

// findLastStartXRef locates "startxref" nearest the end of the file and
// parses the integer offset that follows it. Per section 4.3, the
// canonical form is "startxref\s+(\d+)\s*%%EOF" at EOF; this
// implementation simply takes the last "startxref" in the file, which
// covers both the canonical and degraded cases.
func findLastStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx == -1 {
		return 0, types.NewPDFError(types.ErrCodeMalformedXref, "no startxref keyword found")
	}
	pos := idx + len("startxref")
	pos = skipXRefWhitespace(data, pos)
	start := pos
	for pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
		pos++
	}
	if pos == start {
		return 0, types.NewPDFError(types.ErrCodeMalformedXref, "startxref not followed by a number")
	}
	val, err := strconv.ParseInt(string(data[start:pos]), 10, 64)
	if err != nil {
		return 0, types.WrapError(types.ErrCodeMalformedXref, "invalid startxref value",
			errors.Wrap(err, "parsing startxref integer"))
	}
	return val, nil
}

func skipXRefWhitespace(data []byte, pos int) int {
	for pos < len(data) {
		switch data[pos] {
		case ' ', '\t', '\r', '\n':
			pos++
		default:
			return pos
		}
	}
	return pos
}

func readInt(data []byte, pos int) (val int64, next int, ok bool) {
	pos = skipXRefWhitespace(data, pos)
	start := pos
	neg := false
	if pos < len(data) && data[pos] == '-' {
		neg = true
		pos++
	}
	for pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
		pos++
	}
	if pos == start || (neg && pos == start+1) {
		return 0, pos, false
	}
	n, err := strconv.ParseInt(string(data[start:pos]), 10, 64)
	if err != nil {
		return 0, pos, false
	}
	return n, pos, true
}

// parseClassicXRef parses a classic "xref" table at offset: repeated
// "first count" subsection headers each followed by count fixed
// 20-byte records, then a "trailer << ... >>". It returns the /Prev
// offset to follow, or -1 if none.
func (r *Resolver) parseClassicXRef(offset int64) (int64, error) {
	data := r.data
	pos := skipXRefWhitespace(data, int(offset))

	if !bytes.HasPrefix(data[pos:], []byte("xref")) {
		return -1, types.NewPDFErrorf(types.ErrCodeMalformedXref, "'xref' keyword not found at offset %d", offset)
	}
	pos += len("xref")

	for {
		pos = skipXRefWhitespace(data, pos)
		if bytes.HasPrefix(data[pos:], []byte("trailer")) {
			pos += len("trailer")
			break
		}

		first, next, ok := readInt(data, pos)
		if !ok {
			return -1, types.NewPDFErrorf(types.ErrCodeMalformedXref, "expected subsection header at offset %d", pos)
		}
		count, next2, ok := readInt(data, next)
		if !ok {
			return -1, types.NewPDFErrorf(types.ErrCodeMalformedXref, "expected subsection count at offset %d", next)
		}
		pos = skipXRefWhitespace(data, next2)

		for i := int64(0); i < count; i++ {
			if pos+20 > len(data) {
				return -1, types.NewPDFError(types.ErrCodeMalformedXref, "truncated xref record")
			}
			record := data[pos : pos+20]
			objOffset, err1 := strconv.ParseInt(string(bytes.TrimSpace(record[0:10])), 10, 64)
			if err1 != nil {
				return -1, types.WrapError(types.ErrCodeMalformedXref, "unparsable xref record offset",
					errors.Wrap(err1, "parsing xref record offset field"))
			}
			gen, err2 := strconv.Atoi(string(bytes.TrimSpace(record[11:16])))
			if err2 != nil {
				return -1, types.WrapError(types.ErrCodeMalformedXref, "unparsable xref record generation",
					errors.Wrap(err2, "parsing xref record generation field"))
			}
			typeChar := record[17]
			num := int(first) + int(i)

			switch typeChar {
			case 'n':
				r.merge(num, XRefEntry{Kind: KindInFile, Offset: objOffset, Generation: gen})
			case 'f':
				r.merge(num, XRefEntry{Kind: KindFree, Generation: gen})
			default:
				return -1, types.NewPDFErrorf(types.ErrCodeMalformedXref, "invalid xref record type %q", typeChar)
			}
			pos += 20
		}
	}

	dict, dictEnd, ok := firstDictFrom(data, pos)
	if !ok {
		return -1, types.NewPDFError(types.ErrCodeMalformedXref, "trailer dictionary not found")
	}
	if r.trailer == nil {
		r.trailer = dict
	}

	if xrefStmTok, ok := dictscan.ValueTokenAfter("/XRefStm", dict); ok {
		if off, err := strconv.ParseInt(string(xrefStmTok), 10, 64); err == nil {
			if _, err := r.parseXRefStream(off); err != nil {
				return -1, err
			}
		}
	}

	if prevTok, ok := dictscan.ValueTokenAfter("/Prev", dict); ok {
		if off, err := strconv.ParseInt(string(prevTok), 10, 64); err == nil {
			return off, nil
		}
	}

	_ = dictEnd
	return -1, nil
}

// firstDictFrom returns the first top-level "<< ... >>" dictionary at
// or after pos.
func firstDictFrom(data []byte, pos int) (dict []byte, end int, ok bool) {
	if pos > len(data) {
		return nil, 0, false
	}
	var found []byte
	var foundEnd int
	dictscan.EachDictionary(data[pos:], func(d []byte, start, e int) bool {
		found = d
		foundEnd = pos + e
		return false
	})
	if found == nil {
		return nil, 0, false
	}
	return found, foundEnd, true
}
