package dictscan

import "bytes"

// StripStreamBodies replaces every `stream\n...endstream` region with a
// same-length run of '.' bytes, preserving the `stream`/`endstream`
// markers and every other byte's offset. It must be run before whole-
// document dictionary scanning, since arbitrary binary content inside a
// stream body could otherwise be mistaken for dictionary syntax.
func StripStreamBodies(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)

	i := 0
	for i < len(out) {
		idx := bytes.Index(out[i:], []byte("stream"))
		if idx == -1 {
			break
		}
		kwStart := i + idx
		// Skip occurrences that are actually "endstream".
		if kwStart >= 3 && bytes.Equal(out[kwStart-3:kwStart], []byte("end")) {
			i = kwStart + len("stream")
			continue
		}
		bodyStart := kwStart + len("stream")
		// Exactly one EOL marker follows the keyword per ISO 32000-1.
		if bodyStart < len(out) && out[bodyStart] == '\r' {
			bodyStart++
		}
		if bodyStart < len(out) && out[bodyStart] == '\n' {
			bodyStart++
		}
		endIdx := bytes.Index(out[bodyStart:], []byte("endstream"))
		if endIdx == -1 {
			break
		}
		bodyEnd := bodyStart + endIdx
		for j := bodyStart; j < bodyEnd; j++ {
			out[j] = '.'
		}
		i = bodyEnd + len("endstream")
	}

	return out
}

// EachDictionary scans data for every top-level `<< ... >>` slice,
// tracking nesting depth by counting `<<` and `>>` while skipping over
// literal-string content (so a stray `>>` inside a `(...)` string never
// closes the enclosing dictionary). visit is called with the dictionary
// slice and its start/end offsets in data; scanning resumes immediately
// after each dictionary's closing `>>`. If visit returns false, scanning
// stops early.
func EachDictionary(data []byte, visit func(dict []byte, start, end int) bool) {
	i := 0
	n := len(data)
	for i < n {
		if i+1 < n && data[i] == '<' && data[i+1] == '<' {
			start := i
			depth := 1
			j := i + 2
			parenDepth := 0
			for j < n && depth > 0 {
				switch {
				case parenDepth > 0 && data[j] == '\\':
					j += 2
				case data[j] == '(':
					parenDepth++
					j++
				case data[j] == ')' && parenDepth > 0:
					parenDepth--
					j++
				case parenDepth == 0 && j+1 < n && data[j] == '<' && data[j+1] == '<':
					depth++
					j += 2
				case parenDepth == 0 && j+1 < n && data[j] == '>' && data[j+1] == '>':
					depth--
					j += 2
				default:
					j++
				}
			}
			end := j
			if depth == 0 {
				if !visit(data[start:end], start, end) {
					return
				}
			}
			i = end
			continue
		}
		i++
	}
}

// keyIndex locates a delimited occurrence of key (e.g. "/Root") inside
// dict: the byte before it (if any) must not itself be a name
// constituent, and the byte after it must be whitespace or one of
// `( < [ /`. Returns -1 if not found.
func keyIndex(dict []byte, key string) int {
	kb := []byte(key)
	search := 0
	for {
		rel := bytes.Index(dict[search:], kb)
		if rel == -1 {
			return -1
		}
		abs := search + rel

		if abs > 0 {
			prev := dict[abs-1]
			if !isWhitespace(prev) && !isDelimiter(prev) {
				search = abs + 1
				continue
			}
		}

		after := abs + len(kb)
		if after < len(dict) {
			c := dict[after]
			if !(isWhitespace(c) || c == '(' || c == '<' || c == '[' || c == '/') {
				search = abs + 1
				continue
			}
		}
		return abs
	}
}

// ValueTokenAfter locates key in dict and reads the one value token that
// follows it, per the grammar in readValueToken. ok is false if the key
// is absent or its value cannot be tokenized.
func ValueTokenAfter(key string, dict []byte) (token []byte, ok bool) {
	idx := keyIndex(dict, key)
	if idx == -1 {
		return nil, false
	}
	tok, _, ok := readValueToken(dict, idx+len(key))
	return tok, ok
}

// valueTokenSpan is like ValueTokenAfter but also returns the absolute
// start/end offsets of the value token within dict, for splicing.
func valueTokenSpan(key string, dict []byte) (start, end int, ok bool) {
	idx := keyIndex(dict, key)
	if idx == -1 {
		return 0, 0, false
	}
	valStart := skipWhitespaceAndComments(dict, idx+len(key))
	_, valEnd, ok := readValueToken(dict, valStart)
	if !ok {
		return 0, 0, false
	}
	return valStart, valEnd, true
}

// ReplaceKeyValue locates key's existing value token and splices
// newToken in its exact byte position. If key is absent, it falls back
// to UpsertKeyValue. The result is verified to still contain both `<<`
// and `>>`; if the splice lost either marker, the original bytes are
// returned untouched.
func ReplaceKeyValue(dict []byte, key string, newToken []byte) []byte {
	start, end, ok := valueTokenSpan(key, dict)
	if !ok {
		return UpsertKeyValue(dict, key, newToken)
	}

	out := make([]byte, 0, len(dict)-(end-start)+len(newToken))
	out = append(out, dict[:start]...)
	out = append(out, newToken...)
	out = append(out, dict[end:]...)

	if !isBalancedDictionary(out) {
		return dict
	}
	return out
}

// UpsertKeyValue inserts "key token" immediately after the opening `<<`,
// preserving the rest of the dictionary untouched.
func UpsertKeyValue(dict []byte, key string, token []byte) []byte {
	if len(dict) < 2 || dict[0] != '<' || dict[1] != '<' {
		return dict
	}
	insertion := append([]byte(" "+key+" "), token...)

	out := make([]byte, 0, len(dict)+len(insertion))
	out = append(out, dict[:2]...)
	out = append(out, insertion...)
	out = append(out, dict[2:]...)

	if !isBalancedDictionary(out) {
		return dict
	}
	return out
}

// isBalancedDictionary is the post-edit sanity check required by the
// error-handling design: the result must still contain both `<<` and
// `>>`.
func isBalancedDictionary(dict []byte) bool {
	return bytes.Contains(dict, []byte("<<")) && bytes.Contains(dict, []byte(">>"))
}

// IsWidget reports whether body's dictionary declares
// `/Subtype /Widget`.
func IsWidget(body []byte) bool {
	tok, ok := ValueTokenAfter("/Subtype", body)
	if !ok {
		return false
	}
	return bytes.Equal(tok, []byte("/Widget"))
}
