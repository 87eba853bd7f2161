package dictscan

import (
	"bytes"
	"fmt"
	"strconv"
)

// splitArrayElements tokenizes the contents of an array token (the
// bytes strictly between the enclosing `[` and `]`) into its top-level
// value tokens, respecting nested strings, arrays, and dictionaries.
func splitArrayElements(inner []byte) [][]byte {
	var elems [][]byte
	pos := 0
	for pos < len(inner) {
		pos = skipWhitespaceAndComments(inner, pos)
		if pos >= len(inner) {
			break
		}
		tok, end, ok := readValueToken(inner, pos)
		if !ok {
			break
		}
		elems = append(elems, tok)
		pos = end
	}
	return elems
}

// groupRefs re-groups a flat element list so that three consecutive
// atoms "num gen R" become one logical element for iteration purposes.
// Each logical element is returned as a (start, end) index pair into
// elems, end exclusive.
func groupRefs(elems [][]byte) [][2]int {
	var groups [][2]int
	i := 0
	for i < len(elems) {
		if i+2 < len(elems) && bytes.Equal(elems[i+2], []byte("R")) &&
			isIntToken(elems[i]) && isIntToken(elems[i+1]) {
			groups = append(groups, [2]int{i, i + 3})
			i += 3
			continue
		}
		groups = append(groups, [2]int{i, i + 1})
		i++
	}
	return groups
}

func isIntToken(tok []byte) bool {
	if len(tok) == 0 {
		return false
	}
	_, err := strconv.Atoi(string(tok))
	return err == nil
}

// RemoveRefFromArray deletes one occurrence of `num gen R` matching ref
// from arrayToken (which includes the enclosing brackets) and
// canonicalizes whitespace between the remaining elements to a single
// space.
func RemoveRefFromArray(arrayToken []byte, ref Ref) []byte {
	if len(arrayToken) < 2 || arrayToken[0] != '[' || arrayToken[len(arrayToken)-1] != ']' {
		return arrayToken
	}
	inner := arrayToken[1 : len(arrayToken)-1]
	elems := splitArrayElements(inner)
	groups := groupRefs(elems)

	target := ref.String()
	removed := false
	var kept [][]byte
	for _, g := range groups {
		if !removed && g[1]-g[0] == 3 {
			joined := fmt.Sprintf("%s %s %s", elems[g[0]], elems[g[0]+1], elems[g[0]+2])
			if joined == target {
				removed = true
				continue
			}
		}
		for i := g[0]; i < g[1]; i++ {
			kept = append(kept, elems[i])
		}
	}

	return rebuildArray(kept)
}

// AddRefToArray appends ref's "num gen R" token before the closing `]`.
// An empty array ("[]" or "[ ]") becomes "[num gen R]".
func AddRefToArray(arrayToken []byte, ref Ref) []byte {
	if len(arrayToken) < 2 || arrayToken[0] != '[' || arrayToken[len(arrayToken)-1] != ']' {
		return arrayToken
	}
	inner := arrayToken[1 : len(arrayToken)-1]
	elems := splitArrayElements(inner)
	elems = append(elems, []byte(fmt.Sprintf("%d", ref.Num)), []byte(fmt.Sprintf("%d", ref.Gen)), []byte("R"))
	return rebuildArray(elems)
}

func rebuildArray(elems [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range elems {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.Write(e)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
