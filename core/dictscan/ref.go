// Package dictscan implements byte-level scanning and surgical editing of
// PDF dictionary and token syntax, without ever building a full object
// tree. Every operation works on byte slices and returns byte slices; the
// centralization here exists so that no other package in this module
// performs ad-hoc regex splicing of PDF syntax.
package dictscan

import (
	"fmt"
	"strconv"
)

// Ref is an indirect reference: an object number paired with a
// generation. It uniquely identifies a PDF object within one document.
type Ref struct {
	Num int
	Gen int
}

// Detached is the reserved placeholder for fields discovered via
// whole-file scanning without a resolvable offset.
var Detached = Ref{Num: -1, Gen: 0}

// IsDetached reports whether r is the detached placeholder.
func (r Ref) IsDetached() bool {
	return r == Detached
}

// String renders the reference the way it appears inside an indirect
// reference token, e.g. "12 0 R".
func (r Ref) String() string {
	return fmt.Sprintf("%d %d R", r.Num, r.Gen)
}

// RefToken renders the reference as a bare byte token suitable for
// splicing into an array or dictionary value position.
func RefToken(r Ref) []byte {
	return []byte(r.String())
}

// IndirectRefAfter locates key in dict and reads the three-token
// "num gen R" indirect reference that follows it. Unlike ValueTokenAfter,
// which reads exactly one grammar token and so stops at "num" alone, this
// walks three whitespace-separated atoms and checks the third is
// literally "R". Used for keys like /Root, /Parent, and /AcroForm whose
// values are always indirect references rather than inline values.
func IndirectRefAfter(key string, dict []byte) (Ref, bool) {
	idx := keyIndex(dict, key)
	if idx == -1 {
		return Ref{}, false
	}
	pos := skipWhitespaceAndComments(dict, idx+len(key))

	numTok, next, ok := readAtom(dict, pos)
	if !ok {
		return Ref{}, false
	}
	pos = skipWhitespaceAndComments(dict, next)

	genTok, next2, ok := readAtom(dict, pos)
	if !ok {
		return Ref{}, false
	}
	pos = skipWhitespaceAndComments(dict, next2)

	rTok, _, ok := readAtom(dict, pos)
	if !ok || string(rTok) != "R" {
		return Ref{}, false
	}

	num, err1 := strconv.Atoi(string(numTok))
	gen, err2 := strconv.Atoi(string(genTok))
	if err1 != nil || err2 != nil {
		return Ref{}, false
	}
	return Ref{Num: num, Gen: gen}, true
}
