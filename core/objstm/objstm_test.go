package objstm

import (
	"compress/zlib"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
)

func TestDecode_ThreeObjects(t *testing.T) {
	// "1 0 2 20 3 45 " padded to first=20, followed by three dictionary
	// bodies of lengths 20, 25, and the remainder.
	header := "1 0 2 20 3 45 "
	header += string(make([]byte, 20-len(header)))
	bodies := "<< /A 1 >>" + "          " // pad first body to 20 bytes total
	body2 := "<< /B (hi) >>" + "            "
	body3 := "<< /C [1 2 3] >>"

	raw := []byte(header + bodies + body2 + body3)

	entries, err := Decode(raw, 3, 20)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, dictscan.Ref{Num: 1, Gen: 0}, entries[0].Ref)
	assert.Equal(t, dictscan.Ref{Num: 2, Gen: 0}, entries[1].Ref)
	assert.Equal(t, dictscan.Ref{Num: 3, Gen: 0}, entries[2].Ref)
	assert.Equal(t, "<< /A 1 >>", string(entries[0].Body))
	assert.Equal(t, "<< /B (hi) >>", string(entries[1].Body))
	assert.Equal(t, "<< /C [1 2 3] >>", string(entries[2].Body))
}

func TestDecode_NZeroYieldsEmpty(t *testing.T) {
	entries, err := Decode([]byte{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	entries := []Entry{
		{Ref: dictscan.Ref{Num: 7, Gen: 0}, Body: []byte("<< /T (FirstName) /V (Ada) >>")},
		{Ref: dictscan.Ref{Num: 8, Gen: 0}, Body: []byte("<< /T (LastName) /V () >>")},
	}

	result, err := Encode(entries)
	require.NoError(t, err)
	require.NotEmpty(t, result.DictFragment)
	require.Len(t, result.Packed, 2)
	assert.Empty(t, result.Rejected)

	zr, err := zlib.NewReader(newByteReader(result.Stream))
	require.NoError(t, err)
	decompressed, err := io.ReadAll(zr)
	require.NoError(t, err)

	decoded, err := Decode(decompressed, len(result.Packed), firstFromFragment(t, result.DictFragment))
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, entries[0].Body, decoded[0].Body)
	assert.Equal(t, entries[1].Body, decoded[1].Body)
}

func TestEncode_RejectsStreamBodies(t *testing.T) {
	entries := []Entry{
		{Ref: dictscan.Ref{Num: 1, Gen: 0}, Body: []byte("<< /A 1 >>")},
		{Ref: dictscan.Ref{Num: 2, Gen: 0}, Body: []byte("<< /Length 3 >>\nstream\nabc\nendstream")},
	}
	result, err := Encode(entries)
	require.NoError(t, err)
	require.Len(t, result.Packed, 1)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, 2, result.Rejected[0].Ref.Num)
}

func TestEncode_AllRejectedProducesNoContainer(t *testing.T) {
	entries := []Entry{
		{Ref: dictscan.Ref{Num: 1, Gen: 0}, Body: []byte("<< /Type /ObjStm >>")},
	}
	result, err := Encode(entries)
	require.NoError(t, err)
	assert.Empty(t, result.DictFragment)
	assert.Nil(t, result.Stream)
	assert.Len(t, result.Rejected, 1)
}

// --- test helpers ---

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func firstFromFragment(t *testing.T, fragment string) int {
	t.Helper()
	var n, first, length int
	_, err := fmt.Sscanf(fragment, "/Type /ObjStm /N %d /First %d /Filter /FlateDecode /Length %d", &n, &first, &length)
	require.NoError(t, err)
	return first
}
