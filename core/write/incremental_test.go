package write

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/core/parse"
	"github.com/benedoc-inc/pdfedit/core/patch"
)

func minimalPDF(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	offsets := make(map[int]int)
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /Annots [4 0 R] >>")
	writeObj(4, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (FirstName) /V () /Parent 5 0 R >>")
	writeObj(5, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (LastName) /V () >>")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 6\n")
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&buf, "%010d %05d n \n", offsets[i], 0)
	}
	buf.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes()
}

func TestIncremental_NoPatchesReturnsOriginalAsPrefix(t *testing.T) {
	data := minimalPDF(t)
	r, err := parse.Open(data, nil)
	require.NoError(t, err)

	out, err := Incremental(r, nil, nil)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, data))
}

func TestIncremental_PrefixPreservedAndReopensWithPatch(t *testing.T) {
	data := minimalPDF(t)
	r, err := parse.Open(data, nil)
	require.NoError(t, err)

	ref := dictscan.Ref{Num: 4, Gen: 0}
	newBody := []byte("<< /Type /Annot /Subtype /Widget /FT /Tx /T (FirstName) /V (Ada) /Parent 5 0 R >>")

	out, err := Incremental(r, []patch.Patch{{Ref: ref, Body: newBody}}, nil)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, data))

	r2, err := parse.Open(out, nil)
	require.NoError(t, err)

	body, err := r2.ObjectBody(ref)
	require.NoError(t, err)
	require.Contains(t, string(body), "/V (Ada)")

	unchanged, err := r2.ObjectBody(dictscan.Ref{Num: 5, Gen: 0})
	require.NoError(t, err)
	require.Contains(t, string(unchanged), "/T (LastName)")

	root := r2.Root()
	require.Equal(t, dictscan.Ref{Num: 1, Gen: 0}, root)
}

func TestIncremental_LastWriteWinsAcrossDuplicateEnqueues(t *testing.T) {
	data := minimalPDF(t)
	r, err := parse.Open(data, nil)
	require.NoError(t, err)

	ref := dictscan.Ref{Num: 5, Gen: 0}
	patches := []patch.Patch{
		{Ref: ref, Body: []byte("<< /Type /Annot /Subtype /Widget /FT /Tx /T (LastName) /V (X) >>")},
		{Ref: ref, Body: []byte("<< /Type /Annot /Subtype /Widget /FT /Tx /T (LastName) /V (Lovelace) >>")},
	}

	out, err := Incremental(r, patches, nil)
	require.NoError(t, err)

	r2, err := parse.Open(out, nil)
	require.NoError(t, err)

	body, err := r2.ObjectBody(ref)
	require.NoError(t, err)
	require.Contains(t, string(body), "/V (Lovelace)")
	require.NotContains(t, string(body), "/V (X)")
}

func TestIncremental_RejectsEmbeddedStreamFromObjStmPacking(t *testing.T) {
	data := minimalPDF(t)
	r, err := parse.Open(data, nil)
	require.NoError(t, err)

	ref := dictscan.Ref{Num: 6, Gen: 0}
	streamBody := []byte("<< /Length 4 >>\nstream\nabcd\nendstream")

	out, err := Incremental(r, []patch.Patch{{Ref: ref, Body: streamBody}}, nil)
	require.NoError(t, err)

	r2, err := parse.Open(out, nil)
	require.NoError(t, err)

	body, err := r2.ObjectBody(ref)
	require.NoError(t, err)
	require.Contains(t, string(body), "abcd")
}

func TestIncremental_AllRejectedFallsBackToClassicXRefTable(t *testing.T) {
	data := minimalPDF(t)
	r, err := parse.Open(data, nil)
	require.NoError(t, err)

	ref := dictscan.Ref{Num: 6, Gen: 0}
	streamBody := []byte("<< /Length 4 >>\nstream\nabcd\nendstream")

	out, err := Incremental(r, []patch.Patch{{Ref: ref, Body: streamBody}}, nil)
	require.NoError(t, err)

	appended := out[len(data):]
	require.NotContains(t, string(appended), "/Type /XRef")
	require.Contains(t, string(appended), "\nxref\n")
	require.Contains(t, string(appended), "\ntrailer\n")
}
