package editor

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
)

func formDocument(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	offsets := make(map[int]int)
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R /AcroForm 6 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /Annots [4 0 R 5 0 R] >>")
	writeObj(4, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (FirstName) /V () >>")
	writeObj(5, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (LastName) /V () >>")
	writeObj(6, "<< /Type /AcroForm /Fields [4 0 R 5 0 R] >>")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 7\n0000000000 65535 f \n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&buf, "%010d %05d n \n", offsets[i], 0)
	}
	buf.WriteString("trailer\n<< /Size 7 /Root 1 0 R >>\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes()
}

func TestEditor_ReadReturnsOriginalBodyBeforeAnyEdit(t *testing.T) {
	ed, err := Open(formDocument(t), nil)
	require.NoError(t, err)

	body, ok := ed.Read(dictscan.Ref{Num: 4, Gen: 0})
	require.True(t, ok)
	require.Contains(t, string(body), "/T (FirstName)")
	require.Contains(t, string(body), "/V ()")
}

func TestEditor_EnqueueThenReadReflectsPendingPatch(t *testing.T) {
	ed, err := Open(formDocument(t), nil)
	require.NoError(t, err)

	ref := dictscan.Ref{Num: 4, Gen: 0}
	original, _ := ed.Read(ref)
	updated := []byte("<< /Type /Annot /Subtype /Widget /FT /Tx /T (FirstName) /V (Ada) >>")

	ed.Enqueue(ref, updated, original)

	body, ok := ed.Read(ref)
	require.True(t, ok)
	require.Contains(t, string(body), "/V (Ada)")

	other, ok := ed.Read(dictscan.Ref{Num: 5, Gen: 0})
	require.True(t, ok)
	require.Contains(t, string(other), "/V ()")
}

func TestEditor_WriteIncrementalPersistsAndClearsQueue(t *testing.T) {
	data := formDocument(t)
	ed, err := Open(data, nil)
	require.NoError(t, err)

	ref := dictscan.Ref{Num: 4, Gen: 0}
	updated := []byte("<< /Type /Annot /Subtype /Widget /FT /Tx /T (FirstName) /V (Ada) >>")
	ed.Enqueue(ref, updated, nil)

	out, err := ed.WriteIncremental()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, data))
	require.Equal(t, 0, ed.queue.Len())

	body, ok := ed.Read(ref)
	require.True(t, ok)
	require.Contains(t, string(body), "/V (Ada)")

	ed2, err := Open(out, nil)
	require.NoError(t, err)
	body2, ok := ed2.Read(ref)
	require.True(t, ok)
	require.Contains(t, string(body2), "/V (Ada)")
}

func TestEditor_ClearDropsFieldAndWidget(t *testing.T) {
	ed, err := Open(formDocument(t), nil)
	require.NoError(t, err)

	ref := dictscan.Ref{Num: 4, Gen: 0}
	out, err := ed.Clear([]dictscan.Ref{ref}, []dictscan.Ref{ref})
	require.NoError(t, err)

	ed2, err := Open(out, nil)
	require.NoError(t, err)

	page, ok := ed2.Read(dictscan.Ref{Num: 3, Gen: 0})
	require.True(t, ok)
	require.NotContains(t, string(page), "4 0 R")

	acroRef, ok := ed2.AcroFormRef()
	require.True(t, ok)
	acroBody, ok := ed2.Read(acroRef)
	require.True(t, ok)
	require.NotContains(t, string(acroBody), "4 0 R")
}

func TestEditor_ListObjectsPrefersPendingPatchOverResolver(t *testing.T) {
	ed, err := Open(formDocument(t), nil)
	require.NoError(t, err)

	ref := dictscan.Ref{Num: 5, Gen: 0}
	updated := []byte("<< /Type /Annot /Subtype /Widget /FT /Tx /T (LastName) /V (Lovelace) >>")
	ed.Enqueue(ref, updated, nil)

	var sawUpdated bool
	err = ed.ListObjects(func(r dictscan.Ref, body []byte) error {
		if r == ref {
			sawUpdated = bytes.Contains(body, []byte("Lovelace"))
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, sawUpdated)
}
