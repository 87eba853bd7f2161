package write

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/benedoc-inc/pdfedit/core/dictscan"
	"github.com/benedoc-inc/pdfedit/core/parse"
	"github.com/benedoc-inc/pdfedit/core/patch"
	"github.com/benedoc-inc/pdfedit/logging"
)

// materialize builds the effective ref -> body overlay: every live object
// from the resolver, with any queued patch body substituted in.
func materialize(r *parse.Resolver, patches []patch.Patch) (map[dictscan.Ref][]byte, error) {
	overlay := make(map[dictscan.Ref][]byte)
	err := r.EachObject(func(ref dictscan.Ref, body []byte) error {
		overlay[ref] = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range dedupLastWins(patches) {
		overlay[p.Ref] = p.Body
	}
	return overlay, nil
}

// Full discards all prior update history and renders a single fresh PDF
// from the resolver's materialized view (base objects plus any queued
// patches). log may be nil.
func Full(r *parse.Resolver, patches []patch.Patch, log *zap.Logger) ([]byte, error) {
	log = logging.NopIfNil(log)

	overlay, err := materialize(r, patches)
	if err != nil {
		return nil, err
	}
	log.Debug("flattening document", zap.Int("objects", len(overlay)), zap.Int("patches", len(patches)))
	return renderFull(r, overlay)
}

// Clear rewrites page /Annots arrays and the AcroForm's /Fields array to
// drop the given widget and field references (and any widget whose
// /Parent no longer resolves to a retained field), then performs a full
// rewrite. Which references to drop is a decision made by the caller
// (the field-level collaborator); this function only performs the byte
// surgery and the resulting flatten. log may be nil.
func Clear(r *parse.Resolver, patches []patch.Patch, dropFields, dropWidgets []dictscan.Ref, log *zap.Logger) ([]byte, error) {
	log = logging.NopIfNil(log)

	overlay, err := materialize(r, patches)
	if err != nil {
		return nil, err
	}

	dropField := make(map[dictscan.Ref]bool, len(dropFields))
	for _, ref := range dropFields {
		dropField[ref] = true
	}
	dropWidget := make(map[dictscan.Ref]bool, len(dropWidgets))
	for _, ref := range dropWidgets {
		dropWidget[ref] = true
	}

	for ref, body := range overlay {
		if !bytes.Contains(body, []byte("/Type /Page")) {
			continue
		}
		overlay[ref] = rewriteAnnots(body, overlay, dropField, dropWidget)
	}

	if acroRef, ok := r.AcroFormRef(); ok {
		if body, ok := overlay[acroRef]; ok {
			overlay[acroRef] = rewriteFields(body, dropField)
		}
	}

	log.Debug("clearing fields and widgets",
		zap.Int("fields", len(dropField)), zap.Int("widgets", len(dropWidget)))

	return renderFull(r, overlay)
}

// rewriteAnnots drops dropWidget references and any widget whose /Parent
// resolves to a dropped field from a page's /Annots array.
func rewriteAnnots(pageBody []byte, overlay map[dictscan.Ref][]byte, dropField, dropWidget map[dictscan.Ref]bool) []byte {
	annotsTok, ok := dictscan.ValueTokenAfter("/Annots", pageBody)
	if !ok || len(annotsTok) < 2 || annotsTok[0] != '[' {
		return pageBody
	}

	result := annotsTok
	for ref := range dropWidget {
		result = dictscan.RemoveRefFromArray(result, ref)
	}

	for _, ref := range annotRefs(result) {
		widgetBody, ok := overlay[ref]
		if !ok || !dictscan.IsWidget(widgetBody) {
			continue
		}
		parentRef, ok := dictscan.IndirectRefAfter("/Parent", widgetBody)
		if ok && dropField[parentRef] {
			result = dictscan.RemoveRefFromArray(result, ref)
		}
	}

	return dictscan.ReplaceKeyValue(pageBody, "/Annots", result)
}

// annotRefs extracts the "num gen R" references listed in an /Annots
// array token.
func annotRefs(arrayTok []byte) []dictscan.Ref {
	var refs []dictscan.Ref
	inner := arrayTok
	if len(inner) >= 2 {
		inner = inner[1 : len(inner)-1]
	}
	fields := bytes.Fields(inner)
	for i := 0; i+2 < len(fields); i += 3 {
		if string(fields[i+2]) != "R" {
			continue
		}
		num, err1 := strconv.Atoi(string(fields[i]))
		gen, err2 := strconv.Atoi(string(fields[i+1]))
		if err1 != nil || err2 != nil {
			continue
		}
		refs = append(refs, dictscan.Ref{Num: num, Gen: gen})
	}
	return refs
}

// rewriteFields drops field references from the AcroForm's /Fields
// array.
func rewriteFields(acroBody []byte, dropField map[dictscan.Ref]bool) []byte {
	fieldsTok, ok := dictscan.ValueTokenAfter("/Fields", acroBody)
	if !ok || len(fieldsTok) < 2 || fieldsTok[0] != '[' {
		return acroBody
	}
	result := fieldsTok
	for ref := range dropField {
		result = dictscan.RemoveRefFromArray(result, ref)
	}
	return dictscan.ReplaceKeyValue(acroBody, "/Fields", result)
}

// renderFull emits the header, every overlay object in ascending object
// number order, a single-subsection classic xref table, and the trailer.
func renderFull(r *parse.Resolver, overlay map[dictscan.Ref][]byte) ([]byte, error) {
	refs := make([]dictscan.Ref, 0, len(overlay))
	for ref := range overlay {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	offsets := make(map[int]int64, len(refs))
	maxNum := 0
	for _, ref := range refs {
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
		offsets[ref.Num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		body := overlay[ref]
		buf.Write(body)
		if len(body) == 0 || body[len(body)-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.WriteString("endobj\n")
	}

	xrefOffset := int64(buf.Len())
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if offset, ok := offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", offset, 0)
		} else {
			buf.WriteString("0000000000 00000 f \n")
		}
	}

	rootRef, hasRoot := dictscan.IndirectRefAfter("/Root", r.Trailer())
	infoRef, hasInfo := dictscan.IndirectRefAfter("/Info", r.Trailer())

	buf.WriteString("trailer\n<< ")
	fmt.Fprintf(&buf, "/Size %d ", maxNum+1)
	if hasRoot {
		fmt.Fprintf(&buf, "/Root %s ", rootRef.String())
	}
	if hasInfo {
		fmt.Fprintf(&buf, "/Info %s ", infoRef.String())
	}
	buf.WriteString(">>\n")

	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), nil
}
