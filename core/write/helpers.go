package write

import (
	"bytes"
	"compress/zlib"

	"github.com/pkg/errors"
)

// deflate zlib-compresses raw, used for both the packed cross-reference
// stream and (via objstm.Encode) object-stream bodies.
func deflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrap(err, "deflating xref stream")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing xref stream deflate writer")
	}
	return buf.Bytes(), nil
}
