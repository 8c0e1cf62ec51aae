package export

import (
	"bytes"

	"github.com/klauspost/compress/gzip"
)

// gzipBytes compresses a payload for the push transport.
func gzipBytes(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
