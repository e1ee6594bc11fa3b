package cache

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects the compression codec used for L2-serialized
// values over the configured size threshold. L1 values are never
// compressed (spec §4.4).
type Algorithm string

const (
	AlgorithmLZ4  Algorithm = "lz4"
	AlgorithmGzip Algorithm = "gzip"
)

func compress(algo Algorithm, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch algo {
	case AlgorithmGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decompress(algo Algorithm, data []byte) ([]byte, error) {
	var r io.Reader
	switch algo {
	case AlgorithmGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	default:
		r = lz4.NewReader(bytes.NewReader(data))
	}
	return io.ReadAll(r)
}
