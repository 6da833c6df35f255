package httpsink

import (
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Encoding is the Content-Encoding negotiated for an uploaded body.
type Encoding string

const (
	EncodingNone   Encoding = ""
	EncodingGzip   Encoding = "gzip"
	EncodingBrotli Encoding = "br"
	EncodingBzip2  Encoding = "bzip2"
	EncodingXz     Encoding = "xz"
)

// compressWriteCloser wraps the compressor so callers can Write then Close
// without caring which algorithm is underneath.
type compressWriteCloser interface {
	io.WriteCloser
}

// newCompressor wraps dst in the writer for enc, or returns dst unwrapped
// for EncodingNone. Segments and manifests are small text/binary artifacts,
// so every encoding here buffers through a single Writer rather than
// streaming in chunks.
func newCompressor(dst io.Writer, enc Encoding) (compressWriteCloser, error) {
	switch enc {
	case EncodingNone:
		return nopWriteCloser{dst}, nil
	case EncodingBrotli:
		return brotli.NewWriter(dst), nil
	case EncodingBzip2:
		w, err := bzip2.NewWriter(dst, nil)
		if err != nil {
			return nil, fmt.Errorf("httpsink: creating bzip2 writer: %w", err)
		}
		return w, nil
	case EncodingXz:
		w, err := xz.NewWriter(dst)
		if err != nil {
			return nil, fmt.Errorf("httpsink: creating xz writer: %w", err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("httpsink: unsupported encoding %q", enc)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
