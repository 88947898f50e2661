package core

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const acceptEncoding = "gzip, deflate"

type countingReader struct {
	reader io.Reader
	count  int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	atomic.AddInt64(&r.count, int64(n))
	return n, err
}

func (r *countingReader) Count() int64 {
	if r == nil {
		return 0
	}
	return atomic.LoadInt64(&r.count)
}

// decodeContent wraps r with a decoder for the given Content-Encoding.
// Unknown and identity encodings pass through untouched.
func decodeContent(encoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip stream: %w", err)
		}
		return zr, nil
	case "deflate":
		return inflate(r)
	}
	return r, nil
}

// inflate accepts both zlib-wrapped deflate (RFC 1950, what the header means) and
// the raw deflate streams some servers send instead.
func inflate(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err == io.EOF {
		return br, nil
	} else if err != nil {
		return nil, err
	}
	if isZlibHeader(head[0], head[1]) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("invalid deflate stream: %w", err)
		}
		return zr, nil
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
