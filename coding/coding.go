// Package coding implements the content codings a response body can be
// negotiated into.
package coding

import (
	"bytes"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/valyala/bytebufferpool"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// Content coding names as they appear in Accept-Encoding and
// Content-Encoding.
const (
	Identity = "identity"
	Gzip     = "gzip"
	Deflate  = "deflate"
	Brotli   = "br"
)

// Names lists the supported codings in server preference order.
var Names = []string{Brotli, Gzip, Deflate, Identity}

// Supported reports whether name is a coding Encode and Decode understand.
func Supported(name string) bool {
	switch name {
	case Identity, Gzip, Deflate, Brotli:
		return true
	}
	return false
}

func unsupported(name string) error {
	return errors.NewArgumentError(errors.ArgumentErrorUnsupportedEncoding, name)
}

var (
	gzipWriters = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return w
	}}
	zlibWriters = sync.Pool{New: func() any {
		return zlib.NewWriter(nil)
	}}
)

type resetWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// Encode compresses data with the named coding. Identity returns data as is.
func Encode(name string, data []byte) ([]byte, error) {
	var (
		w    resetWriter
		pool *sync.Pool
	)
	switch name {
	case Identity:
		return data, nil
	case Gzip:
		w, pool = gzipWriters.Get().(*gzip.Writer), &gzipWriters
	case Deflate:
		w, pool = zlibWriters.Get().(*zlib.Writer), &zlibWriters
	case Brotli:
		w = brotli.NewWriterLevel(nil, brotli.DefaultCompression)
	default:
		return nil, unsupported(name)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	w.Reset(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if pool != nil {
		pool.Put(w)
	}
	return append([]byte(nil), buf.B...), nil
}

// Decode reverses Encode.
func Decode(name string, data []byte) ([]byte, error) {
	var r io.Reader
	switch name {
	case Identity:
		return data, nil
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case Deflate:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case Brotli:
		r = brotli.NewReader(bytes.NewReader(data))
	default:
		return nil, unsupported(name)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}
