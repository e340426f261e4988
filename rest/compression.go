package rest

import (
	"bytes"
	"compress/flate"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// AcceptEncoding is advertised on every outbound request (spec.md §4.3
// step 6).
const AcceptEncoding = "gzip, deflate, br"

// decompressBody inflates body per the response's Content-Encoding
// header, per spec.md §4.3 step 7.
func decompressBody(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil

	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()

		return io.ReadAll(zr)

	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()

		return io.ReadAll(fr)

	case "br":
		br := brotli.NewReader(bytes.NewReader(body))

		return io.ReadAll(br)

	default:
		return body, nil
	}
}
