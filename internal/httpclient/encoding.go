package httpclient

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on provider requests that do not choose their own.
const AcceptEncoding = "gzip, br"

// decodingTransport asks for compressed responses and decodes gzip and brotli
// bodies before the SDK sees them. Setting Accept-Encoding ourselves turns off
// net/http's built-in gzip handling, so both are decoded here.
type decodingTransport struct {
	next http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") != "" || req.Method == http.MethodHead {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Accept-Encoding", AcceptEncoding)

	resp, err := t.next.RoundTrip(clone)
	if err != nil || resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 {
		return resp, err
	}

	body, decoded, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if decoded {
		resp.Body = body
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		resp.Uncompressed = true
	}
	return resp, nil
}

// decodeBody wraps body according to the first listed content coding.
// Unknown or identity codings return body unchanged.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, bool, error) {
	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))

	switch encoding {
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, false, err
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, true, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []io.Closer{body}}, true, nil
	default:
		return body, false, nil
	}
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
