package core

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"payrelay/internal/types"
)

// DecompressMiddleware transparently decodes gzip and zstd request bodies.
// Handlers see the decoded bytes, so signature checks and size limits apply
// to the content rather than the transfer encoding. An unsupported encoding
// or a corrupt stream is reported as validation_invalid_content_encoding.
func DecompressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
		if encoding == "" || encoding == "identity" || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		var (
			decoded io.ReadCloser
			err     error
		)
		switch encoding {
		case "gzip", "x-gzip":
			decoded, err = gzip.NewReader(r.Body)
		case "zstd":
			var dec *zstd.Decoder
			dec, err = zstd.NewReader(r.Body, zstd.WithDecoderConcurrency(1))
			if err == nil {
				decoded = dec.IOReadCloser()
			}
		default:
			Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidEncoding,
				"unsupported content encoding",
				nil,
				map[string]any{"content_encoding": encoding},
			))
			return
		}
		if err != nil {
			Error(w, r, invalidEncoding(encoding, err))
			return
		}

		original := r.Body
		r.Body = &decodedBody{reader: decoded, original: original, encoding: encoding}
		r.Header.Del("Content-Encoding")
		r.Header.Del("Content-Length")
		r.ContentLength = -1

		next.ServeHTTP(w, r)
	})
}

// decodedBody converts stream corruption into a typed validation error so
// that handlers can distinguish it from transport failures.
type decodedBody struct {
	reader   io.ReadCloser
	original io.ReadCloser
	encoding string
}

func (b *decodedBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return n, err
	}
	return n, invalidEncoding(b.encoding, err)
}

func (b *decodedBody) Close() error {
	_ = b.reader.Close()
	return b.original.Close()
}

func invalidEncoding(encoding string, err error) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidEncoding,
		"request body could not be decoded",
		err,
		map[string]any{"content_encoding": encoding},
	)
}
