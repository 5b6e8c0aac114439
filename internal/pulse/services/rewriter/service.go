package rewriter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// Outcome classifies what happened to a response body.
type Outcome string

const (
	OutcomeRewritten           Outcome = "rewritten"
	OutcomeUnchanged           Outcome = "unchanged"
	OutcomeNotJSON             Outcome = "not_json"
	OutcomeTooLarge            Outcome = "too_large"
	OutcomeDecodeError         Outcome = "decode_error"
	OutcomeEncodeError         Outcome = "encode_error"
	OutcomeUnsupportedEncoding Outcome = "unsupported_encoding"
)

// Result is the body to deliver and how it was produced. Body is always safe
// to deliver: on any failure it is the original input.
type Result struct {
	Body    []byte
	Outcome Outcome
	Removed []string
}

// DefaultMaxBodyBytes caps decoded bodies when Options.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 8 << 20

var errTooLarge = errors.New("body exceeds limit")

// Options configures a Service.
type Options struct {
	MaxBodyBytes int64
	Logger       logpkg.Logger
}

// Service applies rewriters to complete response bodies, decoding and
// re-encoding gzip and zstd content encodings around the JSON edit.
type Service struct {
	maxBytes int64
	logger   logpkg.Logger
	zdec     *zstd.Decoder
	zenc     *zstd.Encoder
}

// New constructs a Service.
func New(opts Options) (*Service, error) {
	max := opts.MaxBodyBytes
	if max <= 0 {
		max = DefaultMaxBodyBytes
	}
	zdec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(max)+1))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	zenc, err := zstd.NewWriter(nil)
	if err != nil {
		zdec.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &Service{maxBytes: max, logger: logpkg.OrGlobal(opts.Logger), zdec: zdec, zenc: zenc}, nil
}

// Close releases encoder resources.
func (s *Service) Close() error {
	s.zdec.Close()
	return s.zenc.Close()
}

// Apply runs spec over body delivered with the given Content-Encoding.
func (s *Service) Apply(spec domain.RewriterSpec, encoding string, body []byte) Result {
	fields := map[string]any{"rewriter": spec.ID, "encoding": encoding, "bytes": len(body)}
	if int64(len(body)) > s.maxBytes {
		s.logger.Debug(fields, "rewrite_skip_too_large")
		return Result{Body: body, Outcome: OutcomeTooLarge}
	}

	enc := normalizeEncoding(encoding)
	plain, err := s.decode(enc, body)
	switch {
	case errors.Is(err, errTooLarge):
		s.logger.Debug(fields, "rewrite_skip_too_large")
		return Result{Body: body, Outcome: OutcomeTooLarge}
	case errors.Is(err, errUnsupported):
		s.logger.Debug(fields, "rewrite_skip_unsupported_encoding")
		return Result{Body: body, Outcome: OutcomeUnsupportedEncoding}
	case err != nil:
		fields["error"] = err
		s.logger.Debug(fields, "rewrite_decode_failed")
		return Result{Body: body, Outcome: OutcomeDecodeError}
	}

	out, removed, err := StripKeys(plain, spec.StripKeys)
	if err != nil {
		fields["error"] = err
		s.logger.Debug(fields, "rewrite_not_json")
		return Result{Body: body, Outcome: OutcomeNotJSON}
	}
	if len(removed) == 0 {
		return Result{Body: body, Outcome: OutcomeUnchanged}
	}

	encoded, err := s.encode(enc, out)
	if err != nil {
		fields["error"] = err
		s.logger.Warn(fields, "rewrite_encode_failed")
		return Result{Body: body, Outcome: OutcomeEncodeError}
	}
	fields["removed"] = removed
	s.logger.Debug(fields, "rewrite_applied")
	return Result{Body: encoded, Outcome: OutcomeRewritten, Removed: removed}
}

var errUnsupported = errors.New("unsupported content encoding")

func normalizeEncoding(enc string) string {
	enc = strings.ToLower(strings.TrimSpace(enc))
	switch enc {
	case "", "identity":
		return ""
	case "x-gzip":
		return "gzip"
	}
	return enc
}

func (s *Service) decode(enc string, body []byte) ([]byte, error) {
	switch enc {
	case "":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return s.readLimited(zr)
	case "zstd":
		out, err := s.zdec.DecodeAll(body, nil)
		if err != nil {
			if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
				return nil, errTooLarge
			}
			return nil, err
		}
		if int64(len(out)) > s.maxBytes {
			return nil, errTooLarge
		}
		return out, nil
	default:
		return nil, errUnsupported
	}
}

func (s *Service) readLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > s.maxBytes {
		return nil, errTooLarge
	}
	return out, nil
}

func (s *Service) encode(enc string, body []byte) ([]byte, error) {
	switch enc {
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		return s.zenc.EncodeAll(body, nil), nil
	default:
		return body, nil
	}
}
