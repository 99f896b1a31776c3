package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ContentEncoding is the compression applied to a whole chunk request body.
// Digests are always computed over the uncompressed payload.
type ContentEncoding string

const (
	EncodingIdentity ContentEncoding = "identity"
	EncodingZstd     ContentEncoding = "zstd"
	EncodingLz4      ContentEncoding = "lz4"
)

var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// ParseContentEncoding accepts the value of a Content-Encoding header. An
// empty value is identity.
func ParseContentEncoding(value string) (ContentEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(EncodingIdentity):
		return EncodingIdentity, nil
	case string(EncodingZstd):
		return EncodingZstd, nil
	case string(EncodingLz4):
		return EncodingLz4, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, value)
	}
}

// HeaderValue is the Content-Encoding header to send, empty for identity.
func (e ContentEncoding) HeaderValue() string {
	if e == EncodingIdentity {
		return ""
	}
	return string(e)
}

// WrapReader returns a reader yielding the decoded bytes of r. The returned
// close function releases decoder resources.
func WrapReader(r io.Reader, e ContentEncoding) (io.Reader, func(), error) {
	switch e {
	case EncodingIdentity, "":
		return r, func() {}, nil

	case EncodingZstd:
		decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return decoder, decoder.Close, nil

	case EncodingLz4:
		return lz4.NewReader(r), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, e)
	}
}

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
}

// EncodeBytes compresses data as a complete stream for e.
func EncodeBytes(data []byte, e ContentEncoding) ([]byte, error) {
	switch e {
	case EncodingIdentity, "":
		return data, nil

	case EncodingZstd:
		return zstdEncoder.EncodeAll(data, nil), nil

	case EncodingLz4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		_, err := writer.Write(data)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		err = writer.Close()
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, e)
	}
}
