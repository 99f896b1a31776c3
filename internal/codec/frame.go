package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Frame layout, all integers big endian:
//
//	magic    [4]byte "UPCK"
//	version  uint8
//	algo     uint8
//	reserved uint16
//	offset   uint64
//	length   uint32
//	digest   [32]byte
//	payload  [length]byte
const (
	FrameVersion    = 1
	FrameHeaderSize = 4 + 1 + 1 + 2 + 8 + 4 + DigestSize
)

var frameMagic = [4]byte{'U', 'P', 'C', 'K'}

var ErrBadMagic = errors.New("frame: bad magic")
var ErrUnsupportedVersion = errors.New("frame: unsupported version")
var ErrFrameTooLarge = errors.New("frame: payload larger than allowed")
var ErrTruncated = errors.New("frame: truncated")
var ErrTrailingData = errors.New("frame: trailing data after payload")

type Frame struct {
	Offset  int64
	Digest  Digest
	Payload []byte
}

// NewFrame builds a frame for payload at offset, digesting it with a.
func NewFrame(a Algorithm, offset int64, payload []byte) (*Frame, error) {
	digest, err := Compute(a, payload)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Offset:  offset,
		Digest:  digest,
		Payload: payload,
	}, nil
}

func (f *Frame) Length() int64 {
	return int64(len(f.Payload))
}

func (f *Frame) End() int64 {
	return f.Offset + f.Length()
}

func EncodeFrame(w io.Writer, f *Frame) error {
	if f.Offset < 0 {
		return fmt.Errorf("frame: negative offset %d", f.Offset)
	}

	if len(f.Payload) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}

	if !f.Digest.Algorithm.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownAlgorithm, f.Digest.Algorithm)
	}

	var header [FrameHeaderSize]byte
	copy(header[0:4], frameMagic[:])
	header[4] = FrameVersion
	header[5] = byte(f.Digest.Algorithm)
	binary.BigEndian.PutUint64(header[8:16], uint64(f.Offset))
	binary.BigEndian.PutUint32(header[16:20], uint32(len(f.Payload)))
	copy(header[20:], f.Digest.Sum[:])

	_, err := w.Write(header[:])
	if err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}

	_, err = w.Write(f.Payload)
	if err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}

	return nil
}

// DecodeFrame reads exactly one frame from r. The payload length is checked
// against maxPayload before any payload byte is buffered. The frame digest is
// not verified here.
func DecodeFrame(r io.Reader, maxPayload int64) (*Frame, error) {
	var header [FrameHeaderSize]byte
	_, err := io.ReadFull(r, header[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header", ErrTruncated)
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	if [4]byte(header[0:4]) != frameMagic {
		return nil, ErrBadMagic
	}

	if header[4] != FrameVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header[4])
	}

	algorithm := Algorithm(header[5])
	if !algorithm.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, header[5])
	}

	offset := binary.BigEndian.Uint64(header[8:16])
	if offset > math.MaxInt64 {
		return nil, fmt.Errorf("frame: offset %d overflows", offset)
	}

	length := int64(binary.BigEndian.Uint32(header[16:20]))
	if length > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxPayload)
	}

	frame := &Frame{
		Offset:  int64(offset),
		Digest:  Digest{Algorithm: algorithm},
		Payload: make([]byte, length),
	}
	copy(frame.Digest.Sum[:], header[20:])

	_, err = io.ReadFull(r, frame.Payload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: payload", ErrTruncated)
		}
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}

	var probe [1]byte
	n, _ := io.ReadFull(r, probe[:])
	if n > 0 {
		return nil, ErrTrailingData
	}

	return frame, nil
}
