package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DigestTestSuite struct {
	suite.Suite
}

func TestDigestTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(DigestTestSuite))
}

func (s *DigestTestSuite) TestSha256MatchesStdlib() {
	// arrange
	data := []byte("hello upload")
	expected := sha256.Sum256(data)

	// act
	digest, err := Compute(AlgorithmSha256, data)

	// assert
	s.Require().NoError(err)
	s.Equal("sha256:"+hex.EncodeToString(expected[:]), digest.String())
}

func (s *DigestTestSuite) TestParseRoundTrip() {
	// arrange
	digest, err := Compute(AlgorithmBlake3, []byte("abc"))
	s.Require().NoError(err)

	// act
	parsed, err := ParseDigest(digest.String())

	// assert
	s.Require().NoError(err)
	s.True(parsed.Equal(digest))
}

func (s *DigestTestSuite) TestParseRejectsMalformed() {
	inputs := []string{
		"",
		"deadbeef",
		"md5:d41d8cd98f00b204e9800998ecf8427e",
		"sha256:abc",
		"sha256:zz" + string(bytes.Repeat([]byte("0"), 62)),
	}

	for _, input := range inputs {
		// act
		_, err := ParseDigest(input)

		// assert
		s.Error(err, input)
	}
}

func (s *DigestTestSuite) TestDigestReaderCountsBytes() {
	// arrange
	data := bytes.Repeat([]byte{7}, 100_000)
	expected, err := Compute(AlgorithmSha256, data)
	s.Require().NoError(err)

	// act
	digest, n, err := DigestReader(AlgorithmSha256, bytes.NewReader(data))

	// assert
	s.Require().NoError(err)
	s.Equal(int64(len(data)), n)
	s.True(digest.Equal(expected))
}

func (s *DigestTestSuite) TestMatches() {
	// arrange
	digest, err := Compute(AlgorithmSha256, []byte("payload"))
	s.Require().NoError(err)

	// act & assert
	s.True(digest.Matches([]byte("payload")))
	s.False(digest.Matches([]byte("Payload")))
}

type FrameTestSuite struct {
	suite.Suite
}

func TestFrameTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(FrameTestSuite))
}

func (s *FrameTestSuite) encode(frame *Frame) []byte {
	var buffer bytes.Buffer
	s.Require().NoError(EncodeFrame(&buffer, frame))
	return buffer.Bytes()
}

func (s *FrameTestSuite) TestEncodeDecode() {
	// arrange
	frame, err := NewFrame(AlgorithmSha256, 4096, []byte("chunk payload"))
	s.Require().NoError(err)
	encoded := s.encode(frame)

	// act
	decoded, err := DecodeFrame(bytes.NewReader(encoded), 1024)

	// assert
	s.Require().NoError(err)
	s.Equal(int64(4096), decoded.Offset)
	s.Equal(frame.Payload, decoded.Payload)
	s.True(decoded.Digest.Equal(frame.Digest))
	s.Len(encoded, FrameHeaderSize+len(frame.Payload))
}

func (s *FrameTestSuite) TestEmptyPayload() {
	// arrange
	frame, err := NewFrame(AlgorithmBlake3, 0, nil)
	s.Require().NoError(err)

	// act
	decoded, err := DecodeFrame(bytes.NewReader(s.encode(frame)), 0)

	// assert
	s.Require().NoError(err)
	s.Empty(decoded.Payload)
}

func (s *FrameTestSuite) TestBadMagic() {
	// arrange
	frame, err := NewFrame(AlgorithmSha256, 0, []byte("x"))
	s.Require().NoError(err)
	encoded := s.encode(frame)
	encoded[0] = 'X'

	// act
	_, err = DecodeFrame(bytes.NewReader(encoded), 1024)

	// assert
	s.ErrorIs(err, ErrBadMagic)
}

func (s *FrameTestSuite) TestTooLarge() {
	// arrange
	frame, err := NewFrame(AlgorithmSha256, 0, make([]byte, 2048))
	s.Require().NoError(err)

	// act
	_, err = DecodeFrame(bytes.NewReader(s.encode(frame)), 1024)

	// assert
	s.ErrorIs(err, ErrFrameTooLarge)
}

func (s *FrameTestSuite) TestTruncated() {
	// arrange
	frame, err := NewFrame(AlgorithmSha256, 0, []byte("0123456789"))
	s.Require().NoError(err)
	encoded := s.encode(frame)

	// act
	_, headerErr := DecodeFrame(bytes.NewReader(encoded[:10]), 1024)
	_, payloadErr := DecodeFrame(bytes.NewReader(encoded[:len(encoded)-1]), 1024)

	// assert
	s.ErrorIs(headerErr, ErrTruncated)
	s.ErrorIs(payloadErr, ErrTruncated)
}

func (s *FrameTestSuite) TestTrailingData() {
	// arrange
	frame, err := NewFrame(AlgorithmSha256, 0, []byte("x"))
	s.Require().NoError(err)
	encoded := append(s.encode(frame), 'y')

	// act
	_, err = DecodeFrame(bytes.NewReader(encoded), 1024)

	// assert
	s.ErrorIs(err, ErrTrailingData)
}

type EncodingTestSuite struct {
	suite.Suite
}

func TestEncodingTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(EncodingTestSuite))
}

func (s *EncodingTestSuite) TestRoundTrip() {
	data := bytes.Repeat([]byte("compressible text "), 4096)

	for _, encoding := range []ContentEncoding{EncodingIdentity, EncodingZstd, EncodingLz4} {
		// arrange
		encoded, err := EncodeBytes(data, encoding)
		s.Require().NoError(err)

		// act
		reader, closeReader, err := WrapReader(bytes.NewReader(encoded), encoding)
		s.Require().NoError(err)
		decoded, err := io.ReadAll(reader)
		closeReader()

		// assert
		s.Require().NoError(err, string(encoding))
		s.Equal(data, decoded, string(encoding))
	}
}

func (s *EncodingTestSuite) TestParse() {
	// act
	identity, identityErr := ParseContentEncoding("")
	zstdEncoding, zstdErr := ParseContentEncoding("ZSTD")
	_, gzipErr := ParseContentEncoding("gzip")

	// assert
	s.NoError(identityErr)
	s.Equal(EncodingIdentity, identity)
	s.NoError(zstdErr)
	s.Equal(EncodingZstd, zstdEncoding)
	s.ErrorIs(gzipErr, ErrUnsupportedEncoding)
}
