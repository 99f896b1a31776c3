package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/services/clock"
	"github.com/the127/upyard/internal/storage/allocator"
	"github.com/the127/upyard/internal/storageBackends"
	"github.com/the127/upyard/internal/storageBackends/inmemory"
	"github.com/the127/upyard/internal/utils/apiError"
)

type SessionTestSuite struct {
	suite.Suite
	backend   storageBackends.StorageBackend
	allocator allocator.Allocator
	clock     clock.Service
	setNow    clock.TimeSetterFn
	start     time.Time

	observedMu sync.Mutex
	observed   []State
}

func TestSessionTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.backend = inmemory.New()
	s.allocator = allocator.New(1 << 20)
	s.start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.clock, s.setNow = clock.NewMockService(s.start)
	s.observed = nil
}

func (s *SessionTestSuite) newSession(data []byte, chunkSize int64) *Session {
	ctx := context.Background()

	reservation, err := s.allocator.Reserve(int64(len(data)))
	s.Require().NoError(err)
	s.Require().NoError(s.backend.CreateStaging(ctx, "s1", int64(len(data))))

	digest, err := codec.Compute(codec.AlgorithmSha256, data)
	s.Require().NoError(err)

	return New(Options{
		Id:             "s1",
		DeclaredSize:   int64(len(data)),
		DeclaredDigest: digest,
		ChunkSize:      chunkSize,
		Reservation:    reservation,
		Backend:        s.backend,
		Clock:          s.clock,
		Observers: []Observer{func(_ string, state State) {
			s.observedMu.Lock()
			defer s.observedMu.Unlock()
			s.observed = append(s.observed, state)
		}},
	})
}

func (s *SessionTestSuite) chunk(data []byte, offset int64, length int64) Chunk {
	end := min(offset+length, int64(len(data)))
	payload := bytes.Clone(data[offset:end])
	digest, err := codec.Compute(codec.AlgorithmSha256, payload)
	s.Require().NoError(err)

	return Chunk{Offset: offset, Digest: digest, Payload: payload}
}

func (s *SessionTestSuite) staged() []byte {
	reader, err := s.backend.OpenStaging(context.Background(), "s1")
	s.Require().NoError(err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	s.Require().NoError(err)
	return data
}

func (s *SessionTestSuite) TestInOrderUploadCompletes() {
	// arrange
	data := bytes.Repeat([]byte("abcdefghij"), 10)
	session := s.newSession(data, 32)
	ctx := context.Background()

	// act
	for offset := int64(0); offset < int64(len(data)); offset += 32 {
		_, err := session.AcceptChunk(ctx, s.chunk(data, offset, 32))
		s.Require().NoError(err)
	}
	err := session.BeginCompleting()

	// assert
	s.Require().NoError(err)
	s.Equal(StateCompleting, session.State())
	s.Equal(data, s.staged())
	s.Equal([]State{StateReceiving, StateCompleting}, s.observed)
}

func (s *SessionTestSuite) TestAnyOrderWithDuplicatesReproducesFile() {
	// arrange
	data := make([]byte, 1000)
	rand.New(rand.NewSource(42)).Read(data)
	session := s.newSession(data, 64)
	ctx := context.Background()

	var chunks []Chunk
	for offset := int64(0); offset < int64(len(data)); offset += 64 {
		chunks = append(chunks, s.chunk(data, offset, 64))
	}
	chunks = append(chunks, chunks[3], chunks[0], chunks[len(chunks)-1])
	rand.New(rand.NewSource(7)).Shuffle(len(chunks), func(i, j int) {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	})

	// act
	duplicates := 0
	for _, chunk := range chunks {
		result, err := session.AcceptChunk(ctx, chunk)
		s.Require().NoError(err)
		if result.Duplicate {
			duplicates++
		}
	}

	// assert
	s.Equal(3, duplicates)
	s.Equal(data, s.staged())
	s.Require().NoError(session.BeginCompleting())
}

func (s *SessionTestSuite) TestBadDigestDoesNotMutateRanges() {
	// arrange
	data := []byte("0123456789")
	session := s.newSession(data, 5)
	chunk := s.chunk(data, 0, 5)
	chunk.Payload[0] = 'X'

	// act
	_, err := session.AcceptChunk(context.Background(), chunk)

	// assert
	s.ErrorIs(err, apiError.ErrApiChunkDigestMismatch)
	snapshot := session.Snapshot()
	s.Empty(snapshot.Received)
	s.Equal(StateCreated, snapshot.State)
	s.Equal(make([]byte, 10), s.staged())
}

func (s *SessionTestSuite) TestDifferentContentAtAcceptedOffsetConflicts() {
	// arrange
	data := []byte("0123456789")
	session := s.newSession(data, 5)
	ctx := context.Background()
	_, err := session.AcceptChunk(ctx, s.chunk(data, 0, 5))
	s.Require().NoError(err)

	other := []byte("abcde")
	digest, err := codec.Compute(codec.AlgorithmSha256, other)
	s.Require().NoError(err)

	// act
	_, err = session.AcceptChunk(ctx, Chunk{Offset: 0, Digest: digest, Payload: other})

	// assert
	s.ErrorIs(err, apiError.ErrApiChunkConflict)
	s.Equal([]byte("01234"), s.staged()[:5])
}

func (s *SessionTestSuite) TestOverlappingChunkWithSameBytesIsAccepted() {
	// arrange
	data := []byte("0123456789")
	session := s.newSession(data, 6)
	ctx := context.Background()
	_, err := session.AcceptChunk(ctx, s.chunk(data, 0, 4))
	s.Require().NoError(err)

	// act
	_, err = session.AcceptChunk(ctx, s.chunk(data, 2, 6))

	// assert
	s.Require().NoError(err)
	s.Equal([]Range{{Start: 0, End: 8}}, session.Snapshot().Received)
}

func (s *SessionTestSuite) TestOverlappingChunkWithDifferentBytesConflicts() {
	// arrange
	data := []byte("0123456789")
	session := s.newSession(data, 6)
	ctx := context.Background()
	_, err := session.AcceptChunk(ctx, s.chunk(data, 0, 4))
	s.Require().NoError(err)

	other := []byte("2X4567")
	digest, err := codec.Compute(codec.AlgorithmSha256, other)
	s.Require().NoError(err)

	// act
	_, err = session.AcceptChunk(ctx, Chunk{Offset: 2, Digest: digest, Payload: other})

	// assert
	s.ErrorIs(err, apiError.ErrApiChunkConflict)
	s.Equal([]Range{{Start: 0, End: 4}}, session.Snapshot().Received)
}

func (s *SessionTestSuite) TestOutOfBounds() {
	// arrange
	data := []byte("0123456789")
	session := s.newSession(data, 8)
	payload := []byte("xyz")
	digest, err := codec.Compute(codec.AlgorithmSha256, payload)
	s.Require().NoError(err)

	// act
	_, err = session.AcceptChunk(context.Background(), Chunk{Offset: 8, Digest: digest, Payload: payload})

	// assert
	s.ErrorIs(err, apiError.ErrApiOutOfBounds)
}

func (s *SessionTestSuite) TestChunkLargerThanNegotiated() {
	// arrange
	data := []byte("0123456789")
	session := s.newSession(data, 4)

	// act
	_, err := session.AcceptChunk(context.Background(), s.chunk(data, 0, 5))

	// assert
	s.ErrorIs(err, apiError.ErrApiChunkTooLarge)
}

func (s *SessionTestSuite) TestFinalizeWithMissingRanges() {
	// arrange
	data := []byte("0123456789")
	session := s.newSession(data, 5)
	_, err := session.AcceptChunk(context.Background(), s.chunk(data, 5, 5))
	s.Require().NoError(err)

	// act
	err = session.BeginCompleting()

	// assert
	s.ErrorIs(err, apiError.ErrApiRangesIncomplete)
	s.Equal(StateReceiving, session.State())
	s.Equal([]Range{{Start: 0, End: 5}}, session.Snapshot().Missing)
}

func (s *SessionTestSuite) TestEmptyFileStartsReceiving() {
	// arrange
	session := s.newSession(nil, 4)

	// act
	err := session.BeginCompleting()

	// assert
	s.NoError(err)
}

func (s *SessionTestSuite) TestSecondBeginCompletingFails() {
	// arrange
	session := s.newSession(nil, 4)
	s.Require().NoError(session.BeginCompleting())

	// act
	err := session.BeginCompleting()

	// assert
	s.ErrorIs(err, apiError.ErrApiInvalidState)
}

func (s *SessionTestSuite) TestCommitReleasesReservation() {
	// arrange
	data := []byte("0123")
	session := s.newSession(data, 4)
	_, err := session.AcceptChunk(context.Background(), s.chunk(data, 0, 4))
	s.Require().NoError(err)
	s.Require().NoError(session.BeginCompleting())

	// act
	err = session.Commit(CommitResult{Path: "/final/s1", CommittedAt: s.start})

	// assert
	s.Require().NoError(err)
	s.Equal(int64(0), s.allocator.Stats().ReservedTotal)
	s.ErrorIs(session.BeginCompleting(), ErrCommitted)
	s.Equal("/final/s1", session.Snapshot().Result.Path)
}

func (s *SessionTestSuite) TestAbortDiscardsAndReleasesOnce() {
	// arrange
	data := []byte("0123")
	session := s.newSession(data, 4)
	ctx := context.Background()

	// act
	first := session.Abort(ctx, AbortReasonClient)
	second := session.Abort(ctx, AbortReasonClient)

	// assert
	s.NoError(first)
	s.NoError(second)
	s.Equal(int64(0), s.allocator.Stats().ReservedTotal)
	_, err := s.backend.OpenStaging(ctx, "s1")
	s.ErrorIs(err, storageBackends.ErrStagingNotFound)
	s.Equal([]State{StateAborted}, s.observed)
}

func (s *SessionTestSuite) TestChunkAfterAbortIsTerminal() {
	// arrange
	data := []byte("0123")
	session := s.newSession(data, 4)
	s.Require().NoError(session.Abort(context.Background(), AbortReasonClient))

	// act
	_, err := session.AcceptChunk(context.Background(), s.chunk(data, 0, 4))

	// assert
	s.ErrorIs(err, apiError.ErrApiSessionTerminal)
	s.ErrorIs(err, apiError.ErrApiNotFound)
}

func (s *SessionTestSuite) TestClientCannotAbortCompleting() {
	// arrange
	session := s.newSession(nil, 4)
	s.Require().NoError(session.BeginCompleting())

	// act
	err := session.Abort(context.Background(), AbortReasonClient)

	// assert
	s.ErrorIs(err, apiError.ErrApiInvalidState)
	s.Equal(StateCompleting, session.State())
}

func (s *SessionTestSuite) TestIntegrityAbortIsReported() {
	// arrange
	session := s.newSession(nil, 4)
	s.Require().NoError(session.BeginCompleting())
	s.Require().NoError(session.Abort(context.Background(), AbortReasonIntegrity))

	// act
	err := session.BeginCompleting()

	// assert
	s.ErrorIs(err, apiError.ErrApiIntegrity)
}

func (s *SessionTestSuite) TestExpireIfIdle() {
	// arrange
	data := []byte("0123")
	session := s.newSession(data, 4)
	ctx := context.Background()

	// act
	early := session.ExpireIfIdle(ctx, time.Minute)
	s.setNow(s.start.Add(2 * time.Minute))
	late := session.ExpireIfIdle(ctx, time.Minute)

	// assert
	s.False(early)
	s.True(late)
	snapshot := session.Snapshot()
	s.Equal(StateAborted, snapshot.State)
	s.Equal(AbortReasonExpired, snapshot.AbortReason)
	s.Equal(int64(0), s.allocator.Stats().ReservedTotal)
}

func (s *SessionTestSuite) TestActivityPostponesExpiry() {
	// arrange
	data := []byte("01234567")
	session := s.newSession(data, 4)
	ctx := context.Background()
	s.setNow(s.start.Add(50 * time.Second))
	_, err := session.AcceptChunk(ctx, s.chunk(data, 0, 4))
	s.Require().NoError(err)

	// act
	s.setNow(s.start.Add(90 * time.Second))
	expired := session.ExpireIfIdle(ctx, time.Minute)

	// assert
	s.False(expired)
}

func (s *SessionTestSuite) TestCompletingNeverExpires() {
	// arrange
	session := s.newSession(nil, 4)
	s.Require().NoError(session.BeginCompleting())
	s.setNow(s.start.Add(time.Hour))

	// act
	expired := session.ExpireIfIdle(context.Background(), time.Minute)

	// assert
	s.False(expired)
}

func (s *SessionTestSuite) TestDuplicateWithOtherAlgorithmIsIdempotent() {
	// arrange
	data := []byte("01234567")
	session := s.newSession(data, 4)
	ctx := context.Background()
	_, err := session.AcceptChunk(ctx, s.chunk(data, 0, 4))
	s.Require().NoError(err)

	payload := bytes.Clone(data[:4])
	digest, err := codec.Compute(codec.AlgorithmBlake3, payload)
	s.Require().NoError(err)

	// act
	result, err := session.AcceptChunk(ctx, Chunk{Offset: 0, Digest: digest, Payload: payload})

	// assert
	s.Require().NoError(err)
	s.True(result.Duplicate)
}

func (s *SessionTestSuite) TestChunkAfterIntegrityAbortIsTerminal() {
	// arrange
	data := []byte("0123")
	session := s.newSession(data, 4)
	_, err := session.AcceptChunk(context.Background(), s.chunk(data, 0, 4))
	s.Require().NoError(err)
	s.Require().NoError(session.BeginCompleting())
	s.Require().NoError(session.Abort(context.Background(), AbortReasonIntegrity))

	// act
	_, err = session.AcceptChunk(context.Background(), s.chunk(data, 0, 4))

	// assert
	s.ErrorIs(err, apiError.ErrApiSessionTerminal)
	s.NotErrorIs(err, apiError.ErrApiIntegrity)
}

type failingWrites struct {
	storageBackends.StorageBackend
}

func (failingWrites) WriteChunk(context.Context, string, int64, []byte) error {
	return errors.New("input/output error")
}

func (s *SessionTestSuite) TestStorageFailureAbortsAndReleases() {
	// arrange
	s.backend = failingWrites{StorageBackend: s.backend}
	data := []byte("01234567")
	session := s.newSession(data, 4)

	// act
	_, err := session.AcceptChunk(context.Background(), s.chunk(data, 0, 4))

	// assert
	s.Error(err)
	snapshot := session.Snapshot()
	s.Equal(StateAborted, snapshot.State)
	s.Equal(AbortReasonStorage, snapshot.AbortReason)
	s.Empty(snapshot.Received)
	s.Equal(int64(0), s.allocator.Stats().ReservedTotal)
	s.Equal([]State{StateAborted}, s.observed)
}

type blockingWrites struct {
	storageBackends.StorageBackend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingWrites) WriteChunk(ctx context.Context, id string, offset int64, data []byte) error {
	close(b.entered)
	<-b.release
	return b.StorageBackend.WriteChunk(ctx, id, offset, data)
}

func (s *SessionTestSuite) TestSessionWritingChunkNeverExpires() {
	// arrange
	backend := &blockingWrites{
		StorageBackend: s.backend,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	s.backend = backend
	data := []byte("0123")
	session := s.newSession(data, 4)

	accepted := make(chan error, 1)
	go func() {
		_, err := session.AcceptChunk(context.Background(), s.chunk(data, 0, 4))
		accepted <- err
	}()
	<-backend.entered
	s.setNow(s.start.Add(time.Hour))

	// act
	expired := session.ExpireIfIdle(context.Background(), time.Minute)
	close(backend.release)

	// assert
	s.False(expired)
	s.Require().NoError(<-accepted)
	s.Equal(StateReceiving, session.State())
	s.Equal(int64(4), s.allocator.Stats().ReservedTotal)
}

func (s *SessionTestSuite) TestStateOrdering() {
	s.True(StateCreated.Before(StateReceiving))
	s.True(StateReceiving.Before(StateCompleting))
	s.True(StateCompleting.Before(StateAborted))
	s.False(StateCommitted.Before(StateAborted))
	s.False(StateCompleting.Before(StateReceiving))
	s.False(State("").Before(StateCreated))
	s.False(StateCreated.Before(State("")))
}
