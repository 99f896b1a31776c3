package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/services/clock"
	"github.com/the127/upyard/internal/services/events"
	"github.com/the127/upyard/internal/session"
	"github.com/the127/upyard/internal/storage/allocator"
	"github.com/the127/upyard/internal/storageBackends"
	"github.com/the127/upyard/internal/storageBackends/inmemory"
	"github.com/the127/upyard/internal/utils/apiError"
	"github.com/the127/upyard/internal/wire"
)

type RegistryTestSuite struct {
	suite.Suite
	backend   storageBackends.StorageBackend
	allocator allocator.Allocator
	broker    *events.Broker
	setNow    clock.TimeSetterFn
	start     time.Time
	registry  *Registry
}

func TestRegistryTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(RegistryTestSuite))
}

func (s *RegistryTestSuite) SetupTest() {
	s.backend = inmemory.New()
	s.allocator = allocator.New(1000)
	s.broker = events.NewBroker()
	s.start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	clockService, setNow := clock.NewMockService(s.start)
	s.setNow = setNow

	s.registry = New(Options{
		Allocator:        s.allocator,
		Backend:          s.backend,
		Clock:            clockService,
		Publisher:        s.broker,
		DefaultChunkSize: 100,
		MinChunkSize:     10,
		MaxChunkSize:     200,
		IdleTimeout:      time.Minute,
		GracePeriod:      time.Hour,
	})
}

func (s *RegistryTestSuite) digest(data []byte) codec.Digest {
	digest, err := codec.Compute(codec.AlgorithmSha256, data)
	s.Require().NoError(err)
	return digest
}

func (s *RegistryTestSuite) create(size int64) *session.Session {
	created, err := s.registry.Create(context.Background(), CreateRequest{
		DeclaredSize:   size,
		DeclaredDigest: s.digest(make([]byte, size)),
	})
	s.Require().NoError(err)
	return created
}

func (s *RegistryTestSuite) TestCreateReservesDeclaredSize() {
	// act
	created := s.create(400)

	// assert
	s.Equal(int64(400), s.allocator.Stats().ReservedTotal)
	s.Equal(int64(100), created.ChunkSize())
	s.Equal(1, s.registry.Stats().LiveSessions)

	ids, err := s.backend.ListStaging(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{created.Id()}, ids)
}

func (s *RegistryTestSuite) TestCreateBeyondCeilingFailsWithoutStaging() {
	// arrange
	s.create(600)

	// act
	_, err := s.registry.Create(context.Background(), CreateRequest{DeclaredSize: 500})

	// assert
	s.ErrorIs(err, apiError.ErrApiInsufficientSpace)
	s.Equal(int64(600), s.allocator.Stats().ReservedTotal)
	ids, err := s.backend.ListStaging(context.Background())
	s.Require().NoError(err)
	s.Len(ids, 1)
}

type failingStaging struct {
	storageBackends.StorageBackend
}

func (failingStaging) CreateStaging(context.Context, string, int64) error {
	return errors.New("disk full")
}

func (s *RegistryTestSuite) TestStagingFailureReleasesReservation() {
	// arrange
	s.registry.options.Backend = failingStaging{StorageBackend: s.backend}

	// act
	_, err := s.registry.Create(context.Background(), CreateRequest{DeclaredSize: 300})

	// assert
	s.Error(err)
	s.Equal(int64(0), s.allocator.Stats().ReservedTotal)
	s.Equal(0, s.registry.Stats().LiveSessions)
}

func (s *RegistryTestSuite) TestNegotiateChunkSize() {
	s.Equal(int64(100), s.registry.NegotiateChunkSize(0))
	s.Equal(int64(10), s.registry.NegotiateChunkSize(1))
	s.Equal(int64(50), s.registry.NegotiateChunkSize(50))
	s.Equal(int64(200), s.registry.NegotiateChunkSize(5000))
}

func (s *RegistryTestSuite) TestUnknownSession() {
	// act
	_, err := s.registry.Get("nope")

	// assert
	s.ErrorIs(err, apiError.ErrApiSessionNotFound)
}

func (s *RegistryTestSuite) TestSessionIdsAreUnique() {
	// act
	first := s.create(1)
	second := s.create(1)

	// assert
	s.NotEqual(first.Id(), second.Id())
}

func (s *RegistryTestSuite) TestClientAbortForgetsSession() {
	// arrange
	created := s.create(100)
	subscription, cancel := s.broker.Subscribe(created.Id())
	defer cancel()

	// act
	err := s.registry.Abort(context.Background(), created.Id())

	// assert
	s.Require().NoError(err)
	s.Equal(0, s.registry.Stats().LiveSessions)
	s.Equal(int64(0), s.allocator.Stats().ReservedTotal)
	s.Equal(session.StateAborted, created.State())
	s.Equal(string(session.StateAborted), (<-subscription).Payload)

	_, err = s.registry.Get(created.Id())
	s.ErrorIs(err, apiError.ErrApiSessionNotFound)
}

func (s *RegistryTestSuite) TestExpiredSessionStaysObservable() {
	// arrange
	created := s.create(100)
	s.setNow(s.start.Add(2 * time.Minute))

	// act
	expired := s.registry.Sweep(context.Background())

	// assert
	s.Equal(1, expired)
	observed, err := s.registry.Get(created.Id())
	s.Require().NoError(err)
	s.Equal(session.StateAborted, observed.State())
	s.Equal(session.AbortReasonExpired, observed.Snapshot().AbortReason)
}

func (s *RegistryTestSuite) TestTombstonesExpireAfterGracePeriod() {
	// arrange
	s.registry = New(Options{
		Allocator:        s.allocator,
		Backend:          s.backend,
		Clock:            clock.NewClockService(),
		DefaultChunkSize: 100,
		MinChunkSize:     10,
		MaxChunkSize:     200,
		IdleTimeout:      time.Minute,
		GracePeriod:      20 * time.Millisecond,
	})
	created := s.create(10)
	s.registry.AbortAll(context.Background())

	// act & assert
	s.Eventually(func() bool {
		_, err := s.registry.Get(created.Id())
		return errors.Is(err, apiError.ErrApiSessionNotFound)
	}, time.Second, 5*time.Millisecond)
}

func (s *RegistryTestSuite) TestSweepExpiresIdleSessions() {
	// arrange
	idle := s.create(100)
	s.setNow(s.start.Add(50 * time.Second))
	fresh := s.create(100)

	// act
	s.setNow(s.start.Add(70 * time.Second))
	expired := s.registry.Sweep(context.Background())

	// assert
	s.Equal(1, expired)
	s.Equal(session.StateAborted, idle.State())
	s.Equal(session.StateCreated, fresh.State())
	s.Equal(int64(100), s.allocator.Stats().ReservedTotal)
	s.Equal(1, s.registry.Stats().LiveSessions)
}

func (s *RegistryTestSuite) TestCleanupOrphansDiscardsUnknownStaging() {
	// arrange
	ctx := context.Background()
	s.Require().NoError(s.backend.CreateStaging(ctx, "left-over", 10))
	live := s.create(10)

	// act
	discarded, err := s.registry.CleanupOrphans(ctx)

	// assert
	s.Require().NoError(err)
	s.Equal(1, discarded)
	ids, err := s.backend.ListStaging(ctx)
	s.Require().NoError(err)
	s.Equal([]string{live.Id()}, ids)
}

func (s *RegistryTestSuite) TestAbortAllReleasesEverything() {
	// arrange
	s.create(100)
	s.create(200)

	// act
	s.registry.AbortAll(context.Background())

	// assert
	s.Equal(int64(0), s.allocator.Stats().ReservedTotal)
	s.Equal(0, s.registry.Stats().LiveSessions)
}

type blockingPublisher struct {
	release chan struct{}
}

func (b *blockingPublisher) Publish(ctx context.Context, _ wire.Event) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RegistryTestSuite) TestStalledPublisherDoesNotDelayUploads() {
	// arrange
	stalled := &blockingPublisher{release: make(chan struct{})}
	queue := events.NewAsync(stalled, 16, time.Hour)
	defer func() {
		close(stalled.release)
		s.NoError(queue.Close(context.Background()))
	}()
	s.registry.options.Publisher = events.NewFanout(s.broker, queue)

	data := []byte("0123456789")
	digest := s.digest(data)
	done := make(chan error, 1)

	// act
	go func() {
		created, err := s.registry.Create(context.Background(), CreateRequest{
			DeclaredSize:   int64(len(data)),
			DeclaredDigest: digest,
		})
		if err != nil {
			done <- err
			return
		}

		_, err = created.AcceptChunk(context.Background(), session.Chunk{
			Offset:  0,
			Digest:  digest,
			Payload: data,
		})
		if err != nil {
			done <- err
			return
		}

		done <- created.BeginCompleting()
	}()

	// assert
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("upload blocked on the event publisher")
	}
}
