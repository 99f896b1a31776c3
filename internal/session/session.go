// Package session implements the state machine of a single chunked upload.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/services/clock"
	"github.com/the127/upyard/internal/storage/allocator"
	"github.com/the127/upyard/internal/storageBackends"
	"github.com/the127/upyard/internal/utils/apiError"
)

type State string

const (
	StateCreated    State = "CREATED"
	StateReceiving  State = "RECEIVING"
	StateCompleting State = "COMPLETING"
	StateCommitted  State = "COMMITTED"
	StateAborted    State = "ABORTED"
)

func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateAborted
}

func (s State) rank() int {
	switch s {
	case StateCreated:
		return 0
	case StateReceiving:
		return 1
	case StateCompleting:
		return 2
	case StateCommitted, StateAborted:
		return 3
	default:
		return -1
	}
}

// Before reports whether s comes strictly earlier in the lifecycle than
// other. Unknown states are never before anything.
func (s State) Before(other State) bool {
	rank := s.rank()
	return rank >= 0 && rank < other.rank()
}

type AbortReason string

const (
	AbortReasonClient    AbortReason = "CLIENT"
	AbortReasonExpired   AbortReason = "EXPIRED"
	AbortReasonIntegrity AbortReason = "INTEGRITY"
	AbortReasonStorage   AbortReason = "STORAGE"
	AbortReasonShutdown  AbortReason = "SHUTDOWN"
)

// ErrCommitted is returned by BeginCompleting when the session has already
// been committed.
var ErrCommitted = errors.New("session already committed")

type Metadata struct {
	Name     string
	Project  string
	Pipeline string
	Uploader string
	Items    []string
}

type CommitResult struct {
	Path        string
	CommittedAt time.Time
}

// Observer is called outside the session lock after every state change.
type Observer func(id string, state State)

type Options struct {
	Id             string
	DeclaredSize   int64
	DeclaredDigest codec.Digest
	ChunkSize      int64
	Metadata       Metadata
	Reservation    *allocator.Reservation
	Backend        storageBackends.StorageBackend
	Clock          clock.Service
	Observers      []Observer
}

type chunkRecord struct {
	length int64
	digest codec.Digest
}

type Session struct {
	mu sync.Mutex

	id             string
	declaredSize   int64
	declaredDigest codec.Digest
	chunkSize      int64
	metadata       Metadata
	createdAt      time.Time

	state        State
	abortReason  AbortReason
	ranges       RangeSet
	chunks       map[int64]chunkRecord
	lastActivity time.Time
	result       *CommitResult

	reservation *allocator.Reservation
	backend     storageBackends.StorageBackend
	clock       clock.Service
	observers   []Observer
}

// New expects the staging file to exist already.
func New(options Options) *Session {
	now := options.Clock.Now()

	state := StateCreated
	if options.DeclaredSize == 0 {
		state = StateReceiving
	}

	return &Session{
		id:             options.Id,
		declaredSize:   options.DeclaredSize,
		declaredDigest: options.DeclaredDigest,
		chunkSize:      options.ChunkSize,
		metadata:       options.Metadata,
		createdAt:      now,
		state:          state,
		chunks:         make(map[int64]chunkRecord),
		lastActivity:   now,
		reservation:    options.Reservation,
		backend:        options.Backend,
		clock:          options.Clock,
		observers:      options.Observers,
	}
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) DeclaredSize() int64 {
	return s.declaredSize
}

func (s *Session) DeclaredDigest() codec.Digest {
	return s.declaredDigest
}

func (s *Session) ChunkSize() int64 {
	return s.chunkSize
}

func (s *Session) Metadata() Metadata {
	return s.metadata
}

type Chunk struct {
	Offset  int64
	Digest  codec.Digest
	Payload []byte
}

func (c Chunk) rng() Range {
	return Range{Start: c.Offset, End: c.Offset + int64(len(c.Payload))}
}

type AcceptResult struct {
	Duplicate bool
	Received  int64
}

// AcceptChunk validates a chunk and writes it into the staging file. A chunk
// is only merged into the received ranges once its bytes are on disk.
func (s *Session) AcceptChunk(ctx context.Context, chunk Chunk) (AcceptResult, error) {
	s.mu.Lock()
	err := s.checkChunkLocked(chunk)
	s.mu.Unlock()
	if err != nil {
		return AcceptResult{}, err
	}

	if !chunk.Digest.Matches(chunk.Payload) {
		return AcceptResult{}, fmt.Errorf("chunk at offset %d: %w", chunk.Offset, apiError.ErrApiChunkDigestMismatch)
	}

	s.mu.Lock()
	result, changed, err := s.acceptLocked(ctx, chunk)
	state := s.state
	s.mu.Unlock()

	if changed {
		s.notify(state)
	}

	return result, err
}

func (s *Session) checkChunkLocked(chunk Chunk) error {
	err := s.acceptingLocked()
	if err != nil {
		return err
	}

	length := int64(len(chunk.Payload))
	if length == 0 {
		return fmt.Errorf("empty chunk at offset %d: %w", chunk.Offset, apiError.ErrApiBadRequest)
	}

	if length > s.chunkSize {
		return fmt.Errorf("chunk of %d bytes exceeds %d: %w", length, s.chunkSize, apiError.ErrApiChunkTooLarge)
	}

	if chunk.Offset < 0 || chunk.Offset > s.declaredSize-length {
		return fmt.Errorf("chunk [%d, %d) outside [0, %d): %w", chunk.Offset, chunk.Offset+length, s.declaredSize, apiError.ErrApiOutOfBounds)
	}

	return nil
}

func (s *Session) acceptingLocked() error {
	switch s.state {
	case StateCreated, StateReceiving:
		return nil

	case StateCompleting:
		return fmt.Errorf("session %s is completing: %w", s.id, apiError.ErrApiInvalidState)

	default:
		return fmt.Errorf("session %s is %s: %w", s.id, s.state, apiError.ErrApiSessionTerminal)
	}
}

func (s *Session) terminalErrorLocked() error {
	if s.state == StateAborted && s.abortReason == AbortReasonIntegrity {
		return fmt.Errorf("session %s failed verification: %w", s.id, apiError.ErrApiIntegrity)
	}

	return fmt.Errorf("session %s is %s: %w", s.id, s.state, apiError.ErrApiSessionTerminal)
}

func (s *Session) acceptLocked(ctx context.Context, chunk Chunk) (AcceptResult, bool, error) {
	// the session may have moved on while the digest was computed
	err := s.acceptingLocked()
	if err != nil {
		return AcceptResult{}, false, err
	}

	rng := chunk.rng()

	record, known := s.chunks[chunk.Offset]
	if known {
		if record.length == rng.Len() && s.sameDigestLocked(record.digest, chunk) {
			s.lastActivity = s.clock.Now()
			return AcceptResult{Duplicate: true, Received: s.ranges.Total()}, false, nil
		}

		return AcceptResult{}, false, fmt.Errorf("offset %d already holds different content: %w", chunk.Offset, apiError.ErrApiChunkConflict)
	}

	overlaps := s.ranges.Intersections(rng)
	for _, overlap := range overlaps {
		existing, err := s.backend.ReadChunk(ctx, s.id, overlap.Start, overlap.Len())
		if err != nil {
			return AcceptResult{}, s.failStorageLocked(ctx, err), fmt.Errorf("reading back overlapping range: %w", err)
		}

		incoming := chunk.Payload[overlap.Start-chunk.Offset : overlap.End-chunk.Offset]
		if !bytes.Equal(existing, incoming) {
			return AcceptResult{}, false, fmt.Errorf("range [%d, %d) already holds different content: %w", overlap.Start, overlap.End, apiError.ErrApiChunkConflict)
		}
	}

	if len(overlaps) == 1 && overlaps[0] == rng {
		s.chunks[chunk.Offset] = chunkRecord{length: rng.Len(), digest: chunk.Digest}
		s.lastActivity = s.clock.Now()
		return AcceptResult{Duplicate: true, Received: s.ranges.Total()}, false, nil
	}

	err = s.backend.WriteChunk(ctx, s.id, chunk.Offset, chunk.Payload)
	if err != nil {
		return AcceptResult{}, s.failStorageLocked(ctx, err), fmt.Errorf("writing chunk at offset %d: %w", chunk.Offset, err)
	}

	s.ranges.Add(rng)
	s.chunks[chunk.Offset] = chunkRecord{length: rng.Len(), digest: chunk.Digest}
	s.lastActivity = s.clock.Now()

	changed := false
	if s.state == StateCreated {
		s.state = StateReceiving
		changed = true
	}

	return AcceptResult{Received: s.ranges.Total()}, changed, nil
}

func (s *Session) sameDigestLocked(stored codec.Digest, chunk Chunk) bool {
	if stored.Algorithm == chunk.Digest.Algorithm {
		return stored.Equal(chunk.Digest)
	}

	return stored.Matches(chunk.Payload)
}

// failStorageLocked aborts the session after a staging file error.
func (s *Session) failStorageLocked(ctx context.Context, cause error) bool {
	logging.Logger.Errorw("staging file error, aborting session", "session", s.id, "error", cause)
	s.abortLocked(ctx, AbortReasonStorage)
	return true
}

// BeginCompleting moves a fully received session into Completing. Only one
// caller can win; everyone else gets an error describing the current state.
func (s *Session) BeginCompleting() error {
	s.mu.Lock()

	switch s.state {
	case StateCreated, StateReceiving:
		if !s.ranges.Covers(Range{Start: 0, End: s.declaredSize}) {
			missing := s.ranges.Missing(s.declaredSize)
			s.mu.Unlock()
			return fmt.Errorf("%d ranges missing, first at %d: %w", len(missing), missing[0].Start, apiError.ErrApiRangesIncomplete)
		}

	case StateCompleting:
		s.mu.Unlock()
		return fmt.Errorf("session %s is already completing: %w", s.id, apiError.ErrApiInvalidState)

	case StateCommitted:
		s.mu.Unlock()
		return ErrCommitted

	default:
		err := s.terminalErrorLocked()
		s.mu.Unlock()
		return err
	}

	s.state = StateCompleting
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()

	s.notify(StateCompleting)
	return nil
}

// Commit records a successful finalization and returns the reservation.
func (s *Session) Commit(result CommitResult) error {
	s.mu.Lock()

	if s.state != StateCompleting {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("committing session in state %s: %w", state, apiError.ErrApiInvalidState)
	}

	s.state = StateCommitted
	s.result = &result
	s.lastActivity = s.clock.Now()
	s.releaseLocked()
	s.mu.Unlock()

	s.notify(StateCommitted)
	return nil
}

// Abort discards the staging file and returns the reservation. Aborting a
// Completing session is reserved for the finalizer. Aborting an aborted
// session is a no-op.
func (s *Session) Abort(ctx context.Context, reason AbortReason) error {
	s.mu.Lock()

	switch s.state {
	case StateAborted:
		s.mu.Unlock()
		return nil

	case StateCommitted:
		s.mu.Unlock()
		return fmt.Errorf("session %s is committed: %w", s.id, apiError.ErrApiSessionTerminal)

	case StateCompleting:
		if reason != AbortReasonIntegrity && reason != AbortReasonStorage && reason != AbortReasonShutdown {
			s.mu.Unlock()
			return fmt.Errorf("session %s is completing: %w", s.id, apiError.ErrApiInvalidState)
		}
	}

	s.abortLocked(ctx, reason)
	s.mu.Unlock()

	s.notify(StateAborted)
	return nil
}

func (s *Session) abortLocked(ctx context.Context, reason AbortReason) {
	s.state = StateAborted
	s.abortReason = reason
	s.lastActivity = s.clock.Now()

	err := s.backend.DiscardStaging(ctx, s.id)
	if err != nil {
		logging.Logger.Errorw("failed to discard staging file", "session", s.id, "error", err)
	}

	s.releaseLocked()
}

func (s *Session) releaseLocked() {
	if s.reservation == nil {
		return
	}

	err := s.reservation.Release()
	if err != nil {
		logging.Logger.Errorw("releasing reservation", "session", s.id, "error", err)
	}
}

// ExpireIfIdle aborts the session when it has seen no activity for timeout.
// Busy or completing sessions are skipped.
func (s *Session) ExpireIfIdle(ctx context.Context, timeout time.Duration) bool {
	if !s.mu.TryLock() {
		return false
	}

	if s.state != StateCreated && s.state != StateReceiving {
		s.mu.Unlock()
		return false
	}

	if s.clock.Now().Sub(s.lastActivity) < timeout {
		s.mu.Unlock()
		return false
	}

	s.abortLocked(ctx, AbortReasonExpired)
	s.mu.Unlock()

	logging.Logger.Infow("session expired", "session", s.id)
	s.notify(StateAborted)
	return true
}

type Snapshot struct {
	Id             string
	State          State
	AbortReason    AbortReason
	DeclaredSize   int64
	DeclaredDigest codec.Digest
	ChunkSize      int64
	Metadata       Metadata
	Received       []Range
	Missing        []Range
	ReceivedBytes  int64
	CreatedAt      time.Time
	LastActivity   time.Time
	Result         *CommitResult
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	var result *CommitResult
	if s.result != nil {
		copied := *s.result
		result = &copied
	}

	return Snapshot{
		Id:             s.id,
		State:          s.state,
		AbortReason:    s.abortReason,
		DeclaredSize:   s.declaredSize,
		DeclaredDigest: s.declaredDigest,
		ChunkSize:      s.chunkSize,
		Metadata:       s.metadata,
		Received:       s.ranges.Ranges(),
		Missing:        s.ranges.Missing(s.declaredSize),
		ReceivedBytes:  s.ranges.Total(),
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		Result:         result,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) notify(state State) {
	for _, observer := range s.observers {
		observer(s.id, state)
	}
}
