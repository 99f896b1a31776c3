// Package registry owns every upload session known to this frontend.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/services/clock"
	"github.com/the127/upyard/internal/services/events"
	"github.com/the127/upyard/internal/session"
	"github.com/the127/upyard/internal/storage/allocator"
	"github.com/the127/upyard/internal/storageBackends"
	"github.com/the127/upyard/internal/utils/apiError"
)

// publishers are expected to hand events off, not deliver them inline
const publishTimeout = time.Second

type Options struct {
	Allocator allocator.Allocator
	Backend   storageBackends.StorageBackend
	Clock     clock.Service
	Publisher events.Publisher

	// DigestAlgorithm is the algorithm clients are asked to use for chunk
	// digests.
	DigestAlgorithm  codec.Algorithm
	DefaultChunkSize int64
	MinChunkSize     int64
	MaxChunkSize     int64
	IdleTimeout      time.Duration
	GracePeriod      time.Duration
}

type Registry struct {
	options Options

	mu   sync.RWMutex
	live map[string]*session.Session

	// terminal sessions stay observable for the grace period
	tombstones *cache.Cache
}

func New(options Options) *Registry {
	cleanupInterval := options.GracePeriod / 2
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	return &Registry{
		options:    options,
		live:       make(map[string]*session.Session),
		tombstones: cache.New(options.GracePeriod, cleanupInterval),
	}
}

type CreateRequest struct {
	DeclaredSize   int64
	DeclaredDigest codec.Digest
	ChunkSizeHint  int64
	Metadata       session.Metadata
}

func (r *Registry) DigestAlgorithm() codec.Algorithm {
	if r.options.DigestAlgorithm == 0 {
		return codec.AlgorithmSha256
	}

	return r.options.DigestAlgorithm
}

// MaxChunkSize is the largest chunk size any session can negotiate.
func (r *Registry) MaxChunkSize() int64 {
	return r.options.MaxChunkSize
}

// NegotiateChunkSize clamps the client's hint into the configured bounds.
func (r *Registry) NegotiateChunkSize(hint int64) int64 {
	if hint <= 0 {
		return r.options.DefaultChunkSize
	}

	return min(max(hint, r.options.MinChunkSize), r.options.MaxChunkSize)
}

// Create reserves the full declared size before any staging file exists. If
// the staging file cannot be created the reservation is returned.
func (r *Registry) Create(ctx context.Context, request CreateRequest) (*session.Session, error) {
	if request.DeclaredSize < 0 {
		return nil, fmt.Errorf("negative declared size: %w", apiError.ErrApiBadRequest)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	reservation, err := r.options.Allocator.Reserve(request.DeclaredSize)
	if err != nil {
		return nil, err
	}

	err = r.options.Backend.CreateStaging(ctx, id.String(), request.DeclaredSize)
	if err != nil {
		releaseErr := reservation.Release()
		if releaseErr != nil {
			logging.Logger.Errorw("releasing reservation after staging failure", "session", id.String(), "error", releaseErr)
		}
		return nil, fmt.Errorf("creating staging file: %w", err)
	}

	s := session.New(session.Options{
		Id:             id.String(),
		DeclaredSize:   request.DeclaredSize,
		DeclaredDigest: request.DeclaredDigest,
		ChunkSize:      r.NegotiateChunkSize(request.ChunkSizeHint),
		Metadata:       request.Metadata,
		Reservation:    reservation,
		Backend:        r.options.Backend,
		Clock:          r.options.Clock,
		Observers:      []session.Observer{r.onStateChange},
	})

	r.mu.Lock()
	r.live[s.Id()] = s
	r.mu.Unlock()

	logging.Logger.Infow("session created",
		"session", s.Id(),
		"size", request.DeclaredSize,
		"chunkSize", s.ChunkSize(),
		"name", request.Metadata.Name)
	r.publish(s.Id(), s.State())

	return s, nil
}

func (r *Registry) onStateChange(id string, state session.State) {
	if state.IsTerminal() {
		r.retire(id)
	}

	r.publish(id, state)
}

func (r *Registry) publish(id string, state session.State) {
	if r.options.Publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := r.options.Publisher.Publish(ctx, events.StatusChange(id, string(state)))
	if err != nil {
		logging.Logger.Warnw("publishing status change", "session", id, "state", state, "error", err)
	}
}

// retire moves a terminal session from the live map to the tombstones.
func (r *Registry) retire(id string) {
	r.mu.Lock()
	s, ok := r.live[id]
	delete(r.live, id)
	r.mu.Unlock()

	if ok {
		r.tombstones.SetDefault(id, s)
	}
}

// Get returns live sessions and terminal sessions still within their grace
// period.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	s, ok := r.live[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	tombstone, ok := r.tombstones.Get(id)
	if ok {
		return tombstone.(*session.Session), nil
	}

	return nil, fmt.Errorf("session %s: %w", id, apiError.ErrApiSessionNotFound)
}

// Abort is an explicit client abort. Once acknowledged the session is
// forgotten instead of being kept for the grace period.
func (r *Registry) Abort(ctx context.Context, id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}

	err = s.Abort(ctx, session.AbortReasonClient)
	if err != nil {
		return err
	}

	r.tombstones.Delete(id)
	return nil
}

func (r *Registry) liveSessions() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*session.Session, 0, len(r.live))
	for _, s := range r.live {
		sessions = append(sessions, s)
	}

	return sessions
}

// Sweep expires idle sessions and returns how many were aborted.
func (r *Registry) Sweep(ctx context.Context) int {
	expired := 0
	for _, s := range r.liveSessions() {
		if s.ExpireIfIdle(ctx, r.options.IdleTimeout) {
			expired++
		}
	}

	return expired
}

func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			expired := r.Sweep(ctx)
			if expired > 0 {
				logging.Logger.Infof("expired %d idle sessions", expired)
			}
		}
	}
}

// CleanupOrphans discards staging files that belong to no live session. It
// is meant to run once at startup, before the server accepts requests.
func (r *Registry) CleanupOrphans(ctx context.Context) (int, error) {
	ids, err := r.options.Backend.ListStaging(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing staging files: %w", err)
	}

	r.mu.RLock()
	orphans := make([]string, 0, len(ids))
	for _, id := range ids {
		_, ok := r.live[id]
		if !ok {
			orphans = append(orphans, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range orphans {
		err = r.options.Backend.DiscardStaging(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("discarding orphan %s: %w", id, err)
		}
		logging.Logger.Infow("discarded orphaned staging file", "session", id)
	}

	return len(orphans), nil
}

// AbortAll aborts every live session, used on shutdown.
func (r *Registry) AbortAll(ctx context.Context) {
	for _, s := range r.liveSessions() {
		err := s.Abort(ctx, session.AbortReasonShutdown)
		if err != nil {
			logging.Logger.Warnw("aborting session on shutdown", "session", s.Id(), "error", err)
		}
	}
}

type Stats struct {
	LiveSessions int
	Ledger       allocator.Stats
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	live := len(r.live)
	r.mu.RUnlock()

	return Stats{
		LiveSessions: live,
		Ledger:       r.options.Allocator.Stats(),
	}
}
