// Package finalizer turns a fully received session into a committed artifact.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/database"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/repositories"
	"github.com/the127/upyard/internal/services/clock"
	"github.com/the127/upyard/internal/session"
	"github.com/the127/upyard/internal/storageBackends"
	"github.com/the127/upyard/internal/utils"
	"github.com/the127/upyard/internal/utils/apiError"
)

type Finalizer struct {
	backend   storageBackends.StorageBackend
	dbFactory database.Factory
	clock     clock.Service
}

func New(backend storageBackends.StorageBackend, dbFactory database.Factory, clockService clock.Service) *Finalizer {
	return &Finalizer{
		backend:   backend,
		dbFactory: dbFactory,
		clock:     clockService,
	}
}

// Finalize verifies the staging file against the declared digest and commits
// it. Finalizing an already committed session returns the same artifact.
func (f *Finalizer) Finalize(ctx context.Context, s *session.Session) (*repositories.Artifact, error) {
	err := s.BeginCompleting()
	if errors.Is(err, session.ErrCommitted) {
		return f.committedArtifact(ctx, s)
	}
	if err != nil {
		return nil, err
	}

	declared := s.DeclaredDigest()
	actual, n, err := f.digestStaging(ctx, s.Id(), declared.Algorithm, s.DeclaredSize())
	if err != nil {
		f.abort(ctx, s, session.AbortReasonStorage)
		return nil, fmt.Errorf("digesting staging file: %w", err)
	}

	if n != s.DeclaredSize() {
		f.abort(ctx, s, session.AbortReasonStorage)
		return nil, fmt.Errorf("staging file holds %d of %d bytes", n, s.DeclaredSize())
	}

	if !actual.Equal(declared) {
		logging.Logger.Warnw("digest mismatch on finalize",
			"session", s.Id(),
			"declared", declared.String(),
			"actual", actual.String())
		f.abort(ctx, s, session.AbortReasonIntegrity)
		return nil, fmt.Errorf("staging digest %s does not match %s: %w", actual, declared, apiError.ErrApiIntegrity)
	}

	path, err := f.backend.CommitStaging(ctx, s.Id(), s.Id())
	if err != nil {
		f.abort(ctx, s, session.AbortReasonStorage)
		return nil, fmt.Errorf("committing staging file: %w", err)
	}

	committedAt := f.clock.Now()
	err = s.Commit(session.CommitResult{
		Path:        path,
		CommittedAt: committedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("committing session: %w", err)
	}

	artifact, err := newArtifact(s.Snapshot())
	if err != nil {
		return nil, err
	}

	// the artifact is on disk at this point, a catalog failure must not undo it
	err = f.record(ctx, artifact)
	if err != nil {
		logging.Logger.Errorw("failed to record artifact in catalog", "session", s.Id(), "path", path, "error", err)
	}

	logging.Logger.Infow("session committed", "session", s.Id(), "path", path, "digest", declared.String())
	return artifact, nil
}

func (f *Finalizer) digestStaging(ctx context.Context, id string, algorithm codec.Algorithm, size int64) (codec.Digest, int64, error) {
	reader, err := f.backend.OpenStaging(ctx, id)
	if err != nil {
		return codec.Digest{}, 0, err
	}
	defer utils.IgnoreError(reader.Close)

	return codec.DigestReader(algorithm, io.LimitReader(reader, size))
}

func (f *Finalizer) abort(ctx context.Context, s *session.Session, reason session.AbortReason) {
	err := s.Abort(ctx, reason)
	if err != nil {
		logging.Logger.Errorw("failed to abort session", "session", s.Id(), "reason", reason, "error", err)
	}
}

func (f *Finalizer) record(ctx context.Context, artifact *repositories.Artifact) error {
	dbContext, err := f.dbFactory.NewDbContext(ctx)
	if err != nil {
		return fmt.Errorf("creating db context: %w", err)
	}

	dbContext.Artifacts().Insert(artifact)
	return dbContext.SaveChanges(ctx)
}

func (f *Finalizer) committedArtifact(ctx context.Context, s *session.Session) (*repositories.Artifact, error) {
	snapshot := s.Snapshot()

	id, err := uuid.Parse(snapshot.Id)
	if err != nil {
		return nil, fmt.Errorf("parsing session id: %w", err)
	}

	dbContext, err := f.dbFactory.NewDbContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating db context: %w", err)
	}

	artifact, err := dbContext.Artifacts().First(ctx, repositories.NewArtifactFilter().ById(id))
	if err != nil {
		return nil, fmt.Errorf("getting artifact: %w", err)
	}

	if artifact != nil {
		return artifact, nil
	}

	return newArtifact(snapshot)
}

func newArtifact(snapshot session.Snapshot) (*repositories.Artifact, error) {
	if snapshot.Result == nil {
		return nil, fmt.Errorf("session %s has no commit result: %w", snapshot.Id, apiError.ErrApiInvalidState)
	}

	id, err := uuid.Parse(snapshot.Id)
	if err != nil {
		return nil, fmt.Errorf("parsing session id: %w", err)
	}

	return repositories.NewArtifact(
		id,
		snapshot.Metadata.Name,
		snapshot.DeclaredDigest.String(),
		snapshot.DeclaredSize,
		snapshot.Result.Path,
		repositories.ArtifactMetadata{
			Project:  snapshot.Metadata.Project,
			Pipeline: snapshot.Metadata.Pipeline,
			Uploader: snapshot.Metadata.Uploader,
			Items:    snapshot.Metadata.Items,
		},
		snapshot.Result.CommittedAt,
	), nil
}
