package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
	"github.com/the127/upyard/internal/change"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/repositories"
	"github.com/the127/upyard/internal/utils"
	"github.com/the127/upyard/internal/utils/apiError"
)

type postgresArtifact struct {
	postgresBaseModel
	name     string
	digest   string
	size     int64
	path     string
	project  string
	pipeline string
	uploader string
	items    pq.StringArray
}

func (a *postgresArtifact) Map() *repositories.Artifact {
	return repositories.NewArtifactFromDB(
		a.name,
		a.digest,
		a.size,
		a.path,
		repositories.ArtifactMetadata{
			Project:  a.project,
			Pipeline: a.pipeline,
			Uploader: a.uploader,
			Items:    []string(a.items),
		},
		a.MapBase(),
	)
}

func (a *postgresArtifact) scanTargets() []any {
	return []any{
		&a.id,
		&a.createdAt,
		&a.updatedAt,
		&a.xmin,
		&a.name,
		&a.digest,
		&a.size,
		&a.path,
		&a.project,
		&a.pipeline,
		&a.uploader,
		&a.items,
	}
}

func newPostgresArtifact(artifact *repositories.Artifact) *postgresArtifact {
	return &postgresArtifact{
		postgresBaseModel: newPostgresBaseModel(artifact.BaseModel),
		name:              artifact.GetName(),
		digest:            artifact.GetDigest(),
		size:              artifact.GetSize(),
		path:              artifact.GetPath(),
		project:           artifact.GetProject(),
		pipeline:          artifact.GetPipeline(),
		uploader:          artifact.GetUploader(),
		items:             pq.StringArray(artifact.GetItems()),
	}
}

type ArtifactRepository struct {
	db            *sql.DB
	changeTracker *change.Tracker
	entityType    int
}

func NewPostgresArtifactRepository(db *sql.DB, changeTracker *change.Tracker, entityType int) *ArtifactRepository {
	return &ArtifactRepository{
		db:            db,
		changeTracker: changeTracker,
		entityType:    entityType,
	}
}

func (r *ArtifactRepository) selectQuery(filter *repositories.ArtifactFilter) *sqlbuilder.SelectBuilder {
	s := sqlbuilder.Select(
		"artifacts.id",
		"artifacts.created_at",
		"artifacts.updated_at",
		"artifacts.xmin",
		"artifacts.name",
		"artifacts.digest",
		"artifacts.size",
		"artifacts.path",
		"artifacts.project",
		"artifacts.pipeline",
		"artifacts.uploader",
		"artifacts.items",
	).From("artifacts")

	if filter.HasId() {
		s.Where(s.Equal("artifacts.id", filter.GetId()))
	}

	if filter.HasDigest() {
		s.Where(s.Equal("artifacts.digest", filter.GetDigest()))
	}

	if filter.HasProject() {
		s.Where(s.Equal("artifacts.project", filter.GetProject()))
	}

	if filter.HasPipeline() {
		s.Where(s.Equal("artifacts.pipeline", filter.GetPipeline()))
	}

	s.OrderBy("artifacts.created_at").Desc()

	return s
}

func (r *ArtifactRepository) First(ctx context.Context, filter *repositories.ArtifactFilter) (*repositories.Artifact, error) {
	s := r.selectQuery(filter)
	s.Limit(1)

	query, args := s.BuildWithFlavor(sqlbuilder.PostgreSQL)
	logging.Logger.Debugf("query: %s, args: %+v", query, args)
	row := r.db.QueryRowContext(ctx, query, args...)

	var artifact postgresArtifact
	err := row.Scan(artifact.scanTargets()...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	return artifact.Map(), nil
}

func (r *ArtifactRepository) Single(ctx context.Context, filter *repositories.ArtifactFilter) (*repositories.Artifact, error) {
	result, err := r.First(ctx, filter)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, apiError.ErrApiArtifactNotFound
	}
	return result, nil
}

func (r *ArtifactRepository) List(ctx context.Context, filter *repositories.ArtifactFilter) ([]*repositories.Artifact, int, error) {
	s := r.selectQuery(filter)
	s.SelectMore("count(*) over() as total_count")

	if filter.GetLimit() > 0 {
		s.Limit(filter.GetLimit())
	}

	if filter.GetOffset() > 0 {
		s.Offset(filter.GetOffset())
	}

	query, args := s.BuildWithFlavor(sqlbuilder.PostgreSQL)
	logging.Logger.Debugf("query: %s, args: %+v", query, args)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying db: %w", err)
	}
	defer utils.PanicOnError(rows.Close, "closing rows")

	var artifacts []*repositories.Artifact
	var totalCount int
	for rows.Next() {
		var artifact postgresArtifact
		err := rows.Scan(append(artifact.scanTargets(), &totalCount)...)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning row: %w", err)
		}
		artifacts = append(artifacts, artifact.Map())
	}

	err = rows.Err()
	if err != nil {
		return nil, 0, fmt.Errorf("iterating rows: %w", err)
	}

	return artifacts, totalCount, nil
}

func (r *ArtifactRepository) Insert(artifact *repositories.Artifact) {
	r.changeTracker.Add(change.NewEntry(change.Added, r.entityType, artifact))
}

func (r *ArtifactRepository) ExecuteInsert(ctx context.Context, tx *sql.Tx, artifact *repositories.Artifact) error {
	pgArtifact := newPostgresArtifact(artifact)

	s := sqlbuilder.InsertInto("artifacts").
		Cols(
			"id",
			"created_at",
			"updated_at",
			"name",
			"digest",
			"size",
			"path",
			"project",
			"pipeline",
			"uploader",
			"items",
		).
		Values(
			pgArtifact.id,
			pgArtifact.createdAt,
			pgArtifact.updatedAt,
			pgArtifact.name,
			pgArtifact.digest,
			pgArtifact.size,
			pgArtifact.path,
			pgArtifact.project,
			pgArtifact.pipeline,
			pgArtifact.uploader,
			pgArtifact.items,
		)

	s.Returning("xmin")

	query, args := s.BuildWithFlavor(sqlbuilder.PostgreSQL)
	logging.Logger.Debugf("query: %s, args: %+v", query, args)
	row := tx.QueryRowContext(ctx, query, args...)

	var xmin uint32

	err := row.Scan(&xmin)
	if err != nil {
		return fmt.Errorf("inserting artifact: %w", err)
	}

	artifact.SetVersion(xmin)
	return nil
}
