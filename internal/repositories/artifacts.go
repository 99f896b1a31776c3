package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/the127/upyard/internal/utils/pointer"
)

// Artifact is the catalog record of a committed upload. Its id is the id of
// the session that produced it.
type Artifact struct {
	BaseModel

	name     string
	digest   string
	size     int64
	path     string
	project  string
	pipeline string
	uploader string
	items    []string
}

type ArtifactMetadata struct {
	Project  string
	Pipeline string
	Uploader string
	Items    []string
}

func NewArtifact(sessionId uuid.UUID, name string, digest string, size int64, path string, metadata ArtifactMetadata, committedAt time.Time) *Artifact {
	return &Artifact{
		BaseModel: NewBaseModel(sessionId, committedAt),
		name:      name,
		digest:    digest,
		size:      size,
		path:      path,
		project:   metadata.Project,
		pipeline:  metadata.Pipeline,
		uploader:  metadata.Uploader,
		items:     metadata.Items,
	}
}

func NewArtifactFromDB(name string, digest string, size int64, path string, metadata ArtifactMetadata, base BaseModel) *Artifact {
	return &Artifact{
		BaseModel: base,
		name:      name,
		digest:    digest,
		size:      size,
		path:      path,
		project:   metadata.Project,
		pipeline:  metadata.Pipeline,
		uploader:  metadata.Uploader,
		items:     metadata.Items,
	}
}

func (a *Artifact) GetName() string {
	return a.name
}

func (a *Artifact) GetDigest() string {
	return a.digest
}

func (a *Artifact) GetSize() int64 {
	return a.size
}

func (a *Artifact) GetPath() string {
	return a.path
}

func (a *Artifact) GetProject() string {
	return a.project
}

func (a *Artifact) GetPipeline() string {
	return a.pipeline
}

func (a *Artifact) GetUploader() string {
	return a.uploader
}

func (a *Artifact) GetItems() []string {
	return a.items
}

type ArtifactFilter struct {
	id       *uuid.UUID
	digest   *string
	project  *string
	pipeline *string
	offset   int
	limit    int
}

func NewArtifactFilter() *ArtifactFilter {
	return &ArtifactFilter{}
}

func (f *ArtifactFilter) clone() *ArtifactFilter {
	cloned := *f
	return &cloned
}

func (f *ArtifactFilter) ById(id uuid.UUID) *ArtifactFilter {
	cloned := f.clone()
	cloned.id = &id
	return cloned
}

func (f *ArtifactFilter) HasId() bool {
	return f.id != nil
}

func (f *ArtifactFilter) GetId() uuid.UUID {
	return pointer.DerefOrZero(f.id)
}

func (f *ArtifactFilter) ByDigest(digest string) *ArtifactFilter {
	cloned := f.clone()
	cloned.digest = &digest
	return cloned
}

func (f *ArtifactFilter) HasDigest() bool {
	return f.digest != nil
}

func (f *ArtifactFilter) GetDigest() string {
	return pointer.DerefOrZero(f.digest)
}

func (f *ArtifactFilter) ByProject(project string) *ArtifactFilter {
	cloned := f.clone()
	cloned.project = &project
	return cloned
}

func (f *ArtifactFilter) HasProject() bool {
	return f.project != nil
}

func (f *ArtifactFilter) GetProject() string {
	return pointer.DerefOrZero(f.project)
}

func (f *ArtifactFilter) ByPipeline(pipeline string) *ArtifactFilter {
	cloned := f.clone()
	cloned.pipeline = &pipeline
	return cloned
}

func (f *ArtifactFilter) HasPipeline() bool {
	return f.pipeline != nil
}

func (f *ArtifactFilter) GetPipeline() string {
	return pointer.DerefOrZero(f.pipeline)
}

// WithPaging limits List results. A limit of 0 means no limit.
func (f *ArtifactFilter) WithPaging(offset int, limit int) *ArtifactFilter {
	cloned := f.clone()
	cloned.offset = offset
	cloned.limit = limit
	return cloned
}

func (f *ArtifactFilter) GetOffset() int {
	return f.offset
}

func (f *ArtifactFilter) GetLimit() int {
	return f.limit
}

type ArtifactRepository interface {
	Single(ctx context.Context, filter *ArtifactFilter) (*Artifact, error)
	First(ctx context.Context, filter *ArtifactFilter) (*Artifact, error)
	// List returns one page of artifacts, newest first, and the total count.
	List(ctx context.Context, filter *ArtifactFilter) ([]*Artifact, int, error)
	Insert(artifact *Artifact)
}
