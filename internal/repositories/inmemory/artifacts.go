package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"
	"github.com/the127/upyard/internal/change"
	"github.com/the127/upyard/internal/repositories"
	"github.com/the127/upyard/internal/utils/apiError"
)

type ArtifactRepository struct {
	txn           *memdb.Txn
	changeTracker *change.Tracker
	entityType    int
}

func NewInMemoryArtifactRepository(txn *memdb.Txn, changeTracker *change.Tracker, entityType int) *ArtifactRepository {
	return &ArtifactRepository{
		txn:           txn,
		changeTracker: changeTracker,
		entityType:    entityType,
	}
}

func (r *ArtifactRepository) applyFilter(iterator memdb.ResultIterator, filter *repositories.ArtifactFilter) ([]*repositories.Artifact, int) {
	var result []*repositories.Artifact

	obj := iterator.Next()
	for obj != nil {
		typed := obj.(repositories.Artifact)

		if r.matches(&typed, filter) {
			result = append(result, &typed)
		}

		obj = iterator.Next()
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].GetCreatedAt().After(result[j].GetCreatedAt())
	})

	count := len(result)

	if filter.GetOffset() > 0 {
		result = result[min(filter.GetOffset(), len(result)):]
	}

	if filter.GetLimit() > 0 && len(result) > filter.GetLimit() {
		result = result[:filter.GetLimit()]
	}

	return result, count
}

func (r *ArtifactRepository) matches(artifact *repositories.Artifact, filter *repositories.ArtifactFilter) bool {
	if filter.HasId() {
		if artifact.GetId() != filter.GetId() {
			return false
		}
	}

	if filter.HasDigest() {
		if artifact.GetDigest() != filter.GetDigest() {
			return false
		}
	}

	if filter.HasProject() {
		if artifact.GetProject() != filter.GetProject() {
			return false
		}
	}

	if filter.HasPipeline() {
		if artifact.GetPipeline() != filter.GetPipeline() {
			return false
		}
	}

	return true
}

func (r *ArtifactRepository) First(_ context.Context, filter *repositories.ArtifactFilter) (*repositories.Artifact, error) {
	iterator, err := r.txn.Get("artifacts", "id")
	if err != nil {
		return nil, fmt.Errorf("failed to get artifacts: %w", err)
	}

	result, _ := r.applyFilter(iterator, filter)
	if len(result) == 0 {
		return nil, nil
	}

	return result[0], nil
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

func (r *ArtifactRepository) List(_ context.Context, filter *repositories.ArtifactFilter) ([]*repositories.Artifact, int, error) {
	iterator, err := r.txn.Get("artifacts", "id")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get artifacts: %w", err)
	}

	result, count := r.applyFilter(iterator, filter)
	return result, count, nil
}

func (r *ArtifactRepository) Insert(artifact *repositories.Artifact) {
	r.changeTracker.Add(change.NewEntry(change.Added, r.entityType, artifact))
}

func (r *ArtifactRepository) ExecuteInsert(txn *memdb.Txn, artifact *repositories.Artifact) error {
	existing, err := txn.First("artifacts", "id", artifact.GetId())
	if err != nil {
		return fmt.Errorf("looking up artifact: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("artifact %s already exists", artifact.GetId())
	}

	err = txn.Insert("artifacts", *artifact)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}

	return nil
}
