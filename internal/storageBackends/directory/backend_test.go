package directory

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/the127/upyard/internal/storageBackends"
)

type DirectoryBackendTestSuite struct {
	suite.Suite
	stagingDir string
	finalDir   string
	backend    storageBackends.StorageBackend
}

func TestDirectoryBackendTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(DirectoryBackendTestSuite))
}

func (s *DirectoryBackendTestSuite) SetupTest() {
	root := s.T().TempDir()
	s.stagingDir = filepath.Join(root, "staging")
	s.finalDir = filepath.Join(root, "final")

	backend, err := New(Options{
		StagingDir:  s.stagingDir,
		FinalDir:    s.finalDir,
		Preallocate: true,
	})
	s.Require().NoError(err)
	s.backend = backend
}

func (s *DirectoryBackendTestSuite) TestCreateStagingHasDeclaredSize() {
	// arrange
	ctx := context.Background()

	// act
	err := s.backend.CreateStaging(ctx, "a", 1024)

	// assert
	s.Require().NoError(err)
	info, err := os.Stat(filepath.Join(s.stagingDir, "a"+stagingSuffix))
	s.Require().NoError(err)
	s.Equal(int64(1024), info.Size())
}

func (s *DirectoryBackendTestSuite) TestCreateStagingTwiceFails() {
	// arrange
	ctx := context.Background()
	s.Require().NoError(s.backend.CreateStaging(ctx, "a", 10))

	// act
	err := s.backend.CreateStaging(ctx, "a", 10)

	// assert
	s.Error(err)
}

func (s *DirectoryBackendTestSuite) TestWriteOutOfOrderThenRead() {
	// arrange
	ctx := context.Background()
	s.Require().NoError(s.backend.CreateStaging(ctx, "a", 8))

	// act
	s.Require().NoError(s.backend.WriteChunk(ctx, "a", 4, []byte("5678")))
	s.Require().NoError(s.backend.WriteChunk(ctx, "a", 0, []byte("1234")))

	// assert
	reader, err := s.backend.OpenStaging(ctx, "a")
	s.Require().NoError(err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	s.Require().NoError(err)
	s.Equal("12345678", string(data))

	chunk, err := s.backend.ReadChunk(ctx, "a", 2, 4)
	s.Require().NoError(err)
	s.Equal("3456", string(chunk))
}

func (s *DirectoryBackendTestSuite) TestCommitMovesIntoFinalDir() {
	// arrange
	ctx := context.Background()
	s.Require().NoError(s.backend.CreateStaging(ctx, "a", 3))
	s.Require().NoError(s.backend.WriteChunk(ctx, "a", 0, []byte("abc")))

	// act
	finalPath, err := s.backend.CommitStaging(ctx, "a", "artifact-a")

	// assert
	s.Require().NoError(err)
	s.Equal(filepath.Join(s.finalDir, "artifact-a"), finalPath)
	data, err := os.ReadFile(finalPath)
	s.Require().NoError(err)
	s.Equal("abc", string(data))
	_, err = os.Stat(filepath.Join(s.stagingDir, "a"+stagingSuffix))
	s.True(os.IsNotExist(err))
}

func (s *DirectoryBackendTestSuite) TestCommitUnknownStaging() {
	// act
	_, err := s.backend.CommitStaging(context.Background(), "missing", "x")

	// assert
	s.ErrorIs(err, storageBackends.ErrStagingNotFound)
}

func (s *DirectoryBackendTestSuite) TestDiscardIsIdempotent() {
	// arrange
	ctx := context.Background()
	s.Require().NoError(s.backend.CreateStaging(ctx, "a", 3))

	// act
	first := s.backend.DiscardStaging(ctx, "a")
	second := s.backend.DiscardStaging(ctx, "a")

	// assert
	s.NoError(first)
	s.NoError(second)
	ids, err := s.backend.ListStaging(ctx)
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *DirectoryBackendTestSuite) TestListStagingIgnoresForeignFiles() {
	// arrange
	ctx := context.Background()
	s.Require().NoError(s.backend.CreateStaging(ctx, "a", 1))
	s.Require().NoError(s.backend.CreateStaging(ctx, "b", 1))
	s.Require().NoError(os.WriteFile(filepath.Join(s.stagingDir, "README"), []byte("x"), 0o600))

	// act
	ids, err := s.backend.ListStaging(ctx)

	// assert
	s.Require().NoError(err)
	s.ElementsMatch([]string{"a", "b"}, ids)
}

func (s *DirectoryBackendTestSuite) TestRejectsPathTraversal() {
	// act
	err := s.backend.CreateStaging(context.Background(), "../escape", 1)

	// assert
	s.Error(err)
}
