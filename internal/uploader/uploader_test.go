package uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/The127/ioc"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/server"
	"github.com/the127/upyard/internal/services/clock"
	"github.com/the127/upyard/internal/setup"
	"github.com/the127/upyard/internal/wire"
)

// interceptor lets a test fail selected requests before they reach the
// server.
type interceptor struct {
	mu        sync.Mutex
	next      http.Handler
	chunks    int
	finalize  int
	intercept func(r *http.Request, chunk int) (int, wire.ErrorCode, bool)
}

func (i *interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	chunk := 0
	if r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/chunk") {
		i.chunks++
		chunk = i.chunks
	}
	if strings.HasSuffix(r.URL.Path, "/finalize") {
		i.finalize++
	}
	intercept := i.intercept
	i.mu.Unlock()

	if intercept != nil {
		status, code, ok := intercept(r, chunk)
		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"errors":[{"code":"` + string(code) + `","message":"intercepted"}]}`))
			return
		}
	}

	i.next.ServeHTTP(w, r)
}

func (i *interceptor) reset(intercept func(r *http.Request, chunk int) (int, wire.ErrorCode, bool)) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.chunks = 0
	i.finalize = 0
	i.intercept = intercept
}

type UploaderTestSuite struct {
	suite.Suite
	interceptor *interceptor
	server      *httptest.Server
	dir         string
}

func TestUploaderTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(UploaderTestSuite))
}

func (s *UploaderTestSuite) SetupTest() {
	dc := ioc.NewDependencyCollection()

	ioc.RegisterSingleton(dc, func(_ *ioc.DependencyProvider) clock.Service {
		return clock.NewClockService()
	})

	setup.Database(dc, config.CatalogConfig{Mode: config.CatalogModeInMemory})
	setup.Storage(dc, config.StorageConfig{
		Mode:                 config.StorageModeInMemory,
		CapacityCeilingBytes: 4096,
	})
	setup.Events(dc, config.EventsConfig{Mode: config.EventsModeInMemory}, time.Hour)
	setup.Registry(dc, config.UploadConfig{
		DigestAlgorithm:       "blake3",
		DefaultChunkSizeBytes: 8,
		MinChunkSizeBytes:     4,
		MaxChunkSizeBytes:     16,
		SessionIdleTimeout:    time.Hour,
		TerminalGracePeriod:   time.Hour,
		SweepInterval:         time.Minute,
	})
	setup.Auth(dc, config.AuthConfig{Mode: config.AuthModeNone})
	setup.Mediator(dc)

	s.interceptor = &interceptor{next: server.NewRouter(dc.BuildProvider(), nil)}
	s.server = httptest.NewServer(s.interceptor)
	s.dir = s.T().TempDir()
}

func (s *UploaderTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *UploaderTestSuite) file(content string) string {
	path := filepath.Join(s.dir, "artifact.bin")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *UploaderTestSuite) uploader(configure func(options *Options)) *Uploader {
	options := Options{
		BaseUrl:     s.server.URL,
		HttpClient:  s.server.Client(),
		Metadata:    Metadata{Project: "upyard", Pipeline: "main"},
		Concurrency: 1,
		Attempts:    3,
		Delay:       time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxRounds:   3,
		StateDir:    filepath.Join(s.dir, "state"),
	}
	if configure != nil {
		configure(&options)
	}
	return New(options)
}

func (s *UploaderTestSuite) digest(content string) string {
	digest, err := codec.Compute(codec.AlgorithmSha256, []byte(content))
	s.Require().NoError(err)
	return digest.String()
}

func (s *UploaderTestSuite) TestUploadsFile() {
	// arrange
	content := "a file that spans a handful of chunks"
	path := s.file(content)

	// act
	artifact, err := s.uploader(nil).Upload(context.Background(), path)

	// assert
	s.Require().NoError(err)
	s.Equal(s.digest(content), artifact.Digest)
	s.Equal(int64(len(content)), artifact.Size)
	s.Equal("artifact.bin", artifact.Name)
	s.Equal("main", artifact.Pipeline)
	s.Equal(5, s.interceptor.chunks)

	entries, err := os.ReadDir(filepath.Join(s.dir, "state"))
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *UploaderTestSuite) TestUploadsWithCompressionAndConcurrency() {
	// arrange
	content := strings.Repeat("compressible ", 40)
	path := s.file(content)
	u := s.uploader(func(options *Options) {
		options.Encoding = codec.EncodingLz4
		options.ChunkSizeHint = 16
		options.Concurrency = 4
	})

	// act
	artifact, err := u.Upload(context.Background(), path)

	// assert
	s.Require().NoError(err)
	s.Equal(s.digest(content), artifact.Digest)
}

func (s *UploaderTestSuite) TestUploadsEmptyFile() {
	// arrange
	path := s.file("")

	// act
	artifact, err := s.uploader(nil).Upload(context.Background(), path)

	// assert
	s.Require().NoError(err)
	s.Equal(int64(0), artifact.Size)
	s.Equal(0, s.interceptor.chunks)
}

func (s *UploaderTestSuite) TestRetriesTransientFailures() {
	// arrange
	path := s.file("sixteen bytes!!!")
	s.interceptor.reset(func(_ *http.Request, chunk int) (int, wire.ErrorCode, bool) {
		if chunk == 1 || chunk == 2 {
			return http.StatusServiceUnavailable, wire.CodeInternal, true
		}
		return 0, "", false
	})

	// act
	artifact, err := s.uploader(nil).Upload(context.Background(), path)

	// assert
	s.Require().NoError(err)
	s.Equal(s.digest("sixteen bytes!!!"), artifact.Digest)
	s.Equal(4, s.interceptor.chunks)
}

func (s *UploaderTestSuite) TestIntegrityErrorIsNotRetried() {
	// arrange
	path := s.file("bytes the server will not like")
	s.interceptor.reset(func(r *http.Request, _ int) (int, wire.ErrorCode, bool) {
		if strings.HasSuffix(r.URL.Path, "/finalize") {
			return http.StatusUnprocessableEntity, wire.CodeIntegrityError, true
		}
		return 0, "", false
	})

	// act
	_, err := s.uploader(nil).Upload(context.Background(), path)

	// assert
	s.ErrorIs(err, ErrIntegrity)
	s.Equal(1, s.interceptor.finalize)
}

func (s *UploaderTestSuite) TestResumesFromJournal() {
	// arrange
	content := "forty bytes of content for resuming ...."
	path := s.file(content)

	s.interceptor.reset(func(_ *http.Request, chunk int) (int, wire.ErrorCode, bool) {
		if chunk >= 3 {
			return http.StatusBadRequest, wire.CodeBadRequest, true
		}
		return 0, "", false
	})
	_, err := s.uploader(nil).Upload(context.Background(), path)
	s.Require().Error(err)

	sum, err := codec.Compute(codec.AlgorithmSha256, []byte(content))
	s.Require().NoError(err)
	journal, err := LoadJournal(JournalPath(filepath.Join(s.dir, "state"), sum))
	s.Require().NoError(err)
	s.Require().NotNil(journal)

	s.interceptor.reset(nil)

	// act
	artifact, err := s.uploader(nil).Upload(context.Background(), path)

	// assert
	s.Require().NoError(err)
	s.Equal(journal.SessionId, artifact.Id)
	s.Equal(3, s.interceptor.chunks)
	s.Equal(s.digest(content), artifact.Digest)
}

func (s *UploaderTestSuite) TestReplacesLostSession() {
	// arrange
	content := "twenty bytes of data"
	path := s.file(content)

	sum, err := codec.Compute(codec.AlgorithmSha256, []byte(content))
	s.Require().NoError(err)
	absPath, err := filepath.Abs(path)
	s.Require().NoError(err)
	s.Require().NoError(SaveJournal(JournalPath(filepath.Join(s.dir, "state"), sum), &Journal{
		SessionId:      "0190b6f2-3c1e-7000-8000-000000000000",
		BaseUrl:        s.server.URL,
		Path:           absPath,
		Size:           int64(len(content)),
		Digest:         sum.String(),
		ChunkSize:      8,
		ChunkAlgorithm: "sha256",
	}))

	// act
	artifact, err := s.uploader(nil).Upload(context.Background(), path)

	// assert
	s.Require().NoError(err)
	s.NotEqual("0190b6f2-3c1e-7000-8000-000000000000", artifact.Id)
	s.Equal(s.digest(content), artifact.Digest)
}

func (s *UploaderTestSuite) TestInsufficientSpaceIsFatal() {
	// arrange
	path := s.file(strings.Repeat("x", 5000))

	// act
	_, err := s.uploader(nil).Upload(context.Background(), path)

	// assert
	var apiErr *ApiError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(wire.CodeInsufficientSpace, apiErr.Code)
}

func TestChunkOffsets(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		missing  []wire.Range
		expected []int64
	}{
		{"nothing missing", nil, nil},
		{"whole file", []wire.Range{{Start: 0, End: 20}}, []int64{0, 8, 16}},
		{"unaligned gap", []wire.Range{{Start: 10, End: 12}}, []int64{8}},
		{"two gaps in one chunk", []wire.Range{{Start: 1, End: 2}, {Start: 5, End: 7}}, []int64{0}},
		{"separate gaps", []wire.Range{{Start: 0, End: 8}, {Start: 16, End: 18}}, []int64{0, 16}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// act
			offsets := chunkOffsets(tc.missing, 8)

			// assert
			require.Equal(t, tc.expected, offsets)
		})
	}
}
