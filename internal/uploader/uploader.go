// Package uploader pushes a local file to an upyard server, resuming where a
// previous attempt stopped.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/dustin/go-humanize"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/utils"
	"github.com/the127/upyard/internal/wire"
)

// errIncomplete asks for another round on the same session.
var errIncomplete = errors.New("server is missing ranges")

type Metadata struct {
	Name     string
	Project  string
	Pipeline string
	Uploader string
	Items    []string
}

type Options struct {
	BaseUrl    string
	Token      string
	HttpClient *http.Client

	Metadata        Metadata
	ChunkSizeHint   int64
	Encoding        codec.ContentEncoding
	DigestAlgorithm codec.Algorithm
	Concurrency     int

	// Attempts, Delay and MaxDelay bound the exponential backoff of every
	// single request.
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration

	// MaxRounds bounds how often missing ranges are re-sent or a lost session
	// is replaced by a new one.
	MaxRounds int

	// StateDir holds resume journals. Empty disables resuming across process
	// restarts.
	StateDir string
}

func DefaultOptions() Options {
	return Options{
		Encoding:        codec.EncodingIdentity,
		DigestAlgorithm: codec.AlgorithmSha256,
		Concurrency:     4,
		Attempts:        7,
		Delay:           time.Second,
		MaxDelay:        time.Minute,
		MaxRounds:       5,
	}
}

type Uploader struct {
	options Options
	client  *client
}

func New(options Options) *Uploader {
	defaults := DefaultOptions()

	if options.HttpClient == nil {
		options.HttpClient = &http.Client{}
	}
	if options.Encoding == "" {
		options.Encoding = defaults.Encoding
	}
	if options.DigestAlgorithm == 0 {
		options.DigestAlgorithm = defaults.DigestAlgorithm
	}
	if options.Concurrency <= 0 {
		options.Concurrency = defaults.Concurrency
	}
	if options.Attempts == 0 {
		options.Attempts = defaults.Attempts
	}
	if options.Delay <= 0 {
		options.Delay = defaults.Delay
	}
	if options.MaxDelay <= 0 {
		options.MaxDelay = defaults.MaxDelay
	}
	if options.MaxRounds <= 0 {
		options.MaxRounds = defaults.MaxRounds
	}

	return &Uploader{
		options: options,
		client: &client{
			baseUrl:    options.BaseUrl,
			token:      options.Token,
			httpClient: options.HttpClient,
		},
	}
}

// source is the file being uploaded.
type source struct {
	file   *os.File
	path   string
	size   int64
	digest codec.Digest
}

// target is the server side session receiving the file.
type target struct {
	sessionId      string
	chunkSize      int64
	chunkAlgorithm codec.Algorithm
}

// Upload sends the file at path and returns the committed artifact.
func (u *Uploader) Upload(ctx context.Context, path string) (*wire.Artifact, error) {
	src, err := u.open(path)
	if err != nil {
		return nil, err
	}
	defer utils.IgnoreError(src.file.Close)

	journalPath := ""
	if u.options.StateDir != "" {
		journalPath = JournalPath(u.options.StateDir, src.digest)
	}

	current := u.resume(journalPath, src)

	for round := 1; round <= u.options.MaxRounds; round++ {
		if current == nil {
			current, err = u.start(ctx, src, journalPath)
			if err != nil {
				return nil, err
			}
		}

		artifact, err := u.runRound(ctx, src, current)
		switch {
		case err == nil:
			u.forget(journalPath)
			logging.Logger.Infow("upload committed",
				"session", current.sessionId,
				"size", humanize.IBytes(uint64(src.size)),
				"digest", artifact.Digest)
			return artifact, nil

		case errors.Is(err, ErrIntegrity):
			u.forget(journalPath)
			return nil, fmt.Errorf("session %s: %w", current.sessionId, err)

		case errors.Is(err, ErrSessionLost):
			logging.Logger.Warnw("session lost, starting a new one", "session", current.sessionId, "error", err)
			u.forget(journalPath)
			current = nil

		case errors.Is(err, errIncomplete):
			logging.Logger.Infow("server reports missing ranges, sending them again", "session", current.sessionId, "round", round)

		default:
			return nil, fmt.Errorf("session %s: %w", current.sessionId, err)
		}
	}

	return nil, fmt.Errorf("upload did not complete within %d rounds", u.options.MaxRounds)
}

func (u *Uploader) open(path string) (*source, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	start := time.Now()
	digest, n, err := codec.DigestReader(u.options.DigestAlgorithm, io.NewSectionReader(file, 0, info.Size()))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}

	logging.Logger.Infow("hashed file",
		"path", absPath,
		"size", humanize.IBytes(uint64(n)),
		"digest", digest.String(),
		"took", time.Since(start))

	return &source{
		file:   file,
		path:   absPath,
		size:   n,
		digest: digest,
	}, nil
}

func (u *Uploader) resume(journalPath string, src *source) *target {
	if journalPath == "" {
		return nil
	}

	journal, err := LoadJournal(journalPath)
	if err != nil {
		logging.Logger.Warnw("ignoring unreadable journal", "path", journalPath, "error", err)
		return nil
	}

	if journal == nil || !journal.matches(u.options.BaseUrl, src.path, src.size, src.digest) {
		return nil
	}

	chunkAlgorithm, err := codec.ParseAlgorithm(journal.ChunkAlgorithm)
	if err != nil {
		chunkAlgorithm = u.options.DigestAlgorithm
	}

	logging.Logger.Infow("resuming upload", "session", journal.SessionId)
	return &target{
		sessionId:      journal.SessionId,
		chunkSize:      journal.ChunkSize,
		chunkAlgorithm: chunkAlgorithm,
	}
}

func (u *Uploader) forget(journalPath string) {
	if journalPath == "" {
		return
	}

	err := RemoveJournal(journalPath)
	if err != nil {
		logging.Logger.Warnw("failed to remove journal", "path", journalPath, "error", err)
	}
}

func (u *Uploader) start(ctx context.Context, src *source, journalPath string) (*target, error) {
	var initiated *wire.InitiateResponse
	err := u.retry(ctx, "initiate", func() error {
		var err error
		initiated, err = u.client.initiate(ctx, wire.InitiateRequest{
			DeclaredSize:   src.size,
			DeclaredDigest: src.digest.String(),
			ChunkSizeHint:  u.options.ChunkSizeHint,
			Name:           u.name(src),
			Project:        u.options.Metadata.Project,
			Pipeline:       u.options.Metadata.Pipeline,
			Uploader:       u.options.Metadata.Uploader,
			Items:          u.options.Metadata.Items,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initiating upload: %w", err)
	}

	chunkAlgorithm, err := codec.ParseAlgorithm(initiated.DigestAlgorithm)
	if err != nil {
		chunkAlgorithm = u.options.DigestAlgorithm
	}

	current := &target{
		sessionId:      initiated.SessionId,
		chunkSize:      initiated.NegotiatedChunkSize,
		chunkAlgorithm: chunkAlgorithm,
	}

	logging.Logger.Infow("upload initiated",
		"session", current.sessionId,
		"chunkSize", humanize.IBytes(uint64(current.chunkSize)))

	if journalPath != "" {
		err = SaveJournal(journalPath, &Journal{
			SessionId:      current.sessionId,
			BaseUrl:        u.options.BaseUrl,
			Path:           src.path,
			Size:           src.size,
			Digest:         src.digest.String(),
			ChunkSize:      current.chunkSize,
			ChunkAlgorithm: current.chunkAlgorithm.String(),
		})
		if err != nil {
			logging.Logger.Warnw("failed to save journal, the upload cannot be resumed after a restart", "error", err)
		}
	}

	return current, nil
}

func (u *Uploader) name(src *source) string {
	if u.options.Metadata.Name != "" {
		return u.options.Metadata.Name
	}
	return filepath.Base(src.path)
}

// runRound asks the server what is missing, sends it and finalizes.
func (u *Uploader) runRound(ctx context.Context, src *source, current *target) (*wire.Artifact, error) {
	var status *wire.SessionStatus
	err := u.retry(ctx, "status", func() error {
		var err error
		status, err = u.client.status(ctx, current.sessionId)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	switch status.State {
	case "ABORTED":
		return nil, fmt.Errorf("session was aborted: %w", ErrSessionLost)

	case "CREATED", "RECEIVING":
		err = u.sendMissing(ctx, src, current, status.Missing)
		if err != nil {
			return nil, err
		}
	}

	var artifact *wire.Artifact
	err = u.retry(ctx, "finalize", func() error {
		var err error
		artifact, err = u.client.finalize(ctx, current.sessionId, src.digest)
		return err
	})

	var apiErr *ApiError
	if errors.As(err, &apiErr) && (apiErr.Code == wire.CodeRangesIncomplete || apiErr.Code == wire.CodeInvalidState) {
		return nil, fmt.Errorf("%s: %w", apiErr.Message, errIncomplete)
	}
	if err != nil {
		return nil, fmt.Errorf("finalizing: %w", err)
	}

	return artifact, nil
}

// chunkOffsets returns the chunk aligned offsets covering the missing ranges.
func chunkOffsets(missing []wire.Range, chunkSize int64) []int64 {
	var offsets []int64
	last := int64(-1)

	for _, rng := range missing {
		for offset := (rng.Start / chunkSize) * chunkSize; offset < rng.End; offset += chunkSize {
			if offset > last {
				offsets = append(offsets, offset)
				last = offset
			}
		}
	}

	return offsets
}

func (u *Uploader) sendMissing(ctx context.Context, src *source, current *target, missing []wire.Range) error {
	if current.chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", current.chunkSize)
	}

	offsets := chunkOffsets(missing, current.chunkSize)
	if len(offsets) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	work := make(chan int64)
	var sent atomic.Int64
	var wg sync.WaitGroup

	for range min(u.options.Concurrency, len(offsets)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for offset := range work {
				n, err := u.sendChunk(ctx, src, current, offset)
				if err != nil {
					cancel(err)
					return
				}

				total := sent.Add(n)
				logging.Logger.Debugw("chunk sent",
					"session", current.sessionId,
					"offset", offset,
					"progress", fmt.Sprintf("%s / %s", humanize.IBytes(uint64(total)), humanize.IBytes(uint64(src.size))))
			}
		}()
	}

feed:
	for _, offset := range offsets {
		select {
		case work <- offset:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	err := context.Cause(ctx)
	if err != nil {
		return err
	}

	logging.Logger.Infow("chunks sent",
		"session", current.sessionId,
		"chunks", len(offsets),
		"bytes", humanize.IBytes(uint64(sent.Load())))
	return nil
}

func (u *Uploader) sendChunk(ctx context.Context, src *source, current *target, offset int64) (int64, error) {
	length := min(current.chunkSize, src.size-offset)
	payload := make([]byte, length)

	_, err := src.file.ReadAt(payload, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("reading chunk at %d: %w", offset, err)
	}

	frame, err := codec.NewFrame(current.chunkAlgorithm, offset, payload)
	if err != nil {
		return 0, err
	}

	err = u.retry(ctx, fmt.Sprintf("chunk at %d", offset), func() error {
		_, err := u.client.putChunk(ctx, current.sessionId, frame, u.options.Encoding)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sending chunk at %d: %w", offset, err)
	}

	return length, nil
}

// Abort gives up a session explicitly.
func (u *Uploader) Abort(ctx context.Context, sessionId string) error {
	return u.client.abort(ctx, sessionId)
}

func (u *Uploader) retry(ctx context.Context, what string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(u.options.Attempts),
		retry.Delay(u.options.Delay),
		retry.MaxDelay(u.options.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
		retry.OnRetry(func(n uint, err error) {
			logging.Logger.Warnf("%s failed (attempt %d of %d): %s", what, n+1, u.options.Attempts, err)
		}),
	)
}
