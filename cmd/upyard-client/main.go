package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/uploader"
)

const (
	exitFailure   = 1
	exitUsage     = 2
	exitIntegrity = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("upyard-client", pflag.ContinueOnError)
	flags.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "usage: upyard-client [flags] FILE\n\n%s", flags.FlagUsages())
	}

	baseUrl := flags.String("url", os.Getenv("UPYARD_URL"), "base url of the upyard server")
	token := flags.String("token", os.Getenv("UPYARD_TOKEN"), "bearer token")
	name := flags.String("name", "", "artifact name, defaults to the file name")
	project := flags.String("project", "", "project the artifact belongs to")
	pipeline := flags.String("pipeline", "", "pipeline that produced the artifact")
	uploaderName := flags.String("uploader", "", "who uploads the artifact")
	items := flags.StringSlice("item", nil, "item contained in the artifact, repeatable")
	chunkSize := flags.String("chunk-size", "", "preferred chunk size, e.g. 16MiB")
	encoding := flags.String("encoding", "identity", "chunk content encoding (identity, zstd or lz4)")
	digestAlgorithm := flags.String("digest", "sha256", "whole file digest algorithm (sha256 or blake3)")
	concurrency := flags.Int("concurrency", 4, "chunks in flight at once")
	attempts := flags.Uint("attempts", 7, "attempts per request")
	delay := flags.Duration("delay", time.Second, "initial retry delay")
	maxDelay := flags.Duration("max-delay", time.Minute, "maximum retry delay")
	rounds := flags.Int("rounds", 5, "resume rounds before giving up")
	stateDir := flags.String("state-dir", defaultStateDir(), "directory for resume journals, empty disables resuming")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return exitUsage
	}

	if flags.NArg() != 1 || *baseUrl == "" {
		flags.Usage()
		return exitUsage
	}

	logging.Init()
	defer logging.Sync()

	options := uploader.Options{
		BaseUrl: *baseUrl,
		Token:   *token,
		Metadata: uploader.Metadata{
			Name:     *name,
			Project:  *project,
			Pipeline: *pipeline,
			Uploader: *uploaderName,
			Items:    *items,
		},
		Concurrency: *concurrency,
		Attempts:    *attempts,
		Delay:       *delay,
		MaxDelay:    *maxDelay,
		MaxRounds:   *rounds,
		StateDir:    *stateDir,
	}

	if *chunkSize != "" {
		size, err := humanize.ParseBytes(*chunkSize)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "invalid --chunk-size: %s\n", err)
			return exitUsage
		}
		options.ChunkSizeHint = int64(size)
	}

	options.Encoding, err = codec.ParseContentEncoding(*encoding)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid --encoding: %s\n", err)
		return exitUsage
	}

	options.DigestAlgorithm, err = codec.ParseAlgorithm(*digestAlgorithm)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid --digest: %s\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifact, err := uploader.New(options).Upload(ctx, flags.Arg(0))
	if err != nil {
		logging.Logger.Errorf("upload failed: %s", err)
		if errors.Is(err, uploader.ErrIntegrity) {
			return exitIntegrity
		}
		return exitFailure
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(artifact)
	if err != nil {
		logging.Logger.Errorf("failed to print artifact: %s", err)
		return exitFailure
	}

	return 0
}

func defaultStateDir() string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(cacheDir, "upyard")
}
