package uploader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/the127/upyard/internal/codec"
)

// Journal is what a restarted client needs to continue an upload instead of
// starting over.
type Journal struct {
	SessionId      string `cbor:"1,keyasint"`
	BaseUrl        string `cbor:"2,keyasint"`
	Path           string `cbor:"3,keyasint"`
	Size           int64  `cbor:"4,keyasint"`
	Digest         string `cbor:"5,keyasint"`
	ChunkSize      int64  `cbor:"6,keyasint"`
	ChunkAlgorithm string `cbor:"7,keyasint"`
}

func (j *Journal) matches(baseUrl string, path string, size int64, digest codec.Digest) bool {
	return j.BaseUrl == baseUrl && j.Path == path && j.Size == size && j.Digest == digest.String()
}

// JournalPath names the journal of a file by its digest, so renaming the file
// does not lose the session.
func JournalPath(stateDir string, digest codec.Digest) string {
	return filepath.Join(stateDir, strings.ReplaceAll(digest.String(), ":", "-")+".cbor")
}

// LoadJournal returns nil without error when no journal exists.
func LoadJournal(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}

	var journal Journal
	err = cbor.Unmarshal(data, &journal)
	if err != nil {
		return nil, fmt.Errorf("decoding journal %s: %w", path, err)
	}

	return &journal, nil
}

// SaveJournal replaces the journal atomically.
func SaveJournal(path string, journal *Journal) error {
	data, err := cbor.Marshal(journal)
	if err != nil {
		return fmt.Errorf("encoding journal: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp := path + ".tmp"
	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing journal: %w", err)
	}

	return nil
}

func RemoveJournal(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing journal: %w", err)
	}
	return nil
}
