// Package wire holds the types and constants shared by the upload server and
// the uploader client.
package wire

import "time"

const (
	PathSession   = "/session"
	PathArtifacts = "/artifacts"
	PathHealth    = "/health"

	// HeaderUploadOffset and HeaderUploadChunkDigest describe a chunk sent as a
	// raw body instead of a frame.
	HeaderUploadOffset      = "Upload-Offset"
	HeaderUploadChunkDigest = "Upload-Chunk-Digest"

	MediaTypeChunkFrame = "application/vnd.upyard.chunk"
	MediaTypeRaw        = "application/octet-stream"
	MediaTypeNdjson     = "application/x-ndjson"
)

func SessionPath(id string) string {
	return PathSession + "/" + id
}

func ChunkPath(id string) string {
	return SessionPath(id) + "/chunk"
}

func FinalizePath(id string) string {
	return SessionPath(id) + "/finalize"
}

func EventsPath(id string) string {
	return SessionPath(id) + "/events"
}

type InitiateRequest struct {
	DeclaredSize   int64    `json:"declared_size" validate:"gte=0"`
	DeclaredDigest string   `json:"declared_digest" validate:"required"`
	ChunkSizeHint  int64    `json:"chunk_size_hint,omitempty" validate:"gte=0"`
	Name           string   `json:"name" validate:"required,max=255"`
	Project        string   `json:"project,omitempty" validate:"max=255"`
	Pipeline       string   `json:"pipeline,omitempty" validate:"max=255"`
	Uploader       string   `json:"uploader,omitempty" validate:"max=255"`
	Items          []string `json:"items,omitempty" validate:"dive,max=1024"`
}

type InitiateResponse struct {
	SessionId           string `json:"session_id"`
	NegotiatedChunkSize int64  `json:"negotiated_chunk_size"`
	DigestAlgorithm     string `json:"digest_algorithm"`
}

type ChunkAck struct {
	Offset    int64 `json:"offset"`
	Length    int64 `json:"length"`
	Duplicate bool  `json:"duplicate"`
	Received  int64 `json:"received"`
}

type FinalizeRequest struct {
	DeclaredDigest *string `json:"declared_digest,omitempty"`
}

type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type SessionStatus struct {
	SessionId      string  `json:"session_id"`
	State          string  `json:"state"`
	DeclaredSize   int64   `json:"declared_size"`
	DeclaredDigest string  `json:"declared_digest"`
	ChunkSize      int64   `json:"chunk_size"`
	Received       []Range `json:"received"`
	Missing        []Range `json:"missing"`
}

type Artifact struct {
	Id          string    `json:"id"`
	SessionId   string    `json:"session_id"`
	Name        string    `json:"name"`
	Digest      string    `json:"digest"`
	Size        int64     `json:"size"`
	Project     string    `json:"project,omitempty"`
	Pipeline    string    `json:"pipeline,omitempty"`
	Uploader    string    `json:"uploader,omitempty"`
	Items       []string  `json:"items,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

type FinalizeResponse struct {
	Artifact Artifact `json:"artifact"`
}

type ArtifactList struct {
	Artifacts []Artifact `json:"artifacts"`
	Total     int        `json:"total"`
}

type Health struct {
	CapacityCeiling int64 `json:"capacity_ceiling"`
	ReservedTotal   int64 `json:"reserved_total"`
	LiveSessions    int   `json:"live_sessions"`
}

const EventTypeStatusChange = "status_change"

type Event struct {
	Type      string `json:"type"`
	SessionId string `json:"session_id,omitempty"`
	Payload   string `json:"payload"`
}
