package uploadhandlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/The127/ioc"
	"github.com/The127/mediatr"
	"github.com/gorilla/mux"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/commands"
	"github.com/the127/upyard/internal/handlers"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/utils/apiError"
	"github.com/the127/upyard/internal/wire"
)

// compressed bodies of incompressible data come out slightly larger
const bodySlack = 64 * 1024

func PutChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionId := vars["session"]

	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	mediator := ioc.GetDependency[mediatr.Mediator](scope)
	sessionRegistry := ioc.GetDependency[*registry.Registry](scope)

	chunk, err := readChunk(w, r, sessionRegistry.MaxChunkSize())
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	ack, err := mediatr.Send[*commands.PutChunkResponse](ctx, mediator, commands.PutChunk{
		SessionId: sessionId,
		Offset:    chunk.Offset,
		Digest:    chunk.Digest,
		Payload:   chunk.Payload,
	})
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	w.Header().Set(wire.HeaderUploadOffset, strconv.FormatInt(ack.Offset+ack.Length, 10))
	handlers.WriteJson(w, http.StatusOK, wire.ChunkAck{
		Offset:    ack.Offset,
		Length:    ack.Length,
		Duplicate: ack.Duplicate,
		Received:  ack.Received,
	})
}

// readChunk accepts either a frame or a raw payload described by the
// Upload-Offset and Upload-Chunk-Digest headers. Content-Encoding applies to
// the whole body.
func readChunk(w http.ResponseWriter, r *http.Request, maxChunkSize int64) (*codec.Frame, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("content type: %s: %w", err.Error(), apiError.ErrApiUnsupportedMediaType)
	}

	encoding, err := codec.ParseContentEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), apiError.ErrApiUnsupportedMediaType)
	}

	body := http.MaxBytesReader(w, r.Body, maxChunkSize+codec.FrameHeaderSize+maxChunkSize/8+bodySlack)

	decoded, closeDecoder, err := codec.WrapReader(body, encoding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), apiError.ErrApiBadRequest)
	}
	defer closeDecoder()

	switch mediaType {
	case wire.MediaTypeChunkFrame:
		return readFrame(decoded, maxChunkSize)

	case wire.MediaTypeRaw:
		return readRaw(r, decoded, maxChunkSize)

	default:
		return nil, fmt.Errorf("expected %s or %s, got %s: %w", wire.MediaTypeChunkFrame, wire.MediaTypeRaw, mediaType, apiError.ErrApiUnsupportedMediaType)
	}
}

func readFrame(r io.Reader, maxChunkSize int64) (*codec.Frame, error) {
	frame, err := codec.DecodeFrame(r, maxChunkSize)
	if err != nil {
		return nil, classifyBodyError(err)
	}

	return frame, nil
}

func readRaw(r *http.Request, body io.Reader, maxChunkSize int64) (*codec.Frame, error) {
	offsetHeader := r.Header.Get(wire.HeaderUploadOffset)
	offset, err := strconv.ParseInt(offsetHeader, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s header %q: %w", wire.HeaderUploadOffset, offsetHeader, apiError.ErrApiBadRequest)
	}

	digest, err := codec.ParseDigest(r.Header.Get(wire.HeaderUploadChunkDigest))
	if err != nil {
		return nil, fmt.Errorf("invalid %s header: %s: %w", wire.HeaderUploadChunkDigest, err.Error(), apiError.ErrApiBadRequest)
	}

	payload, err := io.ReadAll(io.LimitReader(body, maxChunkSize+1))
	if err != nil {
		return nil, classifyBodyError(err)
	}

	if int64(len(payload)) > maxChunkSize {
		return nil, fmt.Errorf("chunk body exceeds %d bytes: %w", maxChunkSize, apiError.ErrApiChunkTooLarge)
	}

	return &codec.Frame{
		Offset:  offset,
		Digest:  digest,
		Payload: payload,
	}, nil
}

func classifyBodyError(err error) error {
	var maxBytesError *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesError), errors.Is(err, codec.ErrFrameTooLarge):
		return fmt.Errorf("%s: %w", err.Error(), apiError.ErrApiChunkTooLarge)

	case errors.Is(err, codec.ErrBadMagic),
		errors.Is(err, codec.ErrUnsupportedVersion),
		errors.Is(err, codec.ErrUnknownAlgorithm),
		errors.Is(err, codec.ErrTruncated),
		errors.Is(err, codec.ErrTrailingData):
		return fmt.Errorf("%s: %w", err.Error(), apiError.ErrApiBadRequest)

	default:
		// decompression failures surface here as well
		return fmt.Errorf("reading chunk body: %s: %w", err.Error(), apiError.ErrApiBadRequest)
	}
}

