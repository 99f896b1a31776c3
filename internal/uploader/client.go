package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/utils"
	"github.com/the127/upyard/internal/utils/pointer"
	"github.com/the127/upyard/internal/wire"
)

// client speaks the wire protocol. Every method is a single attempt, retries
// happen one level up.
type client struct {
	baseUrl    string
	token      string
	httpClient *http.Client
}

func (c *client) newRequest(ctx context.Context, method string, path string, contentType string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	request, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.baseUrl, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	return request, nil
}

// do sends the request and decodes a JSON response into v when v is not nil.
func (c *client) do(request *http.Request, expectedStatus int, v any) error {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer utils.IgnoreError(response.Body.Close)

	if response.StatusCode != expectedStatus {
		return readApiError(response)
	}

	if v == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}

	err = json.NewDecoder(response.Body).Decode(v)
	if err != nil {
		return fmt.Errorf("decoding %s response: %w", request.URL.Path, err)
	}

	return nil
}

func readApiError(response *http.Response) error {
	apiErr := &ApiError{
		Status: response.StatusCode,
	}

	var body wire.ErrorBody
	err := json.NewDecoder(io.LimitReader(response.Body, 64*1024)).Decode(&body)
	if err == nil && len(body.Errors) > 0 {
		apiErr.Code = body.Errors[0].Code
		apiErr.Message = body.Errors[0].Message
	}

	return apiErr
}

func (c *client) initiate(ctx context.Context, initiateRequest wire.InitiateRequest) (*wire.InitiateResponse, error) {
	body, err := json.Marshal(initiateRequest)
	if err != nil {
		return nil, fmt.Errorf("encoding initiate request: %w", err)
	}

	request, err := c.newRequest(ctx, http.MethodPost, wire.PathSession, "application/json", body)
	if err != nil {
		return nil, err
	}

	var response wire.InitiateResponse
	err = c.do(request, http.StatusCreated, &response)
	if err != nil {
		return nil, err
	}

	return &response, nil
}

func (c *client) status(ctx context.Context, sessionId string) (*wire.SessionStatus, error) {
	request, err := c.newRequest(ctx, http.MethodGet, wire.SessionPath(sessionId), "", nil)
	if err != nil {
		return nil, err
	}

	var response wire.SessionStatus
	err = c.do(request, http.StatusOK, &response)
	if err != nil {
		return nil, err
	}

	return &response, nil
}

func (c *client) putChunk(ctx context.Context, sessionId string, frame *codec.Frame, encoding codec.ContentEncoding) (*wire.ChunkAck, error) {
	var buffer bytes.Buffer
	buffer.Grow(codec.FrameHeaderSize + len(frame.Payload))

	err := codec.EncodeFrame(&buffer, frame)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	body, err := codec.EncodeBytes(buffer.Bytes(), encoding)
	if err != nil {
		return nil, err
	}

	request, err := c.newRequest(ctx, http.MethodPut, wire.ChunkPath(sessionId), wire.MediaTypeChunkFrame, body)
	if err != nil {
		return nil, err
	}

	if encoding.HeaderValue() != "" {
		request.Header.Set("Content-Encoding", encoding.HeaderValue())
	}

	var ack wire.ChunkAck
	err = c.do(request, http.StatusOK, &ack)
	if err != nil {
		return nil, err
	}

	return &ack, nil
}

func (c *client) finalize(ctx context.Context, sessionId string, digest codec.Digest) (*wire.Artifact, error) {
	body, err := json.Marshal(wire.FinalizeRequest{
		DeclaredDigest: pointer.To(digest.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding finalize request: %w", err)
	}

	request, err := c.newRequest(ctx, http.MethodPost, wire.FinalizePath(sessionId), "application/json", body)
	if err != nil {
		return nil, err
	}

	var response wire.FinalizeResponse
	err = c.do(request, http.StatusOK, &response)
	if err != nil {
		return nil, err
	}

	return &response.Artifact, nil
}

func (c *client) abort(ctx context.Context, sessionId string) error {
	request, err := c.newRequest(ctx, http.MethodDelete, wire.SessionPath(sessionId), "", nil)
	if err != nil {
		return err
	}

	return c.do(request, http.StatusNoContent, nil)
}
