package wire

type ErrorCode string

const (
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeUnsupported         ErrorCode = "UNSUPPORTED"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeDenied              ErrorCode = "DENIED"
	CodeInsufficientSpace   ErrorCode = "INSUFFICIENT_SPACE"
	CodeChunkConflict       ErrorCode = "CHUNK_CONFLICT"
	CodeOutOfBounds         ErrorCode = "OUT_OF_BOUNDS"
	CodeChunkDigestMismatch ErrorCode = "CHUNK_DIGEST_MISMATCH"
	CodeChunkTooLarge       ErrorCode = "CHUNK_TOO_LARGE"
	CodeRangesIncomplete    ErrorCode = "RANGES_INCOMPLETE"
	CodeIntegrityError      ErrorCode = "INTEGRITY_ERROR"
	CodeSessionUnknown      ErrorCode = "SESSION_UNKNOWN"
	CodeSessionTerminal     ErrorCode = "SESSION_TERMINAL"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidState        ErrorCode = "INVALID_STATE"
	CodeInternal            ErrorCode = "INTERNAL"
)

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

type ErrorBody struct {
	Errors []Error `json:"errors"`
}
