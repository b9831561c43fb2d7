package serverutils

import (
	"context"
	"errors"
	"net/http"

	"github.com/xphd/d3m-mini-ms/internal/repository/contract"
	"github.com/xphd/d3m-mini-ms/internal/service"
	"github.com/xphd/d3m-mini-ms/pkg/store"
	"github.com/xphd/d3m-mini-ms/pkg/ta2"
)

// Wire error codes shared by the gateway's error events and the HTTP API.
const (
	CodeConnectionError = "CONNECTION_ERROR"
	CodeHandshakeError  = "HANDSHAKE_ERROR"
	CodeSearchTimeout   = "SEARCH_TIMEOUT"
	CodeSearchError     = "SEARCH_ERROR"
	CodeScoreError      = "SCORE_ERROR"
	CodeDescribeError   = "DESCRIBE_ERROR"
	CodeUnknownSolution = "UNKNOWN_SOLUTION"
	CodeInvalidState    = "INVALID_STATE"
	CodeNotFound        = "NOT_FOUND"
	CodeCorruptArtifact = "CORRUPT_ARTIFACT"
	CodeSuperseded      = "SUPERSEDED"
	CodeBadRequest      = "BAD_REQUEST"
	CodeTimeout         = "TIMEOUT"
	CodeInternal        = "INTERNAL"
)

type codeMapping struct {
	err    error
	code   string
	status int
}

// Order matters: an error wrapping several sentinels gets the first match.
var codeMappings = []codeMapping{
	{service.ErrSuperseded, CodeSuperseded, http.StatusConflict},
	{ta2.ErrSearchTimeout, CodeSearchTimeout, http.StatusGatewayTimeout},
	{ta2.ErrConnection, CodeConnectionError, http.StatusBadGateway},
	{ta2.ErrNotConnected, CodeConnectionError, http.StatusServiceUnavailable},
	{ta2.ErrHandshake, CodeHandshakeError, http.StatusBadGateway},
	{ta2.ErrHandshakeRequired, CodeHandshakeError, http.StatusServiceUnavailable},
	{ta2.ErrSearchFailed, CodeSearchError, http.StatusBadGateway},
	{ta2.ErrScoreFailed, CodeScoreError, http.StatusBadGateway},
	{ta2.ErrDescribe, CodeDescribeError, http.StatusBadGateway},
	{store.ErrUnknownSolution, CodeUnknownSolution, http.StatusNotFound},
	{store.ErrInvalidState, CodeInvalidState, http.StatusConflict},
	{service.ErrInvalidTransition, CodeInvalidState, http.StatusConflict},
	{contract.ErrCorruptArtifact, CodeCorruptArtifact, http.StatusUnprocessableEntity},
	{contract.ErrNotFound, CodeNotFound, http.StatusNotFound},
	{contract.ErrInvalidID, CodeBadRequest, http.StatusBadRequest},
	{ErrBadRequest, CodeBadRequest, http.StatusBadRequest},
	{context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
}

// ErrorCode maps err to its wire code, CodeInternal when nothing matches.
func ErrorCode(err error) string {
	for _, m := range codeMappings {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return CodeInternal
}

func StatusCode(err error) int {
	for _, m := range codeMappings {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
