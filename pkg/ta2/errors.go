package ta2

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrConnection        = errors.New("ta2: connection error")
	ErrNotConnected      = errors.New("ta2: not connected")
	ErrHandshake         = errors.New("ta2: handshake error")
	ErrHandshakeRequired = errors.New("ta2: hello has not completed")
	ErrSearchTimeout     = errors.New("ta2: search timeout")
	ErrSearchFailed      = errors.New("ta2: search failed")
	ErrScoreFailed       = errors.New("ta2: score failed")
	ErrDescribe          = errors.New("ta2: describe error")
)

// wrapCallError turns a gRPC status into the package taxonomy while keeping the
// original error in the chain.
func wrapCallError(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ta2: %s: %w", method, err)
	}
	switch status.Code(err) {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s: %v", ErrConnection, method, err)
	case codes.Canceled:
		return fmt.Errorf("ta2: %s: %w", method, context.Canceled)
	}
	return fmt.Errorf("ta2: %s: %w", method, err)
}
