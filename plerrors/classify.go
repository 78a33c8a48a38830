package plerrors

import (
	"context"
	"errors"
	"net"

	"github.com/gorilla/websocket"

	"github.com/claude-studio/pairlink/crypto/e2ee"
)

// ClassifyCryptoCode maps an E2EE session error to a stable Code.
func ClassifyCryptoCode(err error) Code {
	switch {
	case errors.Is(err, e2ee.ErrReplayRejected):
		return CodeReplayRejected
	case errors.Is(err, e2ee.ErrInvalidPayload):
		return CodeInvalidFormat
	default:
		return CodeAuthFailed
	}
}

// ClassifyDialCode maps a connection-open error to a stable Code.
func ClassifyDialCode(err error) Code {
	if code, ok := classifyContextCode(err); ok {
		return code
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}
	return CodeConnectFailed
}

// ClassifyReadCode maps a websocket read error to a stable Code.
//
// A clean peer close is still an unexpected close from the endpoint's point of
// view; only local cancellation is distinguished.
func ClassifyReadCode(err error) Code {
	if code, ok := classifyContextCode(err); ok {
		return code
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CodeUnexpectedClose
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}
	return CodeUnexpectedClose
}

// ClassifyWriteCode maps a websocket write error to a stable Code. Writes
// share the read taxonomy: timeout, cancellation, or an unexpected close.
func ClassifyWriteCode(err error) Code {
	return ClassifyReadCode(err)
}

func classifyContextCode(err error) (Code, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, true
	case errors.Is(err, context.Canceled):
		return CodeCanceled, true
	default:
		return "", false
	}
}
