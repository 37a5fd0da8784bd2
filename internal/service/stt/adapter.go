// Package stt implements the client side of the streaming speech-to-text protocol:
// connection parameters, inbound message decoding, control frames, credentials and
// the socket transport.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// MessageType distinguishes text (JSON control and result) frames from binary
// (audio) frames.
type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

// Conn is an open streaming socket. Writes may be called from several goroutines;
// ReadMessage must only be called from one.
type Conn interface {
	// WriteMessage sends one frame.
	WriteMessage(t MessageType, data []byte) error

	// ReadMessage blocks for the next frame. When the socket closes it returns a
	// *CloseError describing why.
	ReadMessage() (MessageType, []byte, error)

	// Close performs a best-effort close handshake and releases the socket.
	Close() error
}

// Dialer opens streaming sockets (Deepgram over WebSocket, the in-process
// simulator, etc.).
type Dialer interface {
	// Dial connects to rawURL. A refused or failed handshake is returned as a
	// *CloseError so callers can treat it like a close before open.
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// Close codes used by the transport.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseUnsupportedData = 1003
	CloseAbnormal        = 1006
	CloseInvalidPayload  = 1007
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// CloseError reports why a socket closed or never opened.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("socket closed (code=%d)", e.Code)
	}
	return fmt.Sprintf("socket closed (code=%d reason=%s)", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return e.Err }

// CloseCodeOf extracts the close code and reason from err. Errors that carry no
// close information are reported as an abnormal closure.
func CloseCodeOf(err error) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if err == nil {
		return CloseNormal, ""
	}
	return CloseAbnormal, err.Error()
}

// IsFatalCloseCode reports whether a close code means the request itself was
// rejected, so reconnecting would fail the same way.
func IsFatalCloseCode(code int) bool {
	switch code {
	case CloseProtocolError, CloseUnsupportedData, CloseInvalidPayload, ClosePolicyViolation:
		return true
	default:
		return false
	}
}
