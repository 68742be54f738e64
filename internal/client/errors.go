package client

import (
	"errors"
	"fmt"
)

// ErrorKind buckets every failure the client surfaces.
type ErrorKind int

const (
	// KindConnection covers timeouts, abnormal closes and failed
	// handshakes. Always retried until the attempt budget runs out.
	KindConnection ErrorKind = iota
	// KindProtocol covers malformed payloads and protocol-violation
	// closes.
	KindProtocol
	// KindSecurity is an origin rejection by the server.
	KindSecurity
	// KindExhausted means automatic retries have stopped.
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindSecurity:
		return "security"
	case KindExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	// ErrExhausted is wrapped by the error recorded when the attempt
	// budget runs out.
	ErrExhausted = errors.New("reconnect attempts exhausted")
	// ErrForbidden is returned by a Dialer when the server refuses the
	// handshake outright.
	ErrForbidden = errors.New("handshake refused")
	// ErrHandshakeTimeout is recorded when a connect attempt is aborted
	// for taking too long.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// Error is a classified client failure.
type Error struct {
	Kind ErrorKind
	// Code is the close code for failures caused by a close frame, else 0.
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (close %d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CloseError is returned by Conn.ReadMessage when the transport closes.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("closed with code %d", e.Code)
	}
	return fmt.Sprintf("closed with code %d: %s", e.Code, e.Reason)
}

// Close codes with defined meaning for the client.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseUnsupported   = 1003
	CloseAbnormal      = 1006
	CloseInternalError = 1011
)

// CloseClass is how a close code is treated.
type CloseClass int

const (
	CloseClean CloseClass = iota
	CloseAbnormalClass
	CloseProtocolClass
	CloseServerClass
	CloseConnectionLost
)

func (c CloseClass) String() string {
	switch c {
	case CloseClean:
		return "clean"
	case CloseAbnormalClass:
		return "abnormal"
	case CloseProtocolClass:
		return "protocol"
	case CloseServerClass:
		return "server"
	default:
		return "connection lost"
	}
}

// ClassifyClose maps a close code to its class. Only a clean close is not
// retried.
func ClassifyClose(code int) (class CloseClass, retry bool) {
	switch code {
	case CloseNormal:
		return CloseClean, false
	case CloseAbnormal:
		return CloseAbnormalClass, true
	case CloseUnsupported:
		return CloseProtocolClass, true
	case CloseInternalError:
		return CloseServerClass, true
	default:
		return CloseConnectionLost, true
	}
}

// classify wraps a transport failure into an *Error.
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, ErrForbidden) {
		return &Error{Kind: KindSecurity, Err: err}
	}
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		kind := KindConnection
		if class, _ := ClassifyClose(closeErr.Code); class == CloseProtocolClass {
			kind = KindProtocol
		}
		return &Error{Kind: kind, Code: closeErr.Code, Err: err}
	}
	return &Error{Kind: KindConnection, Err: err}
}
