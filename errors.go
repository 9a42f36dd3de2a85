package loom

import (
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
)

var (
	ErrNameInvalid = errors.New("scenegraph: node names must only contain alphanum, dashes, dots, underscores and be less than 128 chars")

	ErrSignalNotFound = errors.New("scenegraph: signal not found")
	ErrMethodNotFound = errors.New("scenegraph: method not found")
	ErrBrokenAlias    = errors.New("scenegraph: alias original is gone")
	ErrNodeNotFound   = errors.New("scenegraph: no node at this path")
	ErrPathTaken      = errors.New("scenegraph: a node already exists at this path")

	ErrAspectTaken   = errors.New("node: aspect slot is already occupied")
	ErrAspectMissing = errors.New("node: required aspect is missing")
	ErrNoMessenger   = errors.New("node: node has no message sender")
	ErrClientGone    = errors.New("node: owning client is gone")

	ErrSpatialCycle = errors.New("spatial: parent chain would contain the spatial itself")

	ErrFieldGone = errors.New("zone: field has been destroyed")

	ErrInvalidCfg   = errors.New("server: invalid options")
	ErrServerClosed = errors.New("server: shutting down")

	ErrNoTLSConfig       = errors.New("transport: TlsConfig is required")
	ErrTooLargeFrame     = errors.New("transport: frame was too large")
	ErrProtocolViolation = errors.New("transport: protocol violation")
	ErrTransportClosed   = errors.New("transport: connection closed")
)

var (
	QErrInternal = QuicApplicationError{
		Code:   0x1,
		Prefix: "internal",
	}
	QErrShutdown = QuicApplicationError{
		Code:   0x2,
		Prefix: "shutdown",
	}
	QErrProtocol = QuicApplicationError{
		Code:   0x3,
		Prefix: "protocol violation",
	}
)

type QuicApplicationError struct {
	Code   uint64
	Prefix string
}

func (qerr *QuicApplicationError) Close(conn quic.Connection, msg string) error {
	if conn != nil {
		return conn.CloseWithError(
			quic.ApplicationErrorCode(qerr.Code),
			fmt.Sprintf("%s: %s", qerr.Prefix, msg),
		)
	}
	return nil
}

// SignalError is a domain failure reported by a signal handler. It is
// surfaced to the caller and fatal to nothing: the node and every other
// in-flight call are untouched.
type SignalError struct {
	Signal  string
	Message string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal %q: %s", e.Signal, e.Message)
}

// MethodError is the request/response counterpart of SignalError.
type MethodError struct {
	Method  string
	Message string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("method %q: %s", e.Method, e.Message)
}
