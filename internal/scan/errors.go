package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrorKind classifies failures so callers can show differentiated guidance.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermissionDenied
	KindNoDeviceFound
	KindDeviceBusyOrUnreadable
	KindPlaybackStartFailed
	KindTorchUnsupported
	KindDecoderFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindNoDeviceFound:
		return "no_device_found"
	case KindDeviceBusyOrUnreadable:
		return "device_busy_or_unreadable"
	case KindPlaybackStartFailed:
		return "playback_start_failed"
	case KindTorchUnsupported:
		return "torch_unsupported"
	case KindDecoderFatal:
		return "decoder_fatal"
	}
	return "unknown"
}

// Error is a classified session error. Acquisition failures carry the
// device they happened on.
type Error struct {
	Kind     ErrorKind
	DeviceID string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.DeviceID != "" {
		msg = fmt.Sprintf("%s (device %s)", msg, e.DeviceID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrNoDeviceFound       = &Error{Kind: KindNoDeviceFound}
	ErrDeviceBusy          = &Error{Kind: KindDeviceBusyOrUnreadable}
	ErrPlaybackStartFailed = &Error{Kind: KindPlaybackStartFailed}
	ErrTorchUnsupported    = &Error{Kind: KindTorchUnsupported}
	ErrDecoderFatal        = &Error{Kind: KindDecoderFatal}
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrReleased          = errors.New("capture handle released")
	ErrHandleLive        = errors.New("capture handle already holds a stream")
	ErrLoopRunning       = errors.New("decode loop already running")
)

// NewError wraps err with a kind, keeping an existing classification.
func NewError(kind ErrorKind, deviceID string, err error) *Error {
	return &Error{Kind: kind, DeviceID: deviceID, Err: err}
}

// Classify returns the kind of err. Unclassified platform errors count as a
// busy or unreadable device, which is recoverable by retrying.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, os.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, os.ErrNotExist):
		return KindNoDeviceFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindPlaybackStartFailed
	}
	return KindDeviceBusyOrUnreadable
}

// classified returns err as an *Error, classifying it when needed.
func classified(err error, deviceID string) *Error {
	var se *Error
	if errors.As(err, &se) {
		if se.DeviceID == "" && deviceID != "" {
			return &Error{Kind: se.Kind, DeviceID: deviceID, Err: se.Err}
		}
		return se
	}
	return &Error{Kind: Classify(err), DeviceID: deviceID, Err: err}
}
