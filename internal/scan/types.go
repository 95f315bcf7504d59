package scan

import (
	"context"
	"image"
	"time"
)

// Facing describes which way a capture device points.
type Facing string

const (
	FacingFront   Facing = "front"
	FacingBack    Facing = "back"
	FacingUnknown Facing = "unknown"
)

// CaptureDevice is an immutable snapshot of one enumerated device.
type CaptureDevice struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"facing"`
}

// Policy decides what the session does after a successful decode.
type Policy int

const (
	// PolicyContinuous keeps scanning and emits every decode.
	PolicyContinuous Policy = iota
	// PolicySingleShot emits the first decode and tears the session down.
	PolicySingleShot
)

func (p Policy) String() string {
	if p == PolicySingleShot {
		return "single_shot"
	}
	return "continuous"
}

// ParsePolicy accepts "continuous", "single_shot" and "single".
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "continuous":
		return PolicyContinuous, true
	case "single_shot", "single", "single-shot":
		return PolicySingleShot, true
	}
	return PolicyContinuous, false
}

// Format names a barcode symbology the decoder may look for.
type Format string

const (
	FormatEAN13   Format = "ean_13"
	FormatEAN8    Format = "ean_8"
	FormatUPCA    Format = "upc_a"
	FormatUPCE    Format = "upc_e"
	FormatCode128 Format = "code_128"
	FormatCode39  Format = "code_39"
)

// Hints is passed through to the decoder untouched.
type Hints struct {
	Formats   []Format
	TryHarder bool
}

// RetailHints returns the common one-dimensional retail formats.
func RetailHints() Hints {
	return Hints{Formats: []Format{FormatEAN13, FormatEAN8, FormatUPCA, FormatUPCE, FormatCode128, FormatCode39}}
}

// Outcome tags a DecodeAttemptResult.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeFound
	OutcomeTransient
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeTransient:
		return "transient_error"
	case OutcomeFatal:
		return "fatal_error"
	}
	return "not_found"
}

// Result is the outcome of one decode attempt. Text and Format are set for
// OutcomeFound, Reason for the two error outcomes.
type Result struct {
	Outcome Outcome
	Text    string
	Format  Format
	Reason  string
}

func Found(text string, format Format) Result {
	return Result{Outcome: OutcomeFound, Text: text, Format: format}
}

func NotFound() Result { return Result{Outcome: OutcomeNotFound} }

func TransientError(reason string) Result {
	return Result{Outcome: OutcomeTransient, Reason: reason}
}

func FatalError(reason string) Result {
	return Result{Outcome: OutcomeFatal, Reason: reason}
}

// TorchCapability is derived from the currently bound device.
type TorchCapability struct {
	Supported bool `json:"supported"`
	On        bool `json:"on"`
}

// Permission is the device-access state reported by the platform.
type Permission int

const (
	PermissionPrompt Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	}
	return "prompt"
}

// Stream is one live device stream. ReadFrame returns an image the caller
// owns; it must return promptly once ctx is done or Close has been called.
// Close stops every underlying track and is safe to call concurrently with
// ReadFrame.
type Stream interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Torch is implemented by streams whose device has a controllable torch.
type Torch interface {
	SetTorch(on bool) error
}

// MediaDevices is the platform media capability.
type MediaDevices interface {
	ListDevices(ctx context.Context) ([]CaptureDevice, error)
	Open(ctx context.Context, deviceID string) (Stream, error)
	QueryPermission(ctx context.Context) (Permission, error)
}

// FrameSource hands the decoder the current frame.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// Decoder is the opaque decode capability.
type Decoder interface {
	AttemptDecode(ctx context.Context, src FrameSource, hints Hints) Result
}

// Sink receives a mirror of the frames read from a bound stream. Frame is
// called without the handle lock held and may arrive just after Detach.
type Sink interface {
	Attach(deviceID string)
	Frame(img image.Image)
	Detach()
}

// Stats summarises a session for instrumentation.
type Stats struct {
	Attempts uint64    `json:"attempts"`
	Results  uint64    `json:"results"`
	Acquires uint64    `json:"acquires"`
	Releases uint64    `json:"releases"`
	DeviceID string    `json:"device_id"`
	OpenedAt time.Time `json:"opened_at"`
}
