package scan

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultReadyTimeout = 5 * time.Second

// CaptureHandle owns at most one live stream and the sink bound to it.
// Acquisitions are sequenced: a second Acquire waits until the first has
// either stored its stream or released it.
type CaptureHandle struct {
	media        MediaDevices
	sink         Sink
	readyTimeout time.Duration
	logger       *slog.Logger

	acq sync.Mutex

	mu       sync.Mutex
	stream   Stream
	deviceID string
	torch    TorchCapability

	acquires atomic.Uint64
	releases atomic.Uint64
}

// NewCaptureHandle returns an unbound handle. sink may be nil.
func NewCaptureHandle(media MediaDevices, sink Sink, readyTimeout time.Duration, logger *slog.Logger) *CaptureHandle {
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureHandle{media: media, sink: sink, readyTimeout: readyTimeout, logger: logger}
}

// Acquire opens deviceID, waits for the first frame and binds the sink. If
// ctx is cancelled at any point the partially acquired stream is closed
// before Acquire returns ctx.Err(). Failures come back as *Error.
func (h *CaptureHandle) Acquire(ctx context.Context, deviceID string) error {
	h.acq.Lock()
	defer h.acq.Unlock()

	if h.Live() {
		return ErrHandleLive
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stream, err := h.media.Open(ctx, deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classified(err, deviceID)
	}
	h.acquires.Add(1)

	first, err := h.awaitFirstFrame(ctx, stream, deviceID)
	if err != nil {
		h.closeStream(stream, deviceID)
		return err
	}

	h.mu.Lock()
	if err := ctx.Err(); err != nil {
		h.mu.Unlock()
		h.closeStream(stream, deviceID)
		return err
	}
	h.stream = stream
	h.deviceID = deviceID
	_, ok := stream.(Torch)
	h.torch = TorchCapability{Supported: ok}
	if h.sink != nil {
		h.sink.Attach(deviceID)
	}
	h.mu.Unlock()
	if h.sink != nil {
		h.sink.Frame(first)
	}

	h.logger.Info("capture acquired", "device_id", deviceID, "torch", ok)
	return nil
}

func (h *CaptureHandle) awaitFirstFrame(ctx context.Context, stream Stream, deviceID string) (image.Image, error) {
	rctx, cancel := context.WithTimeout(ctx, h.readyTimeout)
	defer cancel()

	img, err := stream.ReadFrame(rctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewError(KindPlaybackStartFailed, deviceID, err)
	}
	return img, nil
}

// Release stops the bound stream and detaches the sink. Releasing an
// unbound handle is a no-op. An Acquire in flight is waited for, so the
// caller should cancel its context first.
func (h *CaptureHandle) Release() {
	h.acq.Lock()
	defer h.acq.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stream == nil {
		return
	}
	stream, deviceID := h.stream, h.deviceID
	h.stream = nil
	h.deviceID = ""
	h.torch = TorchCapability{}
	if h.sink != nil {
		h.sink.Detach()
	}
	h.closeStream(stream, deviceID)
}

func (h *CaptureHandle) closeStream(stream Stream, deviceID string) {
	if err := stream.Close(); err != nil {
		h.logger.Warn("capture close failed", "device_id", deviceID, "error", err)
	}
	h.releases.Add(1)
	h.logger.Info("capture released", "device_id", deviceID)
}

// Frame reads the next frame of the bound stream and mirrors it to the sink.
func (h *CaptureHandle) Frame(ctx context.Context) (image.Image, error) {
	h.mu.Lock()
	stream := h.stream
	h.mu.Unlock()
	if stream == nil {
		return nil, ErrReleased
	}

	img, err := stream.ReadFrame(ctx)

	h.mu.Lock()
	current := h.stream == stream
	h.mu.Unlock()
	if !current {
		return nil, ErrReleased
	}
	if err != nil {
		return nil, err
	}
	// The sink runs outside mu so a slow sink cannot hold up Release. A
	// frame may therefore reach the sink just after Detach.
	if h.sink != nil {
		h.sink.Frame(img)
	}
	return img, nil
}

// SetTorch switches the torch of the bound device. A device without a torch
// is not an error: the returned capability reports Supported false.
func (h *CaptureHandle) SetTorch(on bool) (TorchCapability, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stream == nil {
		return TorchCapability{}, ErrReleased
	}
	t, ok := h.stream.(Torch)
	if !ok {
		return TorchCapability{}, nil
	}
	if err := t.SetTorch(on); err != nil {
		return h.torch, NewError(KindDeviceBusyOrUnreadable, h.deviceID, err)
	}
	h.torch.On = on
	return h.torch, nil
}

func (h *CaptureHandle) Torch() TorchCapability {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.torch
}

func (h *CaptureHandle) DeviceID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deviceID
}

func (h *CaptureHandle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stream != nil
}

// Counts returns how many streams were opened and closed so far.
func (h *CaptureHandle) Counts() (acquires, releases uint64) {
	return h.acquires.Load(), h.releases.Load()
}
