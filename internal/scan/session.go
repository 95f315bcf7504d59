package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

const defaultProcessingHold = time.Second

// Listener receives session output. Methods are called synchronously on the
// session's serialized path: they must return quickly and must not call back
// into the Session, except for State and ID.
type Listener interface {
	OnResult(res Result)
	OnStateChange(st State)
	OnError(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Result      func(Result)
	StateChange func(State)
	Error       func(error)
}

func (f ListenerFuncs) OnResult(res Result) {
	if f.Result != nil {
		f.Result(res)
	}
}

func (f ListenerFuncs) OnStateChange(st State) {
	if f.StateChange != nil {
		f.StateChange(st)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Options parameterise a Session.
type Options struct {
	Policy            Policy
	RetryInterval     time.Duration
	ReadyTimeout      time.Duration
	ProcessingHold    time.Duration
	Hints             Hints
	PreferredDeviceID string
	Sink              Sink
}

// Session is the acquisition-session state machine. Transitions are its
// only mutation path and each one is taken under mu. Every asynchronous
// step runs with the context of the operation that started it; starting a
// new operation, failing or closing cancels that context and bumps gen, so
// results of superseded steps are dropped.
type Session struct {
	id       string
	opts     Options
	logger   *slog.Logger
	listener Listener

	perms    *PermissionNegotiator
	registry *DeviceRegistry
	handle   *CaptureHandle
	loop     *DecodeLoop

	base        context.Context
	stopDispose func() bool

	mu       sync.Mutex
	state    State
	gen      uint64
	cancel   context.CancelFunc
	devices  []CaptureDevice
	deviceID string
	hold     *time.Timer
	results  uint64
	openedAt time.Time

	snapshot atomic.Value
}

// NewSession builds an Idle session. Cancelling ctx disposes of the session
// exactly like Close.
func NewSession(ctx context.Context, media MediaDevices, decoder Decoder, listener Listener, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}
	if opts.ProcessingHold <= 0 {
		opts.ProcessingHold = defaultProcessingHold
	}
	if len(opts.Hints.Formats) == 0 {
		opts.Hints.Formats = RetailHints().Formats
	}

	id := xid.New().String()
	logger = logger.With("session_id", id, "policy", opts.Policy.String())
	s := &Session{
		id:       id,
		opts:     opts,
		logger:   logger,
		listener: listener,
		perms:    NewPermissionNegotiator(media, logger),
		registry: NewDeviceRegistry(media, logger),
		handle:   NewCaptureHandle(media, opts.Sink, opts.ReadyTimeout, logger),
		loop:     NewDecodeLoop(decoder, opts.Policy, opts.RetryInterval, opts.Hints, logger),
		base:     ctx,
		state:    State{Kind: StateIdle},
	}
	s.snapshot.Store(s.state)
	// An already cancelled ctx runs Close at once; it waits for mu.
	s.mu.Lock()
	s.stopDispose = context.AfterFunc(ctx, s.Close)
	s.mu.Unlock()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Policy() Policy { return s.opts.Policy }

// State is safe to call from a Listener.
func (s *Session) State() State { return s.snapshot.Load().(State) }

// Open starts permission negotiation. Valid only from Idle.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateIdle {
		return fmt.Errorf("%w: open from %s", ErrInvalidTransition, s.state.Kind)
	}
	s.openedAt = time.Now()
	return s.beginLocked()
}

// RetryPermission re-runs negotiation after a denial.
func (s *Session) RetryPermission() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StatePermissionDenied {
		return fmt.Errorf("%w: retry permission from %s", ErrInvalidTransition, s.state.Kind)
	}
	return s.beginLocked()
}

// Retry re-runs the whole open sequence after an error.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateError {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, s.state.Kind)
	}
	return s.beginLocked()
}

func (s *Session) beginLocked() error {
	if err := s.transitionLocked(State{Kind: StateRequestingPermission}); err != nil {
		return err
	}
	ctx, gen := s.newTokenLocked()
	go s.negotiate(ctx, gen)
	return nil
}

// Close tears the session down. When it returns the capture handle has been
// released, the decode loop cancelled and the state is Closed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind == StateClosed {
		return
	}
	s.teardownLocked()
	_ = s.transitionLocked(State{Kind: StateClosed})
	s.stopDispose()
}

// SwitchDevice rebinds to the cyclic successor of the current device. With
// a single known device it is a no-op.
func (s *Session) SwitchDevice() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateScanning {
		return fmt.Errorf("%w: switch device from %s", ErrInvalidTransition, s.state.Kind)
	}
	if len(s.devices) <= 1 {
		return nil
	}
	return s.switchLocked(func(prev string, devices []CaptureDevice) string {
		return NextDevice(prev, devices)
	})
}

// SelectDevice rebinds to a specific device from the current snapshot.
func (s *Session) SelectDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateScanning {
		return fmt.Errorf("%w: select device from %s", ErrInvalidTransition, s.state.Kind)
	}
	if deviceID == s.deviceID {
		return nil
	}
	if !containsDevice(s.devices, deviceID) {
		return NewError(KindNoDeviceFound, deviceID, nil)
	}
	return s.switchLocked(func(prev string, devices []CaptureDevice) string {
		if containsDevice(devices, deviceID) {
			return deviceID
		}
		return NextDevice(prev, devices)
	})
}

func (s *Session) switchLocked(pick func(prev string, devices []CaptureDevice) string) error {
	prev := s.deviceID
	s.teardownLocked()
	if err := s.transitionLocked(State{Kind: StateAcquiring}); err != nil {
		return err
	}
	ctx, gen := s.newTokenLocked()
	go s.reacquire(ctx, gen, prev, pick)
	return nil
}

// ToggleTorch flips the torch of the bound device. The state does not
// change; a device without a torch reports Supported false.
func (s *Session) ToggleTorch() (TorchCapability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateScanning {
		return TorchCapability{}, fmt.Errorf("%w: toggle torch from %s", ErrInvalidTransition, s.state.Kind)
	}
	capab, err := s.handle.SetTorch(!s.handle.Torch().On)
	if err != nil {
		s.logger.Warn("torch toggle failed", "device_id", s.deviceID, "error", err)
		return capab, err
	}
	if !capab.Supported {
		s.logger.Debug("torch unsupported", "device_id", s.deviceID)
	}
	return capab, nil
}

func (s *Session) Torch() TorchCapability { return s.handle.Torch() }

// Devices returns the snapshot taken at open or at the last switch.
func (s *Session) Devices() []CaptureDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CaptureDevice, len(s.devices))
	copy(out, s.devices)
	return out
}

// DeviceID is the currently selected device, empty before the first bind.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	acquires, releases := s.handle.Counts()
	return Stats{
		Attempts: s.loop.Attempts(),
		Results:  s.results,
		Acquires: acquires,
		Releases: releases,
		DeviceID: s.deviceID,
		OpenedAt: s.openedAt,
	}
}

func (s *Session) negotiate(ctx context.Context, gen uint64) {
	defer s.recoverLog("negotiate")

	err := s.perms.Resolve(ctx)
	var devices []CaptureDevice
	if err == nil {
		devices, err = s.registry.ListDevices(ctx)
	}
	deviceID, ok := s.negotiated(ctx, gen, devices, err)
	if ok {
		s.acquire(ctx, gen, deviceID)
	}
}

func (s *Session) negotiated(ctx context.Context, gen uint64, devices []CaptureDevice, err error) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || ctx.Err() != nil {
		return "", false
	}
	if errors.Is(err, ErrPermissionDenied) {
		denied := classified(err, "")
		_ = s.transitionLocked(State{Kind: StatePermissionDenied, Err: denied})
		s.notify(func() { s.listener.OnError(denied) })
		return "", false
	}
	if err != nil {
		s.failLocked(classified(err, ""))
		return "", false
	}
	if len(devices) == 0 {
		s.failLocked(ErrNoDeviceFound)
		return "", false
	}
	s.devices = devices
	deviceID := s.pickLocked(devices)
	if err := s.transitionLocked(State{Kind: StateAcquiring}); err != nil {
		return "", false
	}
	return deviceID, true
}

func (s *Session) reacquire(ctx context.Context, gen uint64, prev string, pick func(string, []CaptureDevice) string) {
	defer s.recoverLog("reacquire")

	devices, err := s.registry.ListDevices(ctx)
	deviceID, ok := s.reenumerated(ctx, gen, prev, devices, err, pick)
	if ok {
		s.acquire(ctx, gen, deviceID)
	}
}

func (s *Session) reenumerated(ctx context.Context, gen uint64, prev string, devices []CaptureDevice, err error, pick func(string, []CaptureDevice) string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || ctx.Err() != nil {
		return "", false
	}
	if err != nil {
		s.failLocked(classified(err, ""))
		return "", false
	}
	if len(devices) == 0 {
		s.failLocked(ErrNoDeviceFound)
		return "", false
	}
	s.devices = devices
	deviceID := pick(prev, devices)
	if !containsDevice(devices, deviceID) {
		deviceID = s.pickLocked(devices)
	}
	return deviceID, true
}

func (s *Session) acquire(ctx context.Context, gen uint64, deviceID string) {
	err := s.handle.Acquire(ctx, deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Whoever superseded this acquisition cancelled ctx and then called
	// Release, which waited for Acquire to finish; nothing is left to free.
	if gen != s.gen || ctx.Err() != nil {
		return
	}
	if err != nil {
		s.failLocked(classified(err, deviceID))
		return
	}
	s.deviceID = deviceID
	if err := s.transitionLocked(State{Kind: StateScanning}); err != nil {
		return
	}
	err = s.loop.Start(ctx, s.handle,
		func(res Result) { s.onFound(gen, res) },
		func(err error) { s.onFatal(gen, err) },
	)
	if err != nil {
		s.failLocked(classified(err, deviceID))
	}
}

func (s *Session) onFound(gen uint64, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state.Kind != StateScanning {
		return
	}
	s.results++
	s.logger.Info("barcode decoded", "device_id", s.deviceID, "format", res.Format)
	s.notify(func() { s.listener.OnResult(res) })

	if s.opts.Policy != PolicySingleShot {
		return
	}
	s.loop.Cancel()
	if err := s.transitionLocked(State{Kind: StateProcessing}); err != nil {
		return
	}
	s.hold = time.AfterFunc(s.opts.ProcessingHold, func() { s.finishProcessing(gen) })
}

func (s *Session) finishProcessing(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state.Kind != StateProcessing {
		return
	}
	s.hold = nil
	s.teardownLocked()
	_ = s.transitionLocked(State{Kind: StateClosed})
	s.stopDispose()
}

func (s *Session) onFatal(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state.Kind != StateScanning {
		return
	}
	s.failLocked(classified(err, s.deviceID))
}

// failLocked runs the same release sequence as Close and moves to Error.
func (s *Session) failLocked(e *Error) {
	s.teardownLocked()
	if err := s.transitionLocked(State{Kind: StateError, Err: e}); err != nil {
		return
	}
	s.logger.Error("session failed", "kind", e.Kind.String(), "error", e)
	s.notify(func() { s.listener.OnError(e) })
}

func (s *Session) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.loop.Cancel()
	if s.hold != nil {
		s.hold.Stop()
		s.hold = nil
	}
	s.handle.Release()
}

func (s *Session) newTokenLocked() (context.Context, uint64) {
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	ctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	return ctx, s.gen
}

func (s *Session) pickLocked(devices []CaptureDevice) string {
	if s.opts.PreferredDeviceID != "" && containsDevice(devices, s.opts.PreferredDeviceID) {
		return s.opts.PreferredDeviceID
	}
	id, _ := PickDefault(devices)
	return id
}

func (s *Session) transitionLocked(next State) error {
	prev := s.state
	if !canTransition(prev.Kind, next.Kind) {
		s.logger.Error("invalid transition", "from", prev.Kind.String(), "to", next.Kind.String())
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Kind, next.Kind)
	}
	s.state = next
	s.snapshot.Store(next)
	s.logger.Debug("session state transition", "from", prev.String(), "to", next.String())
	s.notify(func() { s.listener.OnStateChange(next) })
	return nil
}

func (s *Session) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listener panic", "error", r)
		}
	}()
	fn()
}

func (s *Session) recoverLog(where string) {
	if r := recover(); r != nil {
		s.logger.Error("session goroutine panic", "where", where, "error", r)
	}
}
