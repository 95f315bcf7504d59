// Package scantest provides in-memory media and decoder doubles for
// exercising scan sessions without a camera.
package scantest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"BarcodeScanner/internal/scan"
)

// Frame is a small opaque test frame.
func Frame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Black)
	return img
}

// TaggedFrame is a frame that remembers which device produced it.
type TaggedFrame struct {
	*image.RGBA
	DeviceID string
}

// Media is a scriptable scan.MediaDevices. NewMedia starts it with a granted
// permission.
type Media struct {
	mu         sync.Mutex
	devices    []scan.CaptureDevice
	permission scan.Permission
	queryErr   error
	listErr    error
	openErr    map[string]error
	noFrames   map[string]bool
	torch      map[string]bool
	torchErr   error
	openGate   chan struct{}
	openLog    []string
	closeLog   []string
	live       map[*Stream]struct{}
	maxLive    int

	opens  atomic.Int64
	closes atomic.Int64
}

func NewMedia(devices ...scan.CaptureDevice) *Media {
	return &Media{
		devices:    devices,
		permission: scan.PermissionGranted,
		openErr:    map[string]error{},
		noFrames:   map[string]bool{},
		torch:      map[string]bool{},
		live:       map[*Stream]struct{}{},
	}
}

func (m *Media) SetDevices(devices ...scan.CaptureDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
}

func (m *Media) SetPermission(p scan.Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permission = p
}

func (m *Media) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

func (m *Media) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailOpen makes Open of deviceID fail with err. A nil err clears it.
func (m *Media) FailOpen(deviceID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.openErr, deviceID)
		return
	}
	m.openErr[deviceID] = err
}

// Stall makes streams of deviceID never deliver a frame.
func (m *Media) Stall(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noFrames[deviceID] = true
}

// WithTorch gives streams of deviceID a torch.
func (m *Media) WithTorch(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.torch[deviceID] = true
}

func (m *Media) SetTorchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.torchErr = err
}

// GateOpen makes every following Open block until the returned channel is
// closed or the Open context is done.
func (m *Media) GateOpen() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openGate = make(chan struct{})
	return m.openGate
}

func (m *Media) ListDevices(ctx context.Context) ([]scan.CaptureDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]scan.CaptureDevice, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

func (m *Media) QueryPermission(ctx context.Context) (scan.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission, m.queryErr
}

func (m *Media) Open(ctx context.Context, deviceID string) (scan.Stream, error) {
	m.mu.Lock()
	gate := m.openGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLog = append(m.openLog, deviceID)
	if m.permission == scan.PermissionDenied {
		return nil, scan.NewError(scan.KindPermissionDenied, deviceID, nil)
	}
	if err, ok := m.openErr[deviceID]; ok {
		return nil, err
	}
	if !m.knownLocked(deviceID) {
		return nil, scan.NewError(scan.KindNoDeviceFound, deviceID, nil)
	}
	m.opens.Add(1)
	s := &Stream{media: m, deviceID: deviceID, stall: m.noFrames[deviceID], closed: make(chan struct{})}
	m.live[s] = struct{}{}
	if len(m.live) > m.maxLive {
		m.maxLive = len(m.live)
	}
	if m.torch[deviceID] {
		return &TorchStream{Stream: s}, nil
	}
	return s, nil
}

func (m *Media) knownLocked(deviceID string) bool {
	for _, d := range m.devices {
		if d.ID == deviceID {
			return true
		}
	}
	return false
}

func (m *Media) closed(s *Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes.Add(1)
	m.closeLog = append(m.closeLog, s.deviceID)
	delete(m.live, s)
}

// Opens and Closes count successfully opened and closed streams.
func (m *Media) Opens() int64  { return m.opens.Load() }
func (m *Media) Closes() int64 { return m.closes.Load() }

// Live is the number of streams currently open.
func (m *Media) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// MaxLive is the largest number of streams that were open at the same time.
func (m *Media) MaxLive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxLive
}

// OpenLog lists every Open call's device id in order, failed ones included.
func (m *Media) OpenLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.openLog...)
}

func (m *Media) CloseLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closeLog...)
}

// Stream is the fake stream handed out by Media.
type Stream struct {
	media    *Media
	deviceID string
	stall    bool

	once   sync.Once
	closed chan struct{}
}

var ErrStreamClosed = errors.New("scantest: stream closed")

func (s *Stream) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	default:
	}
	if s.stall {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, ErrStreamClosed
		}
	}
	return &TaggedFrame{RGBA: Frame().(*image.RGBA), DeviceID: s.deviceID}, nil
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.media.closed(s)
	})
	return nil
}

func (s *Stream) DeviceID() string { return s.deviceID }

// TorchStream is a Stream whose device has a torch.
type TorchStream struct {
	*Stream
	on atomic.Bool
}

func (t *TorchStream) SetTorch(on bool) error {
	t.media.mu.Lock()
	err := t.media.torchErr
	t.media.mu.Unlock()
	if err != nil {
		return err
	}
	t.on.Store(on)
	return nil
}

func (t *TorchStream) On() bool { return t.on.Load() }

// Decoder replays scripted results. Once the script is exhausted it keeps
// returning Then, NotFound by default. With Echo set, every tagged frame
// decodes to the id of the device it came from.
type Decoder struct {
	Then scan.Result
	Echo bool

	mu     sync.Mutex
	script []scan.Result
	block  chan struct{}
	calls  atomic.Int64
	frames atomic.Int64
}

func NewDecoder(script ...scan.Result) *Decoder {
	return &Decoder{script: script}
}

// Block makes every following attempt wait until the returned channel is
// closed or the attempt context is done.
func (d *Decoder) Block() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.block = make(chan struct{})
	return d.block
}

func (d *Decoder) Push(results ...scan.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, results...)
}

func (d *Decoder) AttemptDecode(ctx context.Context, src scan.FrameSource, hints scan.Hints) scan.Result {
	d.calls.Add(1)
	d.mu.Lock()
	block := d.block
	d.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return scan.NotFound()
		}
	}

	img, err := src.Frame(ctx)
	if err != nil {
		if errors.Is(err, scan.ErrReleased) {
			return scan.FatalError(err.Error())
		}
		return scan.TransientError(err.Error())
	}
	d.frames.Add(1)
	if tf, ok := img.(*TaggedFrame); ok && d.Echo {
		return scan.Found(tf.DeviceID, scan.FormatCode128)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.script) == 0 {
		return d.Then
	}
	res := d.script[0]
	d.script = d.script[1:]
	return res
}

func (d *Decoder) Calls() int64 { return d.calls.Load() }

// Frames counts attempts that got a frame from their source.
func (d *Decoder) Frames() int64 { return d.frames.Load() }

// Recorder is a scan.Listener that records everything it is told.
type Recorder struct {
	mu      sync.Mutex
	results []scan.Result
	states  []scan.State
	errs    []error
	changed chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{}, 1)}
}

func (r *Recorder) OnResult(res scan.Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) OnStateChange(st scan.State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) signal() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *Recorder) Results() []scan.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scan.Result(nil), r.results...)
}

func (r *Recorder) States() []scan.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scan.State(nil), r.states...)
}

// Kinds lists the observed state kinds in order.
func (r *Recorder) Kinds() []scan.StateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]scan.StateKind, len(r.states))
	for i, st := range r.states {
		out[i] = st.Kind
	}
	return out
}

func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Sink records Attach, Frame and Detach calls.
type Sink struct {
	mu       sync.Mutex
	attached []string
	detached int
	frames   int
	current  string
}

func (s *Sink) Attach(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, deviceID)
	s.current = deviceID
}

func (s *Sink) Frame(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
}

func (s *Sink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached++
	s.current = ""
}

func (s *Sink) Attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attached...)
}

func (s *Sink) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Sink) Detached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

func (s *Sink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
