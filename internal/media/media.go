// Package media implements the platform media capability on top of the
// pion/mediadevices driver manager.
package media

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/prop"

	"BarcodeScanner/internal/scan"
)

const defaultMaxFrameWidth = 1280

type Options struct {
	// MaxFrameWidth caps the width of frames handed to the decoder; larger
	// frames are scaled down.
	MaxFrameWidth int
	// DeviceMonitor enables label enrichment from gst-device-monitor-1.0.
	DeviceMonitor bool
}

// Devices is a scan.MediaDevices backed by every video recorder registered
// with the mediadevices driver manager.
type Devices struct {
	manager *driver.Manager
	opts    Options
	logger  *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Devices {
	if opts.MaxFrameWidth <= 0 {
		opts.MaxFrameWidth = defaultMaxFrameWidth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Devices{manager: driver.GetManager(), opts: opts, logger: logger.With("component", "media")}
}

func (d *Devices) ListDevices(ctx context.Context) ([]scan.CaptureDevice, error) {
	var devices []scan.CaptureDevice
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind != mediadevices.VideoInput {
			continue
		}
		devices = append(devices, scan.CaptureDevice{
			ID:     info.DeviceID,
			Label:  info.Label,
			Facing: scan.FacingUnknown,
		})
	}

	if d.opts.DeviceMonitor && len(devices) > 0 {
		monitored, err := RunDeviceMonitor(ctx)
		if err != nil {
			d.logger.Warn("device monitor unavailable", "error", err)
		} else {
			for i := range devices {
				if name := LabelFor(devices[i].Label, monitored); name != "" {
					devices[i].Label = name
				}
			}
		}
	}
	return devices, nil
}

// Open starts recording on deviceID. If ctx ends while the driver is still
// opening, Open waits for the driver, closes the late stream and returns
// ctx.Err().
func (d *Devices) Open(ctx context.Context, deviceID string) (scan.Stream, error) {
	drv := d.lookup(deviceID)
	if drv == nil {
		return nil, scan.NewError(scan.KindNoDeviceFound, deviceID, nil)
	}
	if drv.Status() != driver.StateClosed {
		return nil, scan.NewError(scan.KindDeviceBusyOrUnreadable, deviceID, nil)
	}

	type opened struct {
		stream scan.Stream
		err    error
	}
	ch := make(chan opened, 1)
	go func() {
		s, err := d.open(drv)
		ch <- opened{s, err}
	}()

	select {
	case r := <-ch:
		return r.stream, r.err
	case <-ctx.Done():
		// drv.Open cannot be interrupted. Wait for it so the device is
		// closed again by the time the caller sees the cancellation.
		if r := <-ch; r.err == nil {
			r.stream.Close()
		}
		return nil, ctx.Err()
	}
}

func (d *Devices) open(drv driver.Driver) (scan.Stream, error) {
	recorder, ok := drv.(driver.VideoRecorder)
	if !ok {
		return nil, scan.NewError(scan.KindNoDeviceFound, drv.ID(), nil)
	}
	if err := drv.Open(); err != nil {
		return nil, classify(err, drv.ID())
	}
	p, ok := selectProp(drv.Properties(), d.opts.MaxFrameWidth)
	if !ok {
		drv.Close()
		return nil, scan.NewError(scan.KindDeviceBusyOrUnreadable, drv.ID(), errNoVideoProps)
	}
	reader, err := recorder.VideoRecord(p)
	if err != nil {
		drv.Close()
		return nil, classify(err, drv.ID())
	}

	s := newStream(drv, reader, d.opts.MaxFrameWidth, d.logger)
	d.logger.Debug("video record started", "device_id", drv.ID(), "width", p.Width, "height", p.Height, "format", p.FrameFormat)
	if t, ok := torchFor(drv.Info().Label); ok {
		return &torchStream{Stream: s, torch: t}, nil
	}
	return s, nil
}

func (d *Devices) lookup(deviceID string) driver.Driver {
	for _, drv := range d.manager.Query(driver.FilterVideoRecorder()) {
		if drv.ID() == deviceID {
			return drv
		}
	}
	return nil
}

// selectProp picks the widest mode that fits maxWidth, or the narrowest
// mode when none fits. Modes without a known size come last.
func selectProp(props []prop.Media, maxWidth int) (prop.Media, bool) {
	if len(props) == 0 {
		return prop.Media{}, false
	}
	sorted := make([]prop.Media, len(props))
	copy(sorted, props)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Width > sorted[j].Width })

	for _, p := range sorted {
		if p.Width > 0 && p.Width <= maxWidth {
			return p, true
		}
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Width > 0 {
			return sorted[i], true
		}
	}
	return sorted[0], true
}
