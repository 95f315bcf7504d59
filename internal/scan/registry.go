package scan

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
)

var (
	backKeywords  = []string{"back", "rear", "environment", "world"}
	frontKeywords = []string{"front", "user", "facetime", "selfie", "integrated"}
)

// FacingFromLabel guesses the facing of a device from its label.
func FacingFromLabel(label string) Facing {
	folded := cases.Fold().String(label)
	for _, k := range backKeywords {
		if strings.Contains(folded, k) {
			return FacingBack
		}
	}
	for _, k := range frontKeywords {
		if strings.Contains(folded, k) {
			return FacingFront
		}
	}
	return FacingUnknown
}

// DeviceRegistry enumerates capture devices and picks which one to bind.
type DeviceRegistry struct {
	media  MediaDevices
	logger *slog.Logger
}

func NewDeviceRegistry(media MediaDevices, logger *slog.Logger) *DeviceRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceRegistry{media: media, logger: logger}
}

// ListDevices returns a snapshot of the available devices. An empty list is
// not an error; it is the "no camera" condition.
func (r *DeviceRegistry) ListDevices(ctx context.Context) ([]CaptureDevice, error) {
	devices, err := r.media.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CaptureDevice, 0, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		if d.Facing == "" || d.Facing == FacingUnknown {
			d.Facing = FacingFromLabel(d.Label)
		}
		out = append(out, d)
	}
	r.logger.Debug("devices enumerated", "count", len(out))
	return out, nil
}

// PickDefault prefers a rear-facing device, then the first one.
func PickDefault(devices []CaptureDevice) (string, bool) {
	if len(devices) == 0 {
		return "", false
	}
	for _, d := range devices {
		if d.Facing == FacingBack {
			return d.ID, true
		}
	}
	return devices[0].ID, true
}

// NextDevice is the cyclic successor of currentID. With one device or none
// it returns currentID unchanged. An unknown currentID yields the first
// device.
func NextDevice(currentID string, devices []CaptureDevice) string {
	if len(devices) <= 1 {
		return currentID
	}
	for i, d := range devices {
		if d.ID == currentID {
			return devices[(i+1)%len(devices)].ID
		}
	}
	return devices[0].ID
}

func containsDevice(devices []CaptureDevice, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
