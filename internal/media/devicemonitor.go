package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const monitorTimeout = 3 * time.Second

// MonitorProps are the interesting properties of a gst-device-monitor entry.
type MonitorProps struct {
	API         string
	Path        string
	GUID        string
	Description string
}

// MonitorDevice is one "Device found:" block of gst-device-monitor output.
type MonitorDevice struct {
	Name       string
	Class      string
	Caps       string
	Properties MonitorProps
}

func newMonitorProps(lines []string) MonitorProps {
	var p MonitorProps
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if len(l) == 0 {
			continue
		}
		key, value, ok := strings.Cut(l, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case strings.Contains(key, "api") && !strings.Contains(key, "path") && p.API == "":
			p.API = value
		case strings.HasSuffix(key, ".path") && p.Path == "":
			p.Path = strings.TrimPrefix(value, "v4l2:")
		case strings.Contains(key, "guid") || strings.Contains(key, "strid"):
			p.GUID = value
		case strings.Contains(key, "description"):
			p.Description = value
		}
	}
	return p
}

func newMonitorDevice(header []string, properties []string) MonitorDevice {
	var d MonitorDevice
	for _, l := range header {
		key, value, ok := strings.Cut(strings.TrimSpace(l), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "name":
			d.Name = strings.TrimSpace(value)
		case "class":
			d.Class = strings.TrimSpace(value)
		case "caps":
			d.Caps = strings.TrimSpace(value)
		}
	}
	d.Properties = newMonitorProps(properties)
	return d
}

func indexContaining(lines []string, item string) int {
	for i := range lines {
		if strings.Contains(lines[i], item) {
			return i
		}
	}
	return -1
}

// ParseMonitorOutput parses the text printed by gst-device-monitor-1.0.
func ParseMonitorOutput(content string) []MonitorDevice {
	var devices []MonitorDevice
	for _, block := range strings.Split(content, "Device found:") {
		block = strings.TrimSpace(block)
		if len(block) == 0 {
			continue
		}
		lines := strings.Split(block, "\n")
		i := indexContaining(lines, "properties:")
		if i == -1 {
			continue
		}
		devices = append(devices, newMonitorDevice(lines[:i], lines[i+1:]))
	}
	return devices
}

// RunDeviceMonitor lists video sources with gst-device-monitor-1.0.
func RunDeviceMonitor(ctx context.Context) ([]MonitorDevice, error) {
	ctx, cancel := context.WithTimeout(ctx, monitorTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "gst-device-monitor-1.0", "Video/Source").Output()
	if err != nil {
		return nil, fmt.Errorf("gst-device-monitor: %w", err)
	}
	return ParseMonitorOutput(string(out)), nil
}

// LabelFor returns the human readable name of the monitored device whose
// node path or GUID appears in a driver label, or "" when none does.
func LabelFor(label string, devices []MonitorDevice) string {
	if len(label) == 0 {
		return ""
	}
	for _, d := range devices {
		if d.Name == "" {
			continue
		}
		if p := d.Properties.Path; p != "" && strings.Contains(label, p) {
			return d.Name
		}
		if g := d.Properties.GUID; g != "" && strings.Contains(strings.ToLower(label), strings.ToLower(g)) {
			return d.Name
		}
	}
	return ""
}
