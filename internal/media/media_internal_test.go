package media

import (
	"image"
	"testing"

	"github.com/pion/mediadevices/pkg/prop"
)

func TestSelectProp(t *testing.T) {
	mode := func(w, h int) prop.Media {
		return prop.Media{Video: prop.Video{Width: w, Height: h}}
	}
	cases := []struct {
		name  string
		props []prop.Media
		max   int
		want  int
	}{
		{"widest that fits", []prop.Media{mode(640, 480), mode(1920, 1080), mode(1280, 720)}, 1280, 1280},
		{"narrowest when none fits", []prop.Media{mode(3840, 2160), mode(1920, 1080)}, 1280, 1920},
		{"unknown size", []prop.Media{mode(0, 0)}, 1280, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := selectProp(c.props, c.max)
			if !ok || got.Width != c.want {
				t.Fatalf("selectProp = %d (%v), want %d", got.Width, ok, c.want)
			}
		})
	}
	if _, ok := selectProp(nil, 1280); ok {
		t.Fatalf("selectProp accepted an empty mode list")
	}
}

func TestOwnedCopyScalesDown(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 2010, 1010))
	dst := ownedCopy(src, 1000)
	if got := dst.Bounds(); got.Dx() != 1000 || got.Dy() != 500 || got.Min != (image.Point{}) {
		t.Fatalf("scaled bounds = %v", got)
	}

	small := image.NewGray(image.Rect(0, 0, 20, 10))
	small.Pix[0] = 0xff
	cp := ownedCopy(small, 1000)
	if cp.Bounds() != small.Bounds() {
		t.Fatalf("copy bounds = %v", cp.Bounds())
	}
	small.Pix[0] = 0
	if r, _, _, _ := cp.At(0, 0).RGBA(); r == 0 {
		t.Fatalf("copy shares memory with the driver buffer")
	}
	if ownedCopy(nil, 10) != nil || ownedCopy(image.NewRGBA(image.Rectangle{}), 10) != nil {
		t.Fatalf("empty frames must be dropped")
	}
}

const monitorOutput = `Probing devices...


Device found:

	name  : Integrated Camera: Integrated C
	class : Video/Source
	caps  : video/x-raw, format=YUY2, width=640, height=480
	properties:
		udev-probed = true
		device.bus_path = pci-0000:00:14.0-usb-0:8:1.0
		device.api = v4l2
		device.path = /dev/video0
		api.v4l2.path = /dev/video0
		device.product.name = Integrated Camera: Integrated C
	gst-launch-1.0 v4l2src device=/dev/video0 ! ...


Device found:

	name  : Logitech BRIO
	class : Video/Source
	caps  : image/jpeg, width=1920, height=1080
	properties:
		device.api = v4l2
		object.path = v4l2:/dev/video2
		device.description = Logitech BRIO
	gst-launch-1.0 v4l2src device=/dev/video2 ! ...
`

func TestParseMonitorOutput(t *testing.T) {
	devices := ParseMonitorOutput(monitorOutput)
	if len(devices) != 2 {
		t.Fatalf("parsed %d devices, want 2", len(devices))
	}
	first := devices[0]
	if first.Name != "Integrated Camera: Integrated C" || first.Class != "Video/Source" {
		t.Fatalf("unexpected header: %+v", first)
	}
	if first.Properties.API != "v4l2" || first.Properties.Path != "/dev/video0" {
		t.Fatalf("unexpected properties: %+v", first.Properties)
	}
	if devices[1].Properties.Path != "/dev/video2" || devices[1].Properties.Description != "Logitech BRIO" {
		t.Fatalf("unexpected properties: %+v", devices[1].Properties)
	}
	if len(ParseMonitorOutput("")) != 0 {
		t.Fatalf("empty output produced devices")
	}
}

func TestLabelFor(t *testing.T) {
	devices := ParseMonitorOutput(monitorOutput)
	if got := LabelFor("/dev/video2;video2", devices); got != "Logitech BRIO" {
		t.Fatalf("LabelFor = %q", got)
	}
	if got := LabelFor("/dev/video7", devices); got != "" {
		t.Fatalf("LabelFor unknown node = %q", got)
	}
}
