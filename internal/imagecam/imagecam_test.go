package imagecam_test

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/mediadevices/pkg/driver"

	"BarcodeScanner/internal/imagecam"
)

func writePNG(t *testing.T, dir, name string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func findDriver(t *testing.T, label string) driver.Driver {
	t.Helper()
	for _, d := range driver.GetManager().Query(driver.FilterVideoRecorder()) {
		if d.Info().Label == label {
			return d
		}
	}
	t.Fatalf("driver %q not registered", label)
	return nil
}

func TestRegisterAndReplay(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png", 32, 16, color.White)
	writePNG(t, dir, "b.png", 32, 16, color.Black)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	label, err := imagecam.Register(dir, 100, logger)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !imagecam.IsVirtual(label) {
		t.Fatalf("label %q not recognised as virtual", label)
	}

	d := findDriver(t, label)
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	props := d.Properties()
	if len(props) != 1 || props[0].Width != 32 || props[0].Height != 16 {
		t.Fatalf("unexpected properties: %+v", props)
	}

	reader, err := d.(driver.VideoRecorder).VideoRecord(props[0])
	if err != nil {
		t.Fatalf("VideoRecord: %v", err)
	}
	first, release, err := reader.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	release()
	second, _, err := reader.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	r1, _, _, _ := first.At(0, 0).RGBA()
	r2, _, _, _ := second.At(0, 0).RGBA()
	if r1 == r2 {
		t.Fatalf("frames did not advance through the directory")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := reader.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("Read after Close = %v, want io.EOF", err)
	}
}

func TestRegisterEmptyDirectory(t *testing.T) {
	if _, err := imagecam.Register(t.TempDir(), 0, nil); err == nil {
		t.Fatalf("expected an error for a directory without images")
	}
}
