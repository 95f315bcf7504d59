package scan_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"BarcodeScanner/internal/scan"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, s *scan.Session, want scan.StateKind) scan.State {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return s.State().Kind == want })
	return s.State()
}

func equalKinds(got, want []scan.StateKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

var (
	rearCam  = scan.CaptureDevice{ID: "cam-rear", Label: "Rear Camera"}
	frontCam = scan.CaptureDevice{ID: "cam-front", Label: "FaceTime HD Camera"}
	usbCam   = scan.CaptureDevice{ID: "cam-usb", Label: "USB2.0 PC CAMERA"}
)
