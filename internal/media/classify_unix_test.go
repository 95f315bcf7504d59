//go:build unix

package media

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"

	"BarcodeScanner/internal/scan"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want scan.ErrorKind
	}{
		{fmt.Errorf("open /dev/video0: %w", unix.EACCES), scan.KindPermissionDenied},
		{fmt.Errorf("open /dev/video0: %w", unix.EBUSY), scan.KindDeviceBusyOrUnreadable},
		{fmt.Errorf("open /dev/video9: %w", unix.ENODEV), scan.KindNoDeviceFound},
		{errors.New("mjpeg decode failed"), scan.KindDeviceBusyOrUnreadable},
	}
	for _, c := range cases {
		err := classify(c.err, "cam-0")
		if got := scan.Classify(err); got != c.want {
			t.Fatalf("classify(%v) = %s, want %s", c.err, got, c.want)
		}
		var se *scan.Error
		if !errors.As(err, &se) || se.DeviceID != "cam-0" {
			t.Fatalf("classify(%v) lost the device id", c.err)
		}
	}
	if classify(nil, "cam-0") != nil {
		t.Fatalf("classify(nil) != nil")
	}
}
