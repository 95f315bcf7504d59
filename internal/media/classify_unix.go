//go:build unix

package media

import (
	"errors"

	"golang.org/x/sys/unix"

	"BarcodeScanner/internal/scan"
)

// classify maps driver errors onto the scan taxonomy using the errno the
// V4L2 and AVFoundation backends surface.
func classify(err error, deviceID string) error {
	if err == nil {
		return nil
	}
	var se *scan.Error
	if errors.As(err, &se) {
		return err
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EACCES, unix.EPERM:
			return scan.NewError(scan.KindPermissionDenied, deviceID, err)
		case unix.ENODEV, unix.ENOENT, unix.ENXIO:
			return scan.NewError(scan.KindNoDeviceFound, deviceID, err)
		case unix.EBUSY, unix.EIO, unix.EAGAIN:
			return scan.NewError(scan.KindDeviceBusyOrUnreadable, deviceID, err)
		}
	}
	return scan.NewError(scan.Classify(err), deviceID, err)
}
