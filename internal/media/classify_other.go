//go:build !unix

package media

import (
	"errors"

	"BarcodeScanner/internal/scan"
)

func classify(err error, deviceID string) error {
	if err == nil {
		return nil
	}
	var se *scan.Error
	if errors.As(err, &se) {
		return err
	}
	return scan.NewError(scan.Classify(err), deviceID, err)
}
