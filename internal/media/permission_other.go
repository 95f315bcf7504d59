//go:build !linux

package media

import (
	"context"

	"BarcodeScanner/internal/scan"
)

// QueryPermission has no way to ask the platform here; the acquisition
// probe decides.
func (d *Devices) QueryPermission(ctx context.Context) (scan.Permission, error) {
	return scan.PermissionPrompt, nil
}
