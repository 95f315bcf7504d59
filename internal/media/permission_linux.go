//go:build linux

package media

import (
	"context"
	"errors"
	"path/filepath"

	"golang.org/x/sys/unix"

	"BarcodeScanner/internal/scan"
)

var videoNodeGlob = "/dev/video*"

// QueryPermission inspects the V4L2 device nodes. Access to any node means
// granted; nodes that all refuse access mean denied. Without nodes the
// answer is prompt, leaving the decision to an acquisition probe.
func (d *Devices) QueryPermission(ctx context.Context) (scan.Permission, error) {
	return nodePermission(videoNodeGlob)
}

func nodePermission(pattern string) (scan.Permission, error) {
	nodes, err := filepath.Glob(pattern)
	if err != nil {
		return scan.PermissionPrompt, err
	}
	if len(nodes) == 0 {
		return scan.PermissionPrompt, nil
	}
	denied := 0
	for _, node := range nodes {
		err := unix.Access(node, unix.R_OK|unix.W_OK)
		if err == nil {
			return scan.PermissionGranted, nil
		}
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			denied++
		}
	}
	if denied == len(nodes) {
		return scan.PermissionDenied, nil
	}
	return scan.PermissionPrompt, nil
}
