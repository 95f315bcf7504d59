//go:build linux

package media

import (
	"os"
	"path/filepath"
	"testing"

	"BarcodeScanner/internal/scan"
)

func TestNodePermission(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "video*")

	perm, err := nodePermission(pattern)
	if err != nil || perm != scan.PermissionPrompt {
		t.Fatalf("no nodes: got %s, %v; want prompt", perm, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "video0"), nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	perm, err = nodePermission(pattern)
	if err != nil || perm != scan.PermissionGranted {
		t.Fatalf("accessible node: got %s, %v; want granted", perm, err)
	}
}
