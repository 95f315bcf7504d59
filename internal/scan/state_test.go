package scan_test

import (
	"errors"
	"os"
	"testing"

	"BarcodeScanner/internal/scan"
)

func TestStateString(t *testing.T) {
	st := scan.State{Kind: scan.StateError, Err: scan.NewError(scan.KindNoDeviceFound, "", nil)}
	if st.String() != "error{no_device_found}" {
		t.Fatalf("String = %q", st.String())
	}
	if st.Message() != "no_device_found" {
		t.Fatalf("Message = %q", st.Message())
	}
	if (scan.State{Kind: scan.StateScanning}).String() != "scanning" {
		t.Fatalf("plain state rendered wrong")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want scan.ErrorKind
	}{
		{nil, scan.KindUnknown},
		{os.ErrPermission, scan.KindPermissionDenied},
		{os.ErrNotExist, scan.KindNoDeviceFound},
		{errors.New("ioctl failed"), scan.KindDeviceBusyOrUnreadable},
		{scan.NewError(scan.KindDecoderFatal, "", nil), scan.KindDecoderFatal},
	}
	for _, c := range cases {
		if got := scan.Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestErrorMatchesKindSentinel(t *testing.T) {
	err := scan.NewError(scan.KindPlaybackStartFailed, "cam-0", errors.New("no frame"))
	if !errors.Is(err, scan.ErrPlaybackStartFailed) {
		t.Fatalf("errors.Is did not match on kind")
	}
	if errors.Is(err, scan.ErrDeviceBusy) {
		t.Fatalf("errors.Is matched a different kind")
	}
	if err.Error() != "playback_start_failed (device cam-0): no frame" {
		t.Fatalf("Error = %q", err.Error())
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]scan.Policy{
		"":            scan.PolicyContinuous,
		"continuous":  scan.PolicyContinuous,
		"single_shot": scan.PolicySingleShot,
		"single":      scan.PolicySingleShot,
	} {
		got, ok := scan.ParsePolicy(in)
		if !ok || got != want {
			t.Fatalf("ParsePolicy(%q) = %s, %v", in, got, ok)
		}
	}
	if _, ok := scan.ParsePolicy("burst"); ok {
		t.Fatalf("unknown policy accepted")
	}
}
