package scan

import (
	"context"
	"errors"
	"log/slog"
)

// PermissionNegotiator resolves device access before any acquisition.
type PermissionNegotiator struct {
	media  MediaDevices
	logger *slog.Logger
}

func NewPermissionNegotiator(media MediaDevices, logger *slog.Logger) *PermissionNegotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionNegotiator{media: media, logger: logger}
}

// Check reports the current permission without prompting. Query failures
// are treated as "prompt" so that Request gets to decide.
func (p *PermissionNegotiator) Check(ctx context.Context) Permission {
	perm, err := p.media.QueryPermission(ctx)
	if err != nil {
		p.logger.Warn("permission query failed", "error", err)
		return PermissionPrompt
	}
	return perm
}

// Request acquires a stream on the first device and releases it at once, to
// surface the platform prompt. It returns false with a nil error on denial.
// Any other failure is returned classified, e.g. ErrNoDeviceFound.
func (p *PermissionNegotiator) Request(ctx context.Context) (bool, error) {
	devices, err := p.media.ListDevices(ctx)
	if err != nil {
		return false, classified(err, "")
	}
	if len(devices) == 0 {
		return false, ErrNoDeviceFound
	}
	deviceID := devices[0].ID

	stream, err := p.media.Open(ctx, deviceID)
	if err != nil {
		if Classify(err) == KindPermissionDenied {
			p.logger.Info("permission denied by platform", "device_id", deviceID)
			return false, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, classified(err, deviceID)
	}
	if cerr := stream.Close(); cerr != nil {
		p.logger.Warn("release after permission probe failed", "device_id", deviceID, "error", cerr)
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return true, nil
}

// Resolve checks and, when the platform would prompt, requests. It returns
// nil when access is granted and ErrPermissionDenied on denial.
func (p *PermissionNegotiator) Resolve(ctx context.Context) error {
	switch p.Check(ctx) {
	case PermissionGranted:
		return nil
	case PermissionDenied:
		return ErrPermissionDenied
	}
	granted, err := p.Request(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}
		return classified(err, "")
	}
	if !granted {
		return ErrPermissionDenied
	}
	return nil
}
