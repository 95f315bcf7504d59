// Package api exposes scanner sessions over HTTP and to the C exports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"BarcodeScanner/internal/config"
	"BarcodeScanner/internal/feed"
	"BarcodeScanner/internal/scan"
)

// Result codes shared by the HTTP responses and the C exports.
const (
	CodeOK             = 1
	CodeMissingConfigs = -1
	CodeBadJSON        = -2
	CodeBadPolicy      = -3
	CodeMissingID      = -4
	CodeDeviceInUse    = -5
	CodeInvalidState   = -6
	CodeNotFound       = -8
	CodeOpenFailed     = -9
)

// OpenRequest is the `configs` payload of an open call.
type OpenRequest struct {
	Policy   string `json:"policy"`
	DeviceID string `json:"device_id"`
}

// Scanner owns the sessions created through the HTTP API and the C exports.
type Scanner struct {
	base       context.Context
	settings   *config.Settings
	media      scan.MediaDevices
	newDecoder func() scan.Decoder
	sessions   *config.Sessions
	logger     *slog.Logger
}

// NewScanner builds a Scanner. Cancelling ctx disposes of every session it
// created. newDecoder is called once per session.
func NewScanner(ctx context.Context, settings *config.Settings, media scan.MediaDevices, newDecoder func() scan.Decoder, sessions *config.Sessions, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		base:       ctx,
		settings:   settings,
		media:      media,
		newDecoder: newDecoder,
		sessions:   sessions,
		logger:     logger.With("component", "api"),
	}
}

// ParseOpenRequest decodes configs. Whitespace is ignored, the way host
// applications tend to pretty-print the payload.
func ParseOpenRequest(configs string) (OpenRequest, int, error) {
	configs = strings.Join(strings.Fields(configs), "")
	if configs == "" {
		return OpenRequest{}, CodeMissingConfigs, errors.New("missing mandatory field `configs`")
	}
	var req OpenRequest
	if err := json.Unmarshal([]byte(configs), &req); err != nil {
		return OpenRequest{}, CodeBadJSON, fmt.Errorf("decode configs: %w", err)
	}
	return req, CodeOK, nil
}

// Open creates, registers and opens a session. It returns the session id.
func (s *Scanner) Open(req OpenRequest) (string, int, error) {
	s.sweep()

	policy := s.settings.Policy()
	if req.Policy != "" {
		p, ok := scan.ParsePolicy(req.Policy)
		if !ok {
			return "", CodeBadPolicy, fmt.Errorf("unknown policy %q", req.Policy)
		}
		policy = p
	}
	if req.DeviceID != "" && s.sessions.DeviceInUse(req.DeviceID) {
		return "", CodeDeviceInUse, fmt.Errorf("device %s is used by another session", req.DeviceID)
	}

	fd := feed.New(feed.Options{
		FPS:         s.settings.Preview.FPS,
		JPEGQuality: s.settings.Preview.JPEGQuality,
	}, s.logger)
	opts := s.settings.SessionOptions(policy)
	opts.Sink = fd
	if req.DeviceID != "" {
		opts.PreferredDeviceID = req.DeviceID
	}

	ctx, cancel := context.WithCancel(s.base)
	session := scan.NewSession(ctx, s.media, s.newDecoder(), fd, opts, s.logger)
	fd.Bind(session.ID())

	entry := config.Entry{Session: session, Feed: fd, Device: req.DeviceID, Cancel: cancel}
	if !s.sessions.AddSession(entry) {
		s.dispose(entry)
		return "", CodeDeviceInUse, fmt.Errorf("device %s is used by another session", req.DeviceID)
	}
	if err := session.Open(); err != nil {
		s.sessions.DelSession(session.ID())
		s.dispose(entry)
		return "", CodeOpenFailed, err
	}
	s.logger.Info("session opened", "session_id", session.ID(), "policy", policy.String(), "device_id", req.DeviceID)
	return session.ID(), CodeOK, nil
}

// Close closes and unregisters a session.
func (s *Scanner) Close(id string) (int, error) {
	if id == "" {
		return CodeMissingID, errors.New("missing session id")
	}
	entry, ok := s.sessions.DelSession(id)
	if !ok {
		return CodeNotFound, fmt.Errorf("session %s does not exist", id)
	}
	s.dispose(entry)
	s.logger.Info("session closed", "session_id", id)
	return CodeOK, nil
}

// Lookup returns a registered session.
func (s *Scanner) Lookup(id string) (config.Entry, int, error) {
	if id == "" {
		return config.Entry{}, CodeMissingID, errors.New("missing session id")
	}
	entry, ok := s.sessions.Get(id)
	if !ok {
		return config.Entry{}, CodeNotFound, fmt.Errorf("session %s does not exist", id)
	}
	return entry, CodeOK, nil
}

// Retry resumes a session stuck in PermissionDenied or Error.
func (s *Scanner) Retry(id string) (int, error) {
	entry, code, err := s.Lookup(id)
	if err != nil {
		return code, err
	}
	switch entry.Session.State().Kind {
	case scan.StatePermissionDenied:
		err = entry.Session.RetryPermission()
	case scan.StateError:
		err = entry.Session.Retry()
	default:
		err = fmt.Errorf("%w: retry from %s", scan.ErrInvalidTransition, entry.Session.State().Kind)
	}
	if err != nil {
		return CodeInvalidState, err
	}
	return CodeOK, nil
}

// Devices lists the capture devices with their facing.
func (s *Scanner) Devices(ctx context.Context) ([]scan.CaptureDevice, error) {
	return scan.NewDeviceRegistry(s.media, s.logger).ListDevices(ctx)
}

// Shutdown closes every registered session.
func (s *Scanner) Shutdown() {
	_, ids := s.sessions.List()
	for _, id := range ids {
		s.Close(id)
	}
}

func (s *Scanner) sweep() {
	for _, entry := range s.sessions.Sweep() {
		s.logger.Debug("dropping closed session", "session_id", entry.Session.ID())
		s.dispose(entry)
	}
}

func (s *Scanner) dispose(entry config.Entry) {
	entry.Session.Close()
	if entry.Cancel != nil {
		entry.Cancel()
	}
	if entry.Feed != nil {
		entry.Feed.Close()
	}
}
