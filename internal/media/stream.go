package media

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/video"
	"golang.org/x/image/draw"
)

var (
	ErrStreamClosed = errors.New("media: stream closed")
	errNoVideoProps = errors.New("media: device reports no video modes")
)

const pumpStopTimeout = time.Second

// Stream pumps frames out of a video.Reader. Only the newest frame is kept;
// every frame handed out is an owned copy, so the driver buffer can be
// released right after the read.
type Stream struct {
	drv      driver.Driver
	reader   video.Reader
	maxWidth int
	logger   *slog.Logger

	frames chan image.Image
	failed chan struct{}
	done   chan struct{}
	pumped chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closeErr  error
}

func newStream(drv driver.Driver, reader video.Reader, maxWidth int, logger *slog.Logger) *Stream {
	s := &Stream{
		drv:      drv,
		reader:   reader,
		maxWidth: maxWidth,
		logger:   logger.With("device_id", drv.ID()),
		frames:   make(chan image.Image, 1),
		failed:   make(chan struct{}),
		done:     make(chan struct{}),
		pumped:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Stream) pump() {
	defer close(s.pumped)
	for {
		img, release, err := s.reader.Read()
		select {
		case <-s.done:
			if release != nil {
				release()
			}
			return
		default:
		}
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			close(s.failed)
			s.logger.Warn("video read failed", "error", err)
			return
		}

		owned := ownedCopy(img, s.maxWidth)
		if release != nil {
			release()
		}
		if owned == nil {
			continue
		}
		select {
		case <-s.frames:
		default:
		}
		s.frames <- owned
	}
}

// ReadFrame returns the newest frame, waiting for one if needed.
func (s *Stream) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-s.done:
		return nil, ErrStreamClosed
	default:
	}
	select {
	case img := <-s.frames:
		return img, nil
	case <-s.done:
		return nil, ErrStreamClosed
	case <-s.failed:
		s.mu.Lock()
		defer s.mu.Unlock()
		return nil, classify(s.err, s.drv.ID())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the driver and waits, bounded, for the pump to exit.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.drv.Close()
		select {
		case <-s.pumped:
		case <-time.After(pumpStopTimeout):
			s.logger.Warn("frame pump did not stop in time")
		}
	})
	return s.closeErr
}

type torchStream struct {
	*Stream
	torch Torch
}

func (t *torchStream) SetTorch(on bool) error { return t.torch.SetTorch(on) }

// ownedCopy copies img into a fresh RGBA, scaling it down to maxWidth.
func ownedCopy(img image.Image, maxWidth int) image.Image {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	if b.Empty() {
		return nil
	}
	w, h := b.Dx(), b.Dy()
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return dst
}
