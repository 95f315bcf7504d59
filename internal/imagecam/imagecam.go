// Package imagecam registers a virtual camera that replays still images
// from a directory through the mediadevices driver manager, so sessions can
// run without capture hardware.
package imagecam

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"BarcodeScanner/internal/media"
)

const (
	LabelPrefix = "imagecam:"
	defaultFPS  = 10
)

var errNoImages = errors.New("imagecam: directory holds no decodable images")

type camera struct {
	dir    string
	fps    int
	frames []image.Image
	logger *slog.Logger

	mu      sync.Mutex
	torch   bool
	closeFn func()
}

// Register adds one virtual camera replaying the images of dir at fps and
// returns its driver label. The camera advertises a torch.
func Register(dir string, fps int, logger *slog.Logger) (string, error) {
	if fps <= 0 {
		fps = defaultFPS
	}
	if logger == nil {
		logger = slog.Default()
	}
	frames, err := loadFrames(dir)
	if err != nil {
		return "", err
	}

	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	label := LabelPrefix + dir
	cam := &camera{dir: dir, fps: fps, frames: frames, logger: logger.With("camera", label)}
	err = driver.GetManager().Register(cam, driver.Info{
		Label:      label,
		DeviceType: driver.Camera,
		Priority:   driver.PriorityLow,
	})
	if err != nil {
		return "", fmt.Errorf("imagecam: register %s: %w", dir, err)
	}
	media.RegisterTorch(label, cam)
	logger.Info("virtual camera registered", "label", label, "frames", len(frames))
	return label, nil
}

func loadFrames(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var frames []image.Image
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s", errNoImages, dir)
	}
	return frames, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func (c *camera) Open() error {
	return nil
}

func (c *camera) Close() error {
	c.mu.Lock()
	closeFn := c.closeFn
	c.closeFn = nil
	c.torch = false
	c.mu.Unlock()
	if closeFn != nil {
		closeFn()
	}
	return nil
}

func (c *camera) SetTorch(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.torch = on
	c.logger.Debug("torch switched", "on", on)
	return nil
}

func (c *camera) VideoRecord(p prop.Media) (video.Reader, error) {
	closed := make(chan struct{})
	var closeOnce sync.Once
	c.mu.Lock()
	c.closeFn = func() { closeOnce.Do(func() { close(closed) }) }
	c.mu.Unlock()

	ticker := time.NewTicker(time.Second / time.Duration(c.fps))
	i := 0
	r := video.ReaderFunc(func() (image.Image, func(), error) {
		select {
		case <-closed:
			ticker.Stop()
			return nil, func() {}, io.EOF
		case <-ticker.C:
		}
		img := c.frames[i%len(c.frames)]
		i++
		return img, func() {}, nil
	})
	return r, nil
}

func (c *camera) Properties() []prop.Media {
	b := c.frames[0].Bounds()
	return []prop.Media{{
		Video: prop.Video{
			Width:       b.Dx(),
			Height:      b.Dy(),
			FrameFormat: frame.FormatRGBA,
		},
	}}
}

// IsVirtual reports whether a driver label belongs to an image camera.
func IsVirtual(label string) bool {
	return strings.HasPrefix(label, LabelPrefix)
}
