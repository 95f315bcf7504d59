// Package decoder implements the scan decoder capability with the gozxing
// one-dimensional readers.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"

	"BarcodeScanner/internal/scan"
)

// maxFrameErrors consecutive frame failures mean the source is gone.
const maxFrameErrors = 10

var formats = map[scan.Format]gozxing.BarcodeFormat{
	scan.FormatEAN13:   gozxing.BarcodeFormat_EAN_13,
	scan.FormatEAN8:    gozxing.BarcodeFormat_EAN_8,
	scan.FormatUPCA:    gozxing.BarcodeFormat_UPC_A,
	scan.FormatUPCE:    gozxing.BarcodeFormat_UPC_E,
	scan.FormatCode128: gozxing.BarcodeFormat_CODE_128,
	scan.FormatCode39:  gozxing.BarcodeFormat_CODE_39,
}

// FormatOf maps a gozxing format back onto scan.Format.
func FormatOf(f gozxing.BarcodeFormat) (scan.Format, bool) {
	for k, v := range formats {
		if v == f {
			return k, true
		}
	}
	return "", false
}

// Hints converts scan hints into gozxing decode hints. Unknown formats are
// skipped.
func Hints(h scan.Hints) map[gozxing.DecodeHintType]interface{} {
	possible := make([]gozxing.BarcodeFormat, 0, len(h.Formats))
	for _, f := range h.Formats {
		if bf, ok := formats[f]; ok {
			possible = append(possible, bf)
		}
	}
	out := map[gozxing.DecodeHintType]interface{}{}
	if len(possible) > 0 {
		out[gozxing.DecodeHintType_POSSIBLE_FORMATS] = possible
	}
	if h.TryHarder {
		out[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return out
}

// readers returns the one-dimensional readers able to produce one of the
// hinted formats, or all of them when no format is hinted.
func readers(h map[gozxing.DecodeHintType]interface{}) []gozxing.Reader {
	want := func(fs ...gozxing.BarcodeFormat) bool {
		for _, f := range fs {
			if allowed(h, f) {
				return true
			}
		}
		return false
	}

	var out []gozxing.Reader
	if want(gozxing.BarcodeFormat_EAN_13, gozxing.BarcodeFormat_EAN_8, gozxing.BarcodeFormat_UPC_A, gozxing.BarcodeFormat_UPC_E) {
		out = append(out, oned.NewMultiFormatUPCEANReader(h))
	}
	if want(gozxing.BarcodeFormat_CODE_128) {
		out = append(out, oned.NewCode128Reader())
	}
	if want(gozxing.BarcodeFormat_CODE_39) {
		out = append(out, oned.NewCode39Reader())
	}
	return out
}

// Decoder is safe for concurrent use. The count of consecutive frame
// failures is shared by all callers.
type Decoder struct {
	logger      *slog.Logger
	frameErrors atomic.Int32
}

func New(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger.With("component", "decoder")}
}

func (d *Decoder) AttemptDecode(ctx context.Context, src scan.FrameSource, hints scan.Hints) scan.Result {
	img, err := src.Frame(ctx)
	switch {
	case err == nil:
		d.frameErrors.Store(0)
	case ctx.Err() != nil:
		return scan.NotFound()
	case errors.Is(err, scan.ErrReleased):
		return scan.FatalError(err.Error())
	default:
		if d.frameErrors.Add(1) >= maxFrameErrors {
			return scan.FatalError(fmt.Sprintf("frame source failing: %v", err))
		}
		return scan.TransientError(err.Error())
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return scan.TransientError(err.Error())
	}

	h := Hints(hints)
	// A checksum or format failure is a misread of a real symbol; the next
	// frame may read cleanly. It wins over the other readers' NotFound.
	var misread error
	for _, r := range readers(h) {
		if ctx.Err() != nil {
			return scan.NotFound()
		}
		res, err := r.Decode(bmp, h)
		if err != nil {
			if _, ok := err.(gozxing.NotFoundException); !ok && misread == nil {
				misread = err
			}
			continue
		}
		format, ok := FormatOf(res.GetBarcodeFormat())
		if !ok || !allowed(h, res.GetBarcodeFormat()) {
			d.logger.Debug("decoded an unexpected format", "format", res.GetBarcodeFormat())
			continue
		}
		return scan.Found(res.GetText(), format)
	}
	if misread != nil {
		return scan.TransientError(misread.Error())
	}
	return scan.NotFound()
}

// allowed reports whether f is among the hinted formats.
func allowed(h map[gozxing.DecodeHintType]interface{}, f gozxing.BarcodeFormat) bool {
	possible, _ := h[gozxing.DecodeHintType_POSSIBLE_FORMATS].([]gozxing.BarcodeFormat)
	if len(possible) == 0 {
		return true
	}
	for _, p := range possible {
		if p == f {
			return true
		}
	}
	return false
}
