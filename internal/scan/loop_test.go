package scan_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BarcodeScanner/internal/scan"
	"BarcodeScanner/internal/scan/scantest"
)

type staticSource struct{}

func (staticSource) Frame(ctx context.Context) (image.Image, error) { return scantest.Frame(), nil }

type collector struct {
	mu      sync.Mutex
	results []scan.Result
	errs    []error
}

func (c *collector) onResult(res scan.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results), len(c.errs)
}

func newLoop(dec scan.Decoder, policy scan.Policy) *scan.DecodeLoop {
	return scan.NewDecodeLoop(dec, policy, 2*time.Millisecond, scan.RetailHints(), discardLogger())
}

func TestLoopContinuousKeepsDelivering(t *testing.T) {
	dec := scantest.NewDecoder(
		scan.NotFound(),
		scan.Found("4006381333931", scan.FormatEAN13),
		scan.TransientError("blurry"),
		scan.Found("73513537", scan.FormatEAN8),
	)
	loop := newLoop(dec, scan.PolicyContinuous)
	c := &collector{}

	if err := loop.Start(context.Background(), staticSource{}, c.onResult, c.onError); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "two results", func() bool { n, _ := c.counts(); return n == 2 })
	if !loop.Running() {
		t.Fatalf("continuous loop stopped after a result")
	}
	loop.Stop()
	<-loop.Done()

	if c.results[0].Text != "4006381333931" || c.results[1].Format != scan.FormatEAN8 {
		t.Fatalf("unexpected results: %+v", c.results)
	}
	if _, errs := c.counts(); errs != 0 {
		t.Fatalf("transient outcomes must not surface, got %d errors", errs)
	}
}

func TestLoopSingleShotStopsAfterFirstResult(t *testing.T) {
	dec := scantest.NewDecoder()
	dec.Then = scan.Found("036000291452", scan.FormatUPCA)
	loop := newLoop(dec, scan.PolicySingleShot)
	c := &collector{}

	if err := loop.Start(context.Background(), staticSource{}, c.onResult, c.onError); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-loop.Done()
	time.Sleep(10 * time.Millisecond)
	if n, _ := c.counts(); n != 1 {
		t.Fatalf("single-shot delivered %d results, want 1", n)
	}
	if dec.Calls() != 1 {
		t.Fatalf("single-shot kept decoding: %d attempts", dec.Calls())
	}
}

func TestLoopFatalEndsRun(t *testing.T) {
	dec := scantest.NewDecoder(scan.NotFound(), scan.FatalError("decoder crashed"))
	dec.Then = scan.Found("never", scan.FormatCode128)
	loop := newLoop(dec, scan.PolicyContinuous)
	c := &collector{}

	if err := loop.Start(context.Background(), staticSource{}, c.onResult, c.onError); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-loop.Done()
	n, e := c.counts()
	if n != 0 || e != 1 {
		t.Fatalf("got %d results and %d errors, want 0 and 1", n, e)
	}
	if !errors.Is(c.errs[0], scan.ErrDecoderFatal) {
		t.Fatalf("error = %v, want decoder fatal", c.errs[0])
	}
}

func TestLoopRejectsConcurrentStart(t *testing.T) {
	dec := scantest.NewDecoder()
	loop := newLoop(dec, scan.PolicyContinuous)
	c := &collector{}
	if err := loop.Start(context.Background(), staticSource{}, c.onResult, c.onError); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := loop.Start(context.Background(), staticSource{}, c.onResult, c.onError); !errors.Is(err, scan.ErrLoopRunning) {
		t.Fatalf("second Start = %v, want ErrLoopRunning", err)
	}
	loop.Stop()
	if err := loop.Start(context.Background(), staticSource{}, c.onResult, c.onError); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	loop.Stop()
}

// A decode that resolves after Stop must be dropped whatever its outcome.
func TestLoopNoDeliveryAfterStop(t *testing.T) {
	outcomes := []scan.Result{
		scan.Found("4006381333931", scan.FormatEAN13),
		scan.NotFound(),
		scan.TransientError("blurry"),
		scan.FatalError("gone"),
	}
	for _, res := range outcomes {
		t.Run(res.Outcome.String(), func(t *testing.T) {
			dec := scantest.NewDecoder(res)
			release := dec.Block()
			loop := newLoop(dec, scan.PolicyContinuous)

			var delivered atomic.Int32
			onResult := func(scan.Result) { delivered.Add(1) }
			onError := func(error) { delivered.Add(1) }
			if err := loop.Start(context.Background(), staticSource{}, onResult, onError); err != nil {
				t.Fatalf("Start: %v", err)
			}
			waitFor(t, "attempt pending", func() bool { return dec.Calls() == 1 })

			loop.Stop()
			close(release)
			<-loop.Done()
			if n := delivered.Load(); n != 0 {
				t.Fatalf("%d callbacks fired after Stop", n)
			}
		})
	}
}

func TestLoopStopDuringWait(t *testing.T) {
	dec := scantest.NewDecoder()
	loop := scan.NewDecodeLoop(dec, scan.PolicyContinuous, time.Hour, scan.RetailHints(), discardLogger())
	c := &collector{}
	if err := loop.Start(context.Background(), staticSource{}, c.onResult, c.onError); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first attempt", func() bool { return dec.Calls() == 1 })
	loop.Stop()
	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit from its retry wait")
	}
}

func TestLoopCancelFromCallback(t *testing.T) {
	dec := scantest.NewDecoder()
	dec.Then = scan.Found("1", scan.FormatCode39)
	loop := newLoop(dec, scan.PolicyContinuous)
	var n atomic.Int32
	onResult := func(scan.Result) {
		n.Add(1)
		loop.Cancel()
	}
	if err := loop.Start(context.Background(), staticSource{}, onResult, func(error) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-loop.Done()
	if n.Load() != 1 {
		t.Fatalf("callback fired %d times, want 1", n.Load())
	}
}

func TestLoopRecoversDecoderPanic(t *testing.T) {
	loop := newLoop(panicDecoder{}, scan.PolicyContinuous)
	c := &collector{}
	if err := loop.Start(context.Background(), staticSource{}, c.onResult, c.onError); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-loop.Done()
	if _, e := c.counts(); e != 1 || !errors.Is(c.errs[0], scan.ErrDecoderFatal) {
		t.Fatalf("panic not surfaced as decoder fatal: %v", c.errs)
	}
}

type panicDecoder struct{}

func (panicDecoder) AttemptDecode(context.Context, scan.FrameSource, scan.Hints) scan.Result {
	panic("corrupt symbol table")
}
