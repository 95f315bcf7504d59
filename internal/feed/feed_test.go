package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"BarcodeScanner/internal/scan"
)

func newFeed(t *testing.T, opts Options) (*Feed, *httptest.Server) {
	t.Helper()
	f := New(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.Bind("sess-1")
	mux := http.NewServeMux()
	mux.HandleFunc("/events", f.ServeEvents)
	mux.HandleFunc("/preview", f.ServePreview)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, f *Feed, events, previews int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e, p := f.Subscribers(); e == events && p == previews {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	e, p := f.Subscribers()
	t.Fatalf("subscribers = %d/%d, want %d/%d", e, p, events, previews)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", kind)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return ev
}

func TestEventsStream(t *testing.T) {
	f, srv := newFeed(t, Options{})
	f.OnStateChange(scan.State{Kind: scan.StateRequestingPermission})

	conn := dial(t, srv, "/events")
	waitSubscribers(t, f, 1, 0)

	if ev := readEvent(t, conn); ev.Type != "state" || ev.State != "requesting_permission" || ev.SessionID != "sess-1" {
		t.Fatalf("replayed state = %+v", ev)
	}

	f.OnResult(scan.Found("4006381333931", scan.FormatEAN13))
	if ev := readEvent(t, conn); ev.Type != "result" || ev.Text != "4006381333931" || ev.Format != "ean_13" {
		t.Fatalf("result event = %+v", ev)
	}

	f.OnError(scan.NewError(scan.KindDeviceBusyOrUnreadable, "cam-rear", errors.New("EBUSY")))
	if ev := readEvent(t, conn); ev.Type != "error" || !strings.Contains(ev.Error, "cam-rear") {
		t.Fatalf("error event = %+v", ev)
	}

	f.OnStateChange(scan.State{Kind: scan.StateError, Err: scan.NewError(scan.KindNoDeviceFound, "", nil)})
	if ev := readEvent(t, conn); ev.State != "error" || ev.Error == "" {
		t.Fatalf("error state event = %+v", ev)
	}
}

func TestPreviewThrottle(t *testing.T) {
	f, srv := newFeed(t, Options{FPS: 1, JPEGQuality: 50})
	conn := dial(t, srv, "/preview")
	waitSubscribers(t, f, 0, 1)

	frame := image.NewRGBA(image.Rect(0, 0, 16, 8))
	f.Frame(frame)
	f.Attach("cam-rear")
	f.Frame(frame)
	f.Frame(frame)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", kind)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("preview bounds = %v", b)
	}

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("throttled frame was delivered")
	}
}

func TestDetachStopsPreview(t *testing.T) {
	f, srv := newFeed(t, Options{FPS: 100})
	conn := dial(t, srv, "/preview")
	waitSubscribers(t, f, 0, 1)

	f.Attach("cam-rear")
	f.Detach()
	f.Frame(image.NewRGBA(image.Rect(0, 0, 4, 4)))

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("frame delivered after Detach")
	}
}

func TestCloseFlushesAndDisconnects(t *testing.T) {
	f, srv := newFeed(t, Options{})
	conn := dial(t, srv, "/events")
	waitSubscribers(t, f, 1, 0)

	f.OnStateChange(scan.State{Kind: scan.StateClosed})
	f.Close()
	f.Close()

	if ev := readEvent(t, conn); ev.State != "closed" {
		t.Fatalf("final event = %+v", ev)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read after Close = %v, want normal closure", err)
	}

	late := dial(t, srv, "/events")
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("late subscriber read = %v, want going away", err)
	}
	if e, p := f.Subscribers(); e != 0 || p != 0 {
		t.Fatalf("subscribers after Close = %d/%d", e, p)
	}
}
