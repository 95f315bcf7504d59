// Package feed fans one session's events and preview frames out to
// websocket subscribers.
package feed

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"BarcodeScanner/internal/scan"
)

const (
	sendQueue    = 16
	writeTimeout = 5 * time.Second
)

// Event is the JSON message written to event subscribers.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	Format    string    `json:"format,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type Options struct {
	FPS         int
	JPEGQuality int
}

type message struct {
	kind int
	data []byte
}

type subscriber struct {
	conn *websocket.Conn
	send chan message
}

// Feed implements scan.Listener and scan.Sink for one session. Broadcasts
// never block: a subscriber whose queue is full misses the message.
type Feed struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	sessionID atomic.Value
	interval  time.Duration

	mu        sync.Mutex
	events    map[*subscriber]struct{}
	previews  map[*subscriber]struct{}
	last      *Event
	closed    bool
	device    string
	lastFrame time.Time
}

func New(opts Options, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FPS <= 0 {
		opts.FPS = 5
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = jpeg.DefaultQuality
	}
	f := &Feed{
		opts:   opts,
		logger: logger.With("component", "feed"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		interval: time.Second / time.Duration(opts.FPS),
		events:   make(map[*subscriber]struct{}),
		previews: make(map[*subscriber]struct{}),
	}
	f.sessionID.Store("")
	return f
}

// Bind sets the session id stamped on every event.
func (f *Feed) Bind(sessionID string) {
	f.sessionID.Store(sessionID)
	f.logger = f.logger.With("session_id", sessionID)
}

func (f *Feed) OnStateChange(st scan.State) {
	f.publish(Event{Type: "state", State: st.Kind.String(), Error: st.Message()})
}

func (f *Feed) OnResult(res scan.Result) {
	f.publish(Event{Type: "result", Text: res.Text, Format: string(res.Format)})
}

func (f *Feed) OnError(err error) {
	f.publish(Event{Type: "error", Error: err.Error()})
}

func (f *Feed) publish(ev Event) {
	ev.SessionID = f.sessionID.Load().(string)
	ev.At = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("marshal event", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Type == "state" {
		f.last = &ev
	}
	f.broadcastLocked(f.events, message{websocket.TextMessage, data})
}

func (f *Feed) Attach(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device = deviceID
	f.lastFrame = time.Time{}
}

// Frame encodes img as JPEG for preview subscribers, at most FPS times per
// second.
func (f *Feed) Frame(img image.Image) {
	f.mu.Lock()
	if len(f.previews) == 0 || f.device == "" || time.Since(f.lastFrame) < f.interval {
		f.mu.Unlock()
		return
	}
	f.lastFrame = time.Now()
	f.mu.Unlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: f.opts.JPEGQuality}); err != nil {
		f.logger.Warn("encode preview frame", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastLocked(f.previews, message{websocket.BinaryMessage, buf.Bytes()})
}

func (f *Feed) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device = ""
}

func (f *Feed) broadcastLocked(subs map[*subscriber]struct{}, msg message) {
	for sub := range subs {
		select {
		case sub.send <- msg:
		default:
			f.logger.Debug("subscriber queue full, dropping message", "remote", sub.conn.RemoteAddr().String())
		}
	}
}

// ServeEvents upgrades the request and streams JSON events until the peer
// goes away or the feed is closed. The latest state is sent first.
func (f *Feed) ServeEvents(w http.ResponseWriter, r *http.Request) {
	f.serve(w, r, false)
}

// ServePreview upgrades the request and streams binary JPEG frames.
func (f *Feed) ServePreview(w http.ResponseWriter, r *http.Request) {
	f.serve(w, r, true)
}

func (f *Feed) serve(w http.ResponseWriter, r *http.Request, preview bool) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan message, sendQueue)}
	if !f.subscribe(sub, preview) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
		conn.Close()
		return
	}
	f.logger.Info("subscriber connected", "remote", r.RemoteAddr, "preview", preview)

	go f.writePump(sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.unsubscribe(sub, preview)
	f.logger.Info("subscriber disconnected", "remote", r.RemoteAddr, "preview", preview)
}

func (f *Feed) subscribe(sub *subscriber, preview bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if preview {
		f.previews[sub] = struct{}{}
		return true
	}
	f.events[sub] = struct{}{}
	if f.last != nil {
		if data, err := json.Marshal(f.last); err == nil {
			sub.send <- message{websocket.TextMessage, data}
		}
	}
	return true
}

func (f *Feed) unsubscribe(sub *subscriber, preview bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.events
	if preview {
		subs = f.previews
	}
	if _, ok := subs[sub]; ok {
		delete(subs, sub)
		close(sub.send)
	}
}

// writePump drains the queue, then says goodbye once the queue is closed.
func (f *Feed) writePump(sub *subscriber) {
	defer sub.conn.Close()
	for msg := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(msg.kind, msg.data); err != nil {
			f.logger.Debug("write to subscriber failed", "error", err)
			return
		}
	}
	sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
}

// Subscribers reports the number of connected event and preview peers.
func (f *Feed) Subscribers() (events, previews int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events), len(f.previews)
}

// Close disconnects every subscriber after its queued messages are written
// and refuses new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, subs := range []map[*subscriber]struct{}{f.events, f.previews} {
		for sub := range subs {
			delete(subs, sub)
			close(sub.send)
		}
	}
}
