package config

import (
	"sort"
	"sync"

	"BarcodeScanner/internal/feed"
	"BarcodeScanner/internal/scan"
)

// Config global
var Config = NewSessions()

// Sessions is the registry of sessions owned by the process.
type Sessions struct {
	mutex   sync.RWMutex
	entries map[string]Entry
}

// Entry is one registered session. Device is the device the caller asked
// for, empty when the session picks its own.
type Entry struct {
	Session *scan.Session
	Feed    *feed.Feed
	Device  string
	Cancel  func()
}

func NewSessions() *Sessions {
	return &Sessions{entries: make(map[string]Entry)}
}

// AddSession registers entry under its session id. It refuses a duplicate
// id and a second live session on the same device.
func (element *Sessions) AddSession(entry Entry) bool {
	element.mutex.Lock()
	defer element.mutex.Unlock()

	id := entry.Session.ID()
	if _, ok := element.entries[id]; ok {
		return false
	}
	if entry.Device != "" && element.deviceInUseLocked(entry.Device) {
		return false
	}
	element.entries[id] = entry
	return true
}

// DelSession unregisters id and returns what was stored.
func (element *Sessions) DelSession(id string) (Entry, bool) {
	element.mutex.Lock()
	defer element.mutex.Unlock()

	entry, ok := element.entries[id]
	if ok {
		delete(element.entries, id)
	}
	return entry, ok
}

func (element *Sessions) Get(id string) (Entry, bool) {
	element.mutex.RLock()
	defer element.mutex.RUnlock()
	entry, ok := element.entries[id]
	return entry, ok
}

func (element *Sessions) Exist(id string) bool {
	_, ok := element.Get(id)
	return ok
}

// DeviceInUse reports whether a live session asked for or is bound to
// deviceID.
func (element *Sessions) DeviceInUse(deviceID string) bool {
	element.mutex.RLock()
	defer element.mutex.RUnlock()
	return element.deviceInUseLocked(deviceID)
}

func (element *Sessions) deviceInUseLocked(deviceID string) bool {
	for _, e := range element.entries {
		if e.Session.State().Kind == scan.StateClosed {
			continue
		}
		if e.Device == deviceID || e.Session.DeviceID() == deviceID {
			return true
		}
	}
	return false
}

// List returns the registered ids sorted, and the first of them.
func (element *Sessions) List() (string, []string) {
	element.mutex.RLock()
	defer element.mutex.RUnlock()
	res := make([]string, 0, len(element.entries))
	for k := range element.entries {
		res = append(res, k)
	}
	sort.Strings(res)
	var first string
	if len(res) > 0 {
		first = res[0]
	}
	return first, res
}

// Sweep drops sessions that reached Closed and returns them so the caller
// can release what they own.
func (element *Sessions) Sweep() []Entry {
	element.mutex.Lock()
	defer element.mutex.Unlock()
	var swept []Entry
	for id, e := range element.entries {
		if e.Session.State().Kind == scan.StateClosed {
			delete(element.entries, id)
			swept = append(swept, e)
		}
	}
	return swept
}
