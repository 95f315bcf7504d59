package main

import "C"

import (
	"sync"

	"BarcodeScanner/internal/api"
)

// exported tracks the sessions opened through OpenScanner.
var exported struct {
	sync.Mutex
	ids []string
}

// OpenScanner opens a session for a host application and returns 0, or a
// negative code. The configs payload is the JSON accepted by
// POST /scanner/open.
//
//export OpenScanner
func OpenScanner(configs *C.char) int {
	if err := setup(defaultConfigPath); err != nil {
		return api.CodeOpenFailed
	}
	req, code, err := api.ParseOpenRequest(C.GoString(configs))
	if err != nil {
		logger.Warn("OpenScanner rejected", "code", code, "error", err)
		return code
	}
	id, code, err := scanner.Open(req)
	if err != nil {
		logger.Warn("OpenScanner failed", "code", code, "error", err)
		return code
	}

	exported.Lock()
	exported.ids = append(exported.ids, id)
	exported.Unlock()
	logger.Info("OpenScanner", "session_id", id)
	return 0
}

// CloseScanner closes the session with the given id. An empty id closes
// every session opened through OpenScanner.
//
//export CloseScanner
func CloseScanner(id *C.char) int {
	if err := setup(defaultConfigPath); err != nil {
		return api.CodeOpenFailed
	}

	exported.Lock()
	ids := exported.ids
	if target := C.GoString(id); target != "" {
		ids = []string{target}
		exported.ids = without(exported.ids, target)
	} else {
		exported.ids = nil
	}
	exported.Unlock()

	if len(ids) == 0 {
		return api.CodeNotFound
	}
	result := 0
	for _, sid := range ids {
		if code, err := scanner.Close(sid); err != nil {
			logger.Warn("CloseScanner failed", "session_id", sid, "code", code, "error", err)
			result = code
		}
	}
	return result
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
