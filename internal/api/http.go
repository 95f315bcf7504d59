package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"BarcodeScanner/internal/scan"
)

// NewRouter wires the scanner endpoints.
func NewRouter(s *Scanner) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())

	router.POST("/scanner/open", s.handleOpen)
	router.POST("/scanner/close", s.handleClose)
	router.POST("/scanner/switch", s.handleSwitch)
	router.POST("/scanner/torch", s.handleTorch)
	router.POST("/scanner/retry", s.handleRetry)
	router.GET("/scanner/state", s.handleState)
	router.GET("/scanner/devices", s.handleDevices)
	router.GET("/scanner/events", s.handleEvents)
	router.GET("/scanner/preview", s.handlePreview)

	return router
}

// Serve runs the HTTP server until it fails.
func Serve(addr string, s *Scanner) error {
	s.logger.Info("starting HTTP server", "addr", addr)
	return NewRouter(s).Run(addr)
}

func (s *Scanner) handleOpen(c *gin.Context) {
	req, code, err := ParseOpenRequest(c.PostForm("configs"))
	if err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	id, code, err := s.Open(req)
	if err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	s.MakeResponse(true, code, id, c)
}

func (s *Scanner) handleClose(c *gin.Context) {
	id := c.PostForm("id")
	if code, err := s.Close(id); err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	s.MakeResponse(true, CodeOK, fmt.Sprintf("Close session %s successfully!", id), c)
}

// handleSwitch cycles to the next device, or binds device_id when given.
func (s *Scanner) handleSwitch(c *gin.Context) {
	entry, code, err := s.Lookup(c.PostForm("id"))
	if err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	if target := c.PostForm("device_id"); target != "" {
		err = entry.Session.SelectDevice(target)
	} else {
		err = entry.Session.SwitchDevice()
	}
	if err != nil {
		s.MakeResponse(false, errorCode(err), err.Error(), c)
		return
	}
	s.MakeResponse(true, CodeOK, entry.Session.State().String(), c)
}

func (s *Scanner) handleTorch(c *gin.Context) {
	entry, code, err := s.Lookup(c.PostForm("id"))
	if err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	capab, err := entry.Session.ToggleTorch()
	if err != nil {
		s.MakeResponse(false, errorCode(err), err.Error(), c)
		return
	}
	if !capab.Supported {
		s.MakeResponse(false, CodeInvalidState, "torch not supported by the current device", c)
		return
	}
	msg := "off"
	if capab.On {
		msg = "on"
	}
	s.MakeResponse(true, CodeOK, msg, c)
}

func (s *Scanner) handleRetry(c *gin.Context) {
	id := c.PostForm("id")
	if code, err := s.Retry(id); err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	s.MakeResponse(true, CodeOK, fmt.Sprintf("Retry session %s", id), c)
}

func (s *Scanner) handleState(c *gin.Context) {
	entry, code, err := s.Lookup(c.Query("id"))
	if err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	st := entry.Session.State()
	c.JSON(http.StatusOK, gin.H{
		"state":   CodeOK,
		"code":    st.Kind.String(),
		"error":   st.Message(),
		"policy":  entry.Session.Policy().String(),
		"devices": entry.Session.Devices(),
		"torch":   entry.Session.Torch(),
		"stats":   entry.Session.Stats(),
	})
}

func (s *Scanner) handleDevices(c *gin.Context) {
	devices, err := s.Devices(c.Request.Context())
	if err != nil {
		s.MakeResponse(false, errorCode(err), err.Error(), c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": CodeOK, "code": "", "devices": devices})
}

func (s *Scanner) handleEvents(c *gin.Context) {
	entry, code, err := s.Lookup(c.Query("id"))
	if err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	entry.Feed.ServeEvents(c.Writer, c.Request)
}

func (s *Scanner) handlePreview(c *gin.Context) {
	entry, code, err := s.Lookup(c.Query("id"))
	if err != nil {
		s.MakeResponse(false, code, err.Error(), c)
		return
	}
	entry.Feed.ServePreview(c.Writer, c.Request)
}

// errorCode maps session errors onto response codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, scan.ErrInvalidTransition):
		return CodeInvalidState
	case errors.Is(err, scan.ErrNoDeviceFound):
		return CodeNotFound
	case errors.Is(err, scan.ErrDeviceBusy):
		return CodeDeviceInUse
	}
	return CodeOpenFailed
}

func (s *Scanner) MakeResponse(success bool, code int, data string, c *gin.Context) {
	var state = 1
	if !success {
		state = code
	}
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	s.logger.Log(c.Request.Context(), level, "response", "path", c.FullPath(), "success", success, "code", code, "msg", data)
	c.JSON(http.StatusOK, gin.H{"state": state, "code": data})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization, x-access-token")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Access-Control-Allow-Origin, Access-Control-Allow-Headers, Cache-Control, Content-Language, Content-Type")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
