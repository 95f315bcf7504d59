package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"BarcodeScanner/internal/api"
	"BarcodeScanner/internal/config"
	"BarcodeScanner/internal/decoder"
	"BarcodeScanner/internal/imagecam"
	"BarcodeScanner/internal/media"
	"BarcodeScanner/internal/scan"
)

const defaultConfigPath = "scanner.yaml"

var (
	setupOnce sync.Once
	setupErr  error

	settings *config.Settings
	logger   *slog.Logger
	scanner  *api.Scanner
	stop     context.CancelFunc
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML settings file")
	flag.Parse()

	if err := setup(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "scanner:", err)
		os.Exit(1)
	}

	go func() {
		if err := api.Serve(settings.HTTPAddr, scanner); err != nil {
			logger.Error("HTTP server stopped", "error", err)
			os.Exit(1)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("server started, awaiting signal")
	sig := <-sigs
	logger.Info("exiting", "signal", sig.String())

	scanner.Shutdown()
	stop()
}

// setup loads settings, builds the logger and the process-wide scanner. It
// runs once; later calls return the first result.
func setup(configPath string) error {
	setupOnce.Do(func() {
		s, err := config.Load(configPath)
		if err != nil {
			setupErr = fmt.Errorf("load settings: %w", err)
			return
		}
		settings = s

		out, err := logOutput(s.LogFile)
		if err != nil {
			setupErr = err
			return
		}
		logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: s.Level()}))
		slog.SetDefault(logger)

		if dir := s.Scanner.ImageCameraDir; dir != "" {
			label, err := imagecam.Register(dir, s.Scanner.ImageCameraFPS, logger)
			if err != nil {
				logger.Warn("image camera not registered", "dir", dir, "error", err)
			} else {
				logger.Info("image camera registered", "label", label)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		stop = cancel
		devices := media.New(s.MediaOptions(), logger)
		newDecoder := func() scan.Decoder { return decoder.New(logger) }
		scanner = api.NewScanner(ctx, s, devices, newDecoder, config.Config, logger)
		logger.Info("service starting", "config", configPath, "http_addr", s.HTTPAddr)
	})
	return setupErr
}

func logOutput(path string) (io.Writer, error) {
	if path == "" {
		return os.Stdout, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
