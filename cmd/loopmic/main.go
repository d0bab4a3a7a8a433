package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dooshek/loopmic/internal/audio"
	"github.com/dooshek/loopmic/internal/config"
	"github.com/dooshek/loopmic/internal/fileops"
	"github.com/dooshek/loopmic/internal/lifecycle"
	"github.com/dooshek/loopmic/internal/logger"
	"github.com/dooshek/loopmic/internal/notification"
	"github.com/dooshek/loopmic/internal/session"
	"github.com/dooshek/loopmic/internal/state"
	"github.com/dooshek/loopmic/internal/types"
)

func init() {
	// Set custom usage message to show -- prefix
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(out, "  --%s", f.Name)
			name, usage := flag.UnquoteUsage(f)
			if len(name) > 0 {
				fmt.Fprintf(out, " %s", name)
			}
			fmt.Fprintf(out, "\n    \t%s", usage)
			if f.DefValue != "" && f.DefValue != "false" {
				fmt.Fprintf(out, " (default %q)", f.DefValue)
			}
			fmt.Fprintf(out, "\n")
		})
	}
}

func main() {
	logLevel := flag.String("log-level", "info", "Set log level (debug|info|warn|error)")
	logFilename := flag.String("log-filename", "", "Log to file instead of stderr")
	gainFlag := flag.Float64("gain", -1, "Initial gain [0.0-2.0] (overrides config)")
	deviceFlag := flag.String("device", "", "Capture device name (overrides config)")
	listDevices := flag.Bool("list-devices", false, "List capture devices and exit")
	flag.Parse()

	logger.SetLevel(*logLevel)
	if *logFilename != "" {
		if err := logger.SetOutputFile(*logFilename); err != nil {
			fmt.Printf("Error setting log file: %v\n", err)
			os.Exit(1)
		}
		defer logger.CloseLogFile()
	}

	if *listDevices {
		devices, err := audio.CaptureDevices()
		if err != nil {
			logger.Error("Failed to enumerate capture devices", err)
			os.Exit(1)
		}
		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, d.Name)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Error loading config", err)
		os.Exit(1)
	}
	if *deviceFlag != "" {
		cfg.Audio.Device = *deviceFlag
	}
	if *gainFlag >= 0 {
		cfg.Gain = types.ClampGain(*gainFlag)
	}
	state.Init(cfg)

	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		logger.Error("Failed to initialize file operations", err)
		os.Exit(1)
	}
	if err := fileOps.EnsureDirectories(); err != nil {
		logger.Error("Failed to create necessary directories", err)
		os.Exit(1)
	}

	// Two instances would fight over the capture device
	if err := fileOps.CheckPID(); err != nil {
		if errors.Is(err, fileops.ErrProcessAlreadyRunning) {
			logger.Error("Another instance of loopmic is already running", err)
			os.Exit(1)
		}
	}
	if err := fileOps.SavePID(); err != nil {
		logger.Error("Failed to save PID file", err)
		os.Exit(1)
	}

	notifier := notification.NewSilent()
	if state.Get().NotificationsEnabled() {
		notifier = notification.New()
	}

	open := func(gain float64) (session.Graph, error) {
		g, err := audio.Open(audio.OpenConfig{
			Device:     cfg.Audio.Device,
			SampleRate: cfg.Audio.SampleRate,
			Gain:       gain,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	ctrl := session.New(session.Config{
		Open:      open,
		Notifier:  notifier,
		Gain:      cfg.Gain,
		RefreshHz: cfg.Meter.RefreshHz,
	})

	guard, err := lifecycle.Watch(ctrl, notifier)
	if err != nil {
		// Headless or bus-less environments still get the user toggle
		logger.Warnf("Lifecycle guard unavailable: %v", err)
	}

	ui := newTerminalUI(ctrl, cfg.Meter.RefreshHz)

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			if guard != nil {
				guard.Close()
			} else {
				ctrl.Shutdown()
			}
			ui.close()
			if err := fileOps.CleanupPID(); err != nil {
				logger.Error("Failed to cleanup PID file", err)
			}
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Infof("Received signal %v, shutting down...", sig)
		shutdown()
		os.Exit(0)
	}()

	logger.Info("Press space to start/stop monitoring, +/- to adjust gain, q to quit")

	ui.run()
	shutdown()
}
