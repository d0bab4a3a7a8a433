package notification

import (
	"runtime"

	"github.com/dooshek/loopmic/internal/logger"
)

// Notifier defines the interface for system notifications
type Notifier interface {
	NotifyMonitorStarted() error
	NotifyMonitorPaused(reason string) error
	NotifyMonitorError(cause string) error
	Notify(title, message string) error
}

// SilentNotifier is a no-op implementation used when notifications are
// disabled in config and in tests
type SilentNotifier struct{}

func NewSilent() Notifier {
	return &SilentNotifier{}
}

func (s *SilentNotifier) NotifyMonitorStarted() error             { return nil }
func (s *SilentNotifier) NotifyMonitorPaused(reason string) error { return nil }
func (s *SilentNotifier) NotifyMonitorError(cause string) error   { return nil }
func (s *SilentNotifier) Notify(title, message string) error      { return nil }

type baseNotifier struct {
	platform platformNotifier
}

type platformNotifier interface {
	send(title, message string) error
}

// New creates a new platform-specific notification service
func New() Notifier {
	logger.Debug("Initializing notification system")
	var platform platformNotifier
	switch runtime.GOOS {
	case "darwin":
		logger.Debug("Using Darwin (macOS) notifier")
		platform = newDarwinNotifier()
	default:
		logger.Debug("Using Linux notifier")
		platform = newLinuxNotifier()
	}
	return &baseNotifier{platform: platform}
}

// Common implementation for all platforms
func (n *baseNotifier) NotifyMonitorStarted() error {
	return n.Notify("Mic Monitor", "Routing microphone to output")
}

func (n *baseNotifier) NotifyMonitorPaused(reason string) error {
	return n.Notify("Mic Monitor", reason)
}

func (n *baseNotifier) NotifyMonitorError(cause string) error {
	return n.Notify("Mic Monitor", "Could not start: "+cause)
}

func (n *baseNotifier) Notify(title, message string) error {
	return n.platform.send(title, message)
}
