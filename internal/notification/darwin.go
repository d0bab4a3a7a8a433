package notification

import (
	"fmt"
	"os/exec"

	"github.com/dooshek/loopmic/internal/logger"
)

type darwinNotifier struct{}

func newDarwinNotifier() platformNotifier {
	return &darwinNotifier{}
}

func (n *darwinNotifier) send(title, message string) error {
	logger.Debugf("Sending macOS notification: %s - %s", title, message)
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		logger.Errorf("Failed to send macOS notification: %v", err)
		return err
	}
	return nil
}
