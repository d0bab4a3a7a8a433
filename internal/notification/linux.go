package notification

import (
	"os/exec"

	"github.com/dooshek/loopmic/internal/logger"
)

type linuxNotifier struct{}

func newLinuxNotifier() platformNotifier {
	return &linuxNotifier{}
}

func (n *linuxNotifier) send(title, message string) error {
	logger.Debugf("Sending notification: %s - %s", title, message)
	go func() {
		if err := exec.Command("notify-send", title, message).Run(); err != nil {
			logger.Errorf("Failed to send notification: %v", err)
		}
	}()
	return nil
}
