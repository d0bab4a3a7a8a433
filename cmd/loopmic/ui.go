package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dooshek/loopmic/internal/logger"
	"github.com/dooshek/loopmic/internal/session"
	"github.com/fatih/color"
)

const (
	meterWidth = 40
	gainStep   = 0.1
)

var (
	stateActive = color.New(color.FgGreen, color.Bold)
	stateError  = color.New(color.FgRed, color.Bold)
	stateIdle   = color.New(color.FgWhite)
	meterLow    = color.New(color.FgGreen)
	meterMid    = color.New(color.FgYellow)
	meterHigh   = color.New(color.FgRed)
)

// terminalUI is the presentation layer: it renders published snapshots and
// forwards key presses to the controller. No session logic lives here.
type terminalUI struct {
	ctrl *session.Controller

	mu   sync.Mutex
	snap session.Snapshot

	refresh  time.Duration
	quit     chan struct{}
	restore  func()
	doneOnce sync.Once
}

func newTerminalUI(ctrl *session.Controller, refreshHz int) *terminalUI {
	if refreshHz <= 0 {
		refreshHz = 60
	}
	ui := &terminalUI{
		ctrl:    ctrl,
		snap:    ctrl.Snapshot(),
		refresh: time.Second / time.Duration(refreshHz),
		quit:    make(chan struct{}),
	}
	ctrl.Subscribe(ui.update)
	return ui
}

// update receives every published snapshot; it only stores, the render ticker
// draws.
func (ui *terminalUI) update(s session.Snapshot) {
	ui.mu.Lock()
	ui.snap = s
	ui.mu.Unlock()
}

// run takes over the terminal until q or EOF.
func (ui *terminalUI) run() {
	ui.restore = enableRawInput()

	go ui.render()

	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		switch buf[0] {
		case ' ', '\n', '\r':
			ui.ctrl.Toggle()
		case '+', '=':
			ui.ctrl.SetGain(ui.ctrl.Gain() + gainStep)
		case '-', '_':
			ui.ctrl.SetGain(ui.ctrl.Gain() - gainStep)
		case 'q', 'Q', 3: // 3 = ctrl-c in raw mode
			return
		}
	}
}

func (ui *terminalUI) render() {
	ticker := time.NewTicker(ui.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ui.quit:
			return
		case <-ticker.C:
			ui.mu.Lock()
			snap := ui.snap
			ui.mu.Unlock()
			ui.draw(snap)
		}
	}
}

func (ui *terminalUI) draw(snap session.Snapshot) {
	var label string
	switch snap.State {
	case session.StateActive:
		label = stateActive.Sprint("● live")
	case session.StateError:
		label = stateError.Sprint("✖ error")
	default:
		label = stateIdle.Sprint("○ idle")
	}

	filled := int(snap.Level / 100 * meterWidth)
	if filled > meterWidth {
		filled = meterWidth
	}
	bar := meterColor(snap.Level).Sprint(strings.Repeat("█", filled)) +
		strings.Repeat("░", meterWidth-filled)

	status := snap.Status
	if len(status) > 60 {
		status = status[:57] + "..."
	}

	fmt.Printf("\r\x1b[2K%s ▕%s▏ %3.0f  gain %.1f  %s", label, bar, snap.Level, snap.Gain, status)
}

func meterColor(level float64) *color.Color {
	switch {
	case level > 80:
		return meterHigh
	case level > 50:
		return meterMid
	default:
		return meterLow
	}
}

// close stops rendering and hands the terminal back.
func (ui *terminalUI) close() {
	ui.doneOnce.Do(func() {
		close(ui.quit)
		if ui.restore != nil {
			ui.restore()
		}
		fmt.Println()
	})
}

// enableRawInput puts the terminal into cbreak mode so single key presses
// arrive without enter, and returns the undo.
func enableRawInput() func() {
	saved := sttyOutput("-g")

	raw := exec.Command("stty", "cbreak", "-echo")
	raw.Stdin = os.Stdin
	if err := raw.Run(); err != nil {
		logger.Warnf("Could not switch terminal to cbreak mode: %v", err)
		return func() {}
	}

	return func() {
		var restore *exec.Cmd
		if saved != "" {
			restore = exec.Command("stty", saved)
		} else {
			restore = exec.Command("stty", "sane")
		}
		restore.Stdin = os.Stdin
		if err := restore.Run(); err != nil {
			logger.Warnf("Could not restore terminal settings: %v", err)
		}
	}
}

func sttyOutput(arg string) string {
	cmd := exec.Command("stty", arg)
	cmd.Stdin = os.Stdin
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
