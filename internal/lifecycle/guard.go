package lifecycle

import (
	"fmt"
	"sync"

	"github.com/dooshek/loopmic/internal/logger"
	"github.com/dooshek/loopmic/internal/notification"
	"github.com/godbus/dbus/v5"
)

// StatusPaused is the status left behind when the guard forces a stop. It is
// distinct from the ready message so the user can tell why audio stopped;
// monitoring never resumes on its own.
const StatusPaused = "Paused. Screen locked while monitoring; toggle to resume."

const (
	screenSaverSignal = "org.freedesktop.ScreenSaver.ActiveChanged"
	sleepSignal       = "org.freedesktop.login1.Manager.PrepareForSleep"
)

// Session is the slice of the controller the guard drives.
type Session interface {
	Active() bool
	StopWithStatus(status string)
	Shutdown()
}

// Guard enforces "audio only flows while the desktop is visible". It watches
// screen-lock on the session bus and suspend on the system bus, and forces
// the session down when either fires. The subscriptions are scoped to the
// guard's lifetime and released on Close on every exit path.
type Guard struct {
	session  Session
	notifier notification.Notifier

	sessionBus *dbus.Conn
	systemBus  *dbus.Conn
	signals    chan *dbus.Signal
	done       chan struct{}
	closeOnce  sync.Once
}

// Watch connects the bus subscriptions and starts the guard. The system bus
// half is best-effort: suspend detection is skipped when logind is absent.
func Watch(sess Session, notifier notification.Notifier) (*Guard, error) {
	if notifier == nil {
		notifier = notification.NewSilent()
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.ScreenSaver"),
		dbus.WithMatchMember("ActiveChanged"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to screensaver signals: %w", err)
	}

	g := &Guard{
		session:    sess,
		notifier:   notifier,
		sessionBus: conn,
		signals:    make(chan *dbus.Signal, 8),
		done:       make(chan struct{}),
	}
	conn.Signal(g.signals)

	if sysConn, err := dbus.ConnectSystemBus(); err != nil {
		logger.Warnf("suspend detection unavailable: %v", err)
	} else if err := sysConn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		logger.Warnf("suspend detection unavailable: %v", err)
		sysConn.Close()
	} else {
		g.systemBus = sysConn
		sysConn.Signal(g.signals)
	}

	go g.watch()
	logger.Debug("lifecycle guard watching desktop visibility")
	return g, nil
}

func (g *Guard) watch() {
	defer close(g.done)
	for sig := range g.signals {
		g.handle(sig)
	}
}

// handle reacts to a single bus signal. Split out from the watch loop so the
// decision logic is testable without a live bus.
func (g *Guard) handle(sig *dbus.Signal) {
	var hidden bool
	switch sig.Name {
	case screenSaverSignal, sleepSignal:
		// Both carry a single boolean: true when the screen locks or the
		// machine prepares to sleep, false on the way back.
		hidden = signalBool(sig)
	default:
		return
	}

	if !hidden || !g.session.Active() {
		return
	}

	logger.Infof("desktop no longer visible (%s), pausing monitor", sig.Name)
	g.session.StopWithStatus(StatusPaused)
	g.notifier.NotifyMonitorPaused(StatusPaused)
}

func signalBool(sig *dbus.Signal) bool {
	if len(sig.Body) == 0 {
		return false
	}
	b, ok := sig.Body[0].(bool)
	return ok && b
}

// Close releases the bus subscriptions and forces the session down with no
// status update; the owning context is ending. Safe to call more than once.
func (g *Guard) Close() {
	g.closeOnce.Do(func() {
		g.sessionBus.RemoveSignal(g.signals)
		g.sessionBus.Close()
		if g.systemBus != nil {
			g.systemBus.RemoveSignal(g.signals)
			g.systemBus.Close()
		}
		close(g.signals)
		<-g.done

		g.session.Shutdown()
	})
}
