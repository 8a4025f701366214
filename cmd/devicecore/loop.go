package main

import (
	"errors"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/mqtt"
	"github.com/sweeney/devicecore/internal/settings"
	"github.com/sweeney/devicecore/internal/status"
)

var errStopped = errors.New("scheduler stopped")

// applyRequest carries a settings write onto the loop goroutine so change
// listeners never race the managers they reconfigure.
type applyRequest struct {
	key  string
	raw  string
	done chan error
}

// loopSettings implements web.Settings by forwarding writes to runLoop.
type loopSettings struct {
	reg     *settings.Registry
	reqs    chan applyRequest
	stopped chan struct{}
}

func newLoopSettings(reg *settings.Registry) *loopSettings {
	return &loopSettings{reg: reg, reqs: make(chan applyRequest), stopped: make(chan struct{})}
}

func (s *loopSettings) Entries() []settings.Entry {
	return s.reg.Entries()
}

func (s *loopSettings) Apply(key, raw string) error {
	req := applyRequest{key: key, raw: raw, done: make(chan error, 1)}
	select {
	case s.reqs <- req:
	case <-s.stopped:
		return errStopped
	}
	return <-req.done
}

func (s *loopSettings) stop() {
	close(s.stopped)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// publishStatus sends a lifecycle message carrying the latest runtime
// snapshot.
func publishStatus(pub mqtt.Publisher, reg *status.Registry, name, reason string, retained bool, logger *zap.Logger) {
	if pub == nil {
		return
	}
	snap := reg.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := pub.PublishSystem(ev); err != nil {
		logger.Warn("publish system event", zap.String("event", name), zap.Error(err))
		return
	}
	logger.Debug("published system event", zap.String("event", name))
}

// runLoop is the cooperative scheduler. Every manager runs on this
// goroutine; settings writes arrive on applies. It returns after a signal.
func runLoop(a *app, pub mqtt.Publisher, heartbeat time.Duration, tick <-chan time.Time, sig <-chan os.Signal, applies <-chan applyRequest) error {
	lastHeartbeat := a.now()

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			a.logger.Info("shutting down", zap.String("signal", name))
			a.status.Refresh()
			publishStatus(pub, a.status, "SHUTDOWN", name, true, a.logger)
			return nil

		case req := <-applies:
			req.done <- a.settings.Apply(req.key, req.raw)

		case <-tick:
			a.tick()

			t := a.now()
			if heartbeat > 0 && t.Sub(lastHeartbeat) >= heartbeat {
				lastHeartbeat = t
				publishStatus(pub, a.status, "HEARTBEAT", "", false, a.logger)
			}
		}
	}
}
