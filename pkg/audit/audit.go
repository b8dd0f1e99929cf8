// Package audit defines the fire-and-forget action notifier the report
// engine emits events to. Recording never blocks and never fails a
// request; persistence of audit events lives outside the engine.
package audit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reportgrid/pkg/config"
)

// Action tags mirror the ones the operators' audit trail has always used.
type Action string

const (
	ActionLogin            Action = "login"
	ActionLogout           Action = "logout"
	ActionAutoLogout       Action = "auto-logout"
	ActionReportGenerated  Action = "report-generated"
	ActionReportDownloaded Action = "report-downloaded"
	ActionTemplateCreated  Action = "created-template"
	ActionTemplateDeleted  Action = "deleted-template"
)

// Notifier accepts an action tag and actor identity. Implementations must
// not block the caller.
type Notifier interface {
	Record(action Action, actor string)
}

// Noop discards all events. Default when no notifier is wired.
type Noop struct{}

// Record does nothing.
func (Noop) Record(Action, string) {}

type event struct {
	action Action
	actor  string
	at     time.Time
}

// LogNotifier writes audit events as structured log lines from a buffered
// background goroutine. Events are dropped rather than blocking when the
// buffer is full.
type LogNotifier struct {
	logger    zerolog.Logger
	ch        chan event
	done      chan struct{}
	closeOnce sync.Once
}

// NewLogNotifier starts a notifier writing to the given logger.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	n := &LogNotifier{
		logger: logger,
		ch:     make(chan event, config.AuditQueueSize),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Record enqueues an event, dropping it if the queue is full.
func (n *LogNotifier) Record(action Action, actor string) {
	select {
	case n.ch <- event{action: action, actor: actor, at: time.Now()}:
	default:
	}
}

// Close flushes queued events and stops the background goroutine.
func (n *LogNotifier) Close() {
	n.closeOnce.Do(func() {
		close(n.ch)
		<-n.done
	})
}

func (n *LogNotifier) run() {
	defer close(n.done)
	for ev := range n.ch {
		n.logger.Info().
			Str("action", string(ev.action)).
			Str("actor", ev.actor).
			Time("at", ev.at).
			Msg("audit event")
	}
}
