package client

import (
	"time"

	log "github.com/sirupsen/logrus"

	"storyboard/domain"
)

// Renderer is the narrow contract the board session needs from a
// presentation layer. The session never touches presentation state
// directly; it only announces what the view should do.
type Renderer interface {
	// RevertMove returns a card's visual position to the given status
	// group after a rejected or failed move.
	RevertMove(id, status string)
	// ScheduleMove animates a remotely-changed card into its new status
	// group after the given delay.
	ScheduleMove(id, status string, delay time.Duration)
	// Alert surfaces a blocking user notification.
	Alert(title, message string)
	// CollectInfo asks the user for the extra fields a status rule
	// requires. Collection is decoupled from the move itself.
	CollectInfo(id string, fields []domain.FieldSpec)
	// SetSaving toggles the saving indicator.
	SetSaving(saving bool)
}

// NopRenderer discards every presentation event. Useful for headless
// sessions and tests.
type NopRenderer struct{}

func (NopRenderer) RevertMove(string, string) {}

func (NopRenderer) ScheduleMove(string, string, time.Duration) {}

func (NopRenderer) Alert(string, string) {}

func (NopRenderer) CollectInfo(string, []domain.FieldSpec) {}

func (NopRenderer) SetSaving(bool) {}

// LogRenderer writes presentation events to a logger. It backs the
// boardwatch binary and doubles as a reference Renderer implementation.
type LogRenderer struct {
	Logger *log.Logger
}

func (r LogRenderer) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.StandardLogger()
}

func (r LogRenderer) RevertMove(id, status string) {
	r.logger().WithFields(log.Fields{"card": id, "status": status}).Info("move reverted")
}

func (r LogRenderer) ScheduleMove(id, status string, delay time.Duration) {
	r.logger().WithFields(log.Fields{"card": id, "status": status, "delay": delay}).Info("card moved remotely")
}

func (r LogRenderer) Alert(title, message string) {
	r.logger().WithFields(log.Fields{"title": title}).Warn(message)
}

func (r LogRenderer) CollectInfo(id string, fields []domain.FieldSpec) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.ID
	}
	r.logger().WithFields(log.Fields{"card": id, "fields": names}).Info("additional information required")
}

func (r LogRenderer) SetSaving(saving bool) {
	if saving {
		r.logger().Debug("saving")
	}
}
