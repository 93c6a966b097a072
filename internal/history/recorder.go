package history

import (
	"context"
	"fmt"
	"time"

	"github.com/homebrain/insteon-core/internal/events"
)

// recordTimeout bounds each insert so a wedged database cannot stall
// the pipeline's dispatch goroutine.
const recordTimeout = 2 * time.Second

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder persists device_state events from the pipeline.
//
// It implements events.Subscriber. Insert failures are logged and
// swallowed so a database problem never detaches the recorder.
type Recorder struct {
	repo Repository
	log  Logger
}

// NewRecorder creates a recorder writing through the given repository.
func NewRecorder(repo Repository, log Logger) *Recorder {
	return &Recorder{repo: repo, log: log}
}

// Send implements events.Subscriber.
func (r *Recorder) Send(ev events.Event) error {
	if ev.Type != events.TypeDeviceState || ev.DeviceID == "" || ev.Name == "" {
		return nil
	}

	entry := Entry{
		DeviceID: ev.DeviceID,
		Channel:  ev.Name,
		Value:    fmt.Sprintf("%v", ev.Value),
	}
	if ev.Group != nil {
		entry.Group = *ev.Group
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Record(ctx, &entry); err != nil {
		r.log.Warn("recording state history failed",
			"device_id", ev.DeviceID,
			"channel", ev.Name,
			"error", err,
		)
	}
	return nil
}
