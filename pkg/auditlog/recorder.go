package auditlog

import (
	"context"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/bus"
)

// Recorder mirrors bus events into the audit log.
type Recorder struct {
	writer *Writer
	events *bus.Bus
	logger *zap.Logger

	// Topics limits what gets recorded. Empty records everything.
	Topics []string
}

// NewRecorder creates a recorder writing bus events through w.
func NewRecorder(w *Writer, events *bus.Bus, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		writer: w,
		events: events,
		logger: logger.Named("auditlog"),
	}
}

// Run consumes bus events until the context is cancelled or the bus
// closes. Append failures are logged and skipped so a full disk never
// stalls the control loop.
func (r *Recorder) Run(ctx context.Context) error {
	topics := r.Topics
	if len(topics) == 0 {
		topics = []string{bus.TopicAll}
	}
	ch, cancel := r.events.Subscribe(topics...)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.writer.Append(FromEvent(ev)); err != nil {
				r.logger.Warn("appending audit entry failed",
					zap.String("topic", ev.Topic), zap.Error(err))
			}
		}
	}
}
