package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/wricardo/schoolbus-tracker/tracker/protocol"
	"github.com/wricardo/schoolbus-tracker/tracker/registry"
	"go.uber.org/zap"
)

// ErrDeliveryFailure marks a recipient whose transport could not take the
// frame. It is recorded in the Report and never returned to a sender.
var ErrDeliveryFailure = errors.New("delivery failure")

// Failure is one recipient that did not receive the frame.
type Failure struct {
	UserID string
	Err    error
}

// Report summarises one fan-out.
type Report struct {
	Delivered int
	Failed    int
	Failures  []Failure
}

// Dispatcher pushes outbound frames to live connections. Delivery is
// at-most-once: there is no retry and no queue for offline recipients.
type Dispatcher struct {
	logger *zap.Logger
}

// New creates a Dispatcher. A nil logger discards output.
func New(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Dispatch encodes ev once and offers it to every recipient. A failing
// recipient is recorded and the remaining recipients are still served.
func (d *Dispatcher) Dispatch(ctx context.Context, ev protocol.Outbound, recipients []*registry.Connection) Report {
	var report Report
	if len(recipients) == 0 {
		return report
	}

	frame, err := protocol.Encode(ev)
	if err != nil {
		d.logger.Error("encode outbound frame", zap.String("type", ev.Type), zap.Error(err))
		for _, c := range recipients {
			report.fail(c, err)
		}
		return report
	}

	for _, c := range recipients {
		if ctx.Err() != nil {
			report.fail(c, ctx.Err())
			continue
		}
		if err := send(c, frame); err != nil {
			report.fail(c, err)
			continue
		}
		report.Delivered++
	}

	if report.Failed > 0 {
		d.logger.Warn("partial delivery",
			zap.String("type", ev.Type),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
		)
	} else {
		d.logger.Debug("delivered",
			zap.String("type", ev.Type),
			zap.Int("delivered", report.Delivered),
		)
	}
	return report
}

// send isolates a misbehaving handle so a panic counts as a failure.
func send(c *registry.Connection, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handle panicked: %v", r)
		}
	}()
	if c.Handle == nil {
		return errors.New("no transport")
	}
	return c.Handle.Send(frame)
}

func (r *Report) fail(c *registry.Connection, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{
		UserID: c.UserID,
		Err:    fmt.Errorf("%w: %s: %v", ErrDeliveryFailure, c.UserID, err),
	})
}
