// Package notify fans deliveries out to the configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/clarion/internal/triage"
)

// Channel is a named delivery adapter.
type Channel interface {
	triage.Notifier
	Name() string
}

// Observer is called once per channel per delivery, with the send
// error if any. The pipeline metrics hook plugs in here.
type Observer func(channel string, err error)

// Fanout sends every delivery to all channels. One channel failing
// does not stop the others; the joined errors are returned so the run
// records the partial failure.
type Fanout struct {
	channels []Channel
	observe  Observer
	logger   log.Logger
}

// NewFanout creates a fanout over the given channels. observe may be nil.
func NewFanout(channels []Channel, observe Observer, logger log.Logger) *Fanout {
	if logger == nil {
		logger = log.Nop()
	}
	return &Fanout{channels: channels, observe: observe, logger: logger}
}

// Send delivers to every channel and joins the per-channel errors.
func (f *Fanout) Send(ctx context.Context, d *triage.Delivery) error {
	var errs []error
	for _, ch := range f.channels {
		err := ch.Send(ctx, d)
		if f.observe != nil {
			f.observe(ch.Name(), err)
		}
		if err != nil {
			f.logger.Error(ctx, err, "channel delivery failed", "channel", ch.Name())
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}
