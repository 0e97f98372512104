package procq

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultName = "default"

// PanicHandler is notified when a callback panics. element is the id assigned
// to the element at Push time and callback is the registration index of the
// callback that panicked.
type PanicHandler func(element uuid.UUID, callback int, recovered any)

// Options configures a Queue. The zero value is valid.
type Options struct {
	// Name labels log entries and metrics. Defaults to "default".
	Name string

	// Logger receives lifecycle and failure logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// Registerer, when set, receives the queue's Prometheus collectors.
	Registerer prometheus.Registerer

	// OnPanic is called after a panicking callback has been recovered and logged.
	OnPanic PanicHandler
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = defaultName
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
