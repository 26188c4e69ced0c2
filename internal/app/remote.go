package app

import (
	"github.com/dokzlo13/quntisd/internal/eventbus"
	"github.com/dokzlo13/quntisd/internal/metrics"
	"github.com/dokzlo13/quntisd/internal/remote"
)

// instrumentedRemote counts and announces every logical command the
// transition machine sends. It is only used from the control loop.
type instrumentedRemote struct {
	enc     *remote.Encoder
	bus     *eventbus.Bus
	metrics *metrics.AppMetrics

	// correlationID is the request that caused the commands being sent.
	correlationID string
}

func (r *instrumentedRemote) OnOff() remote.Sent {
	return r.record(r.enc.OnOff())
}

func (r *instrumentedRemote) Dim(up, repeat bool) remote.Sent {
	return r.record(r.enc.Dim(up, repeat))
}

func (r *instrumentedRemote) Color(up, repeat bool) remote.Sent {
	return r.record(r.enc.Color(up, repeat))
}

func (r *instrumentedRemote) record(sent remote.Sent) remote.Sent {
	if r.metrics != nil {
		r.metrics.CommandsTotal.WithLabelValues(sent.Command.String()).Inc()
		r.metrics.PacketsTotal.Add(float64(sent.Frames))
		r.metrics.TransmitFailures.Add(float64(sent.Failed))
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeCommandSent,
			Data: map[string]interface{}{
				"command":        sent.Command.String(),
				"index":          int(sent.Index),
				"frames":         sent.Frames,
				"failed":         sent.Failed,
				"correlation_id": r.correlationID,
			},
		})
	}
	return sent
}
