package realtime

import (
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-live/internal/metrics"
)

// DeliveryReport summarises one broadcast. Targeted counts unique recipients
// after the excluded user is removed.
type DeliveryReport struct {
	Targeted  int `json:"targeted"`
	Delivered int `json:"delivered"`
	Offline   int `json:"offline"`
	Dropped   int `json:"dropped"`
}

// Fanout delivers outbound events to the registered connections of a set of
// users. Delivery is best effort: users without a connection, or whose queue
// is full, are skipped and counted, never retried.
type Fanout struct {
	registry *Registry
	metrics  *metrics.Registry
	log      zerolog.Logger
}

// NewFanout creates a Fanout over registry.
func NewFanout(registry *Registry, m *metrics.Registry, log zerolog.Logger) *Fanout {
	return &Fanout{
		registry: registry,
		metrics:  m,
		log:      log.With().Str("component", "fanout").Logger(),
	}
}

// Broadcast sends one event to every recipient except exclude. Pass an empty
// exclude to reach everyone. Recipients are looked up at call time.
func (f *Fanout) Broadcast(recipients []string, t MessageType, payload any, exclude string) DeliveryReport {
	data, err := encodeEnvelope(t, payload)
	if err != nil {
		f.log.Error().Err(err).Str("type", string(t)).Msg("Failed to encode outbound event")
		return DeliveryReport{}
	}

	targets := lo.Uniq(recipients)
	if exclude != "" {
		targets = lo.Without(targets, exclude)
	}

	report := DeliveryReport{Targeted: len(targets)}
	for _, userID := range targets {
		conn, ok := f.registry.Lookup(userID)
		switch {
		case !ok:
			report.Offline++
		case conn.enqueue(data):
			report.Delivered++
		default:
			report.Dropped++
		}
	}

	f.record(report)
	f.log.Debug().
		Str("type", string(t)).
		Int("targeted", report.Targeted).
		Int("delivered", report.Delivered).
		Int("offline", report.Offline).
		Int("dropped", report.Dropped).
		Msg("Broadcast complete")
	return report
}

// SendTo delivers an event to a single user and reports whether it was queued.
func (f *Fanout) SendTo(userID string, t MessageType, payload any) bool {
	return f.Broadcast([]string{userID}, t, payload, "").Delivered == 1
}

// send queues an event on one specific connection, registered or not.
func (f *Fanout) send(conn *Connection, t MessageType, payload any) bool {
	data, err := encodeEnvelope(t, payload)
	if err != nil {
		f.log.Error().Err(err).Str("type", string(t)).Msg("Failed to encode outbound event")
		return false
	}
	return conn.enqueue(data)
}

func (f *Fanout) record(r DeliveryReport) {
	if r.Delivered > 0 {
		f.metrics.Deliveries.WithLabelValues(metrics.ResultDelivered).Add(float64(r.Delivered))
	}
	if r.Offline > 0 {
		f.metrics.Deliveries.WithLabelValues(metrics.ResultOffline).Add(float64(r.Offline))
	}
	if r.Dropped > 0 {
		f.metrics.Deliveries.WithLabelValues(metrics.ResultDropped).Add(float64(r.Dropped))
	}
}
