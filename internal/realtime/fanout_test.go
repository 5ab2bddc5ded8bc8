package realtime

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-live/internal/metrics"
)

func newTestFanout(conns ...*Connection) (*Fanout, *metrics.Registry) {
	r := NewRegistry()
	for _, c := range conns {
		r.Register(c.userID, c)
	}
	m := metrics.New()
	return NewFanout(r, m, zerolog.Nop()), m
}

func TestFanout_ExcludesSender(t *testing.T) {
	req := require.New(t)
	alice := bareConnection("alice", 4)
	bob := bareConnection("bob", 4)
	f, _ := newTestFanout(alice, bob)

	report := f.Broadcast([]string{"alice", "bob"}, TypeNewMessage, map[string]string{"content": "hi"}, "alice")

	req.Equal(DeliveryReport{Targeted: 1, Delivered: 1}, report)
	req.Empty(drain(alice), "sender must not receive its own event")

	frames := drain(bob)
	req.Len(frames, 1)
	req.Equal(TypeNewMessage, frames[0].Type)
	req.JSONEq(`{"content":"hi"}`, string(frames[0].Payload))
}

func TestFanout_SkipsOfflineAndFullRecipients(t *testing.T) {
	req := require.New(t)
	bob := bareConnection("bob", 1)
	carol := bareConnection("carol", 0)
	f, m := newTestFanout(bob, carol)

	report := f.Broadcast([]string{"bob", "carol", "dave", "bob"}, TypeUserTyping, TypingEvent{ChatID: "c1"}, "")

	req.Equal(DeliveryReport{Targeted: 3, Delivered: 1, Offline: 1, Dropped: 1}, report)
	req.Equal(1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(metrics.ResultDelivered)))
	req.Equal(1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(metrics.ResultOffline)))
	req.Equal(1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(metrics.ResultDropped)))
}

func TestFanout_ClosedConnectionIsDropped(t *testing.T) {
	bob := bareConnection("bob", 4)
	bob.closeSend()
	f, _ := newTestFanout(bob)

	report := f.Broadcast([]string{"bob"}, TypeNewMessage, "x", "")
	require.Equal(t, DeliveryReport{Targeted: 1, Dropped: 1}, report)
}

func TestFanout_PreservesOrderPerRecipient(t *testing.T) {
	req := require.New(t)
	bob := bareConnection("bob", 100)
	f, _ := newTestFanout(bob)

	for i := 0; i < 50; i++ {
		f.Broadcast([]string{"bob"}, TypeNewMessage, map[string]string{"seq": fmt.Sprint(i)}, "")
	}

	frames := drain(bob)
	req.Len(frames, 50)
	for i, env := range frames {
		seq := payloadOf[map[string]string](t, env)["seq"]
		req.Equal(fmt.Sprint(i), seq)
	}
}

func TestFanout_SendTo(t *testing.T) {
	req := require.New(t)
	bob := bareConnection("bob", 1)
	f, _ := newTestFanout(bob)

	req.True(f.SendTo("bob", TypeError, ErrorEvent{Message: "x"}))
	req.False(f.SendTo("nobody", TypeError, ErrorEvent{Message: "x"}))
	req.False(f.SendTo("bob", TypeError, ErrorEvent{Message: "full"}))
}

func TestFanout_UnencodablePayloadDeliversNothing(t *testing.T) {
	bob := bareConnection("bob", 1)
	f, _ := newTestFanout(bob)

	report := f.Broadcast([]string{"bob"}, TypeNewMessage, make(chan int), "")
	require.Equal(t, DeliveryReport{}, report)
	require.Empty(t, drain(bob))
}
