package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLiveness_PongKeepsConnectionAlive(t *testing.T) {
	req := require.New(t)
	h, m := newTestHub(t, newStaticParticipants(nil), testOptions())
	alice, aliceFT := attach(t, h, "alice")

	h.monitor.sweep()
	req.False(alice.IsAlive())
	req.Equal(1, aliceFT.pingCount())

	before := alice.LastPongAt()
	aliceFT.pong()
	req.True(alice.IsAlive())
	req.False(alice.LastPongAt().Before(before))

	h.monitor.sweep()
	req.Equal(2, aliceFT.pingCount())
	req.False(aliceFT.isClosed())
	req.True(h.IsUserConnected("alice"))
	req.Equal(0.0, testutil.ToFloat64(m.HeartbeatsReaped))
}

func TestLiveness_MissedPongEvictsAndBroadcastsOfflineOnce(t *testing.T) {
	req := require.New(t)
	h, m := newTestHub(t, newStaticParticipants(nil), testOptions())

	_, aliceFT := attach(t, h, "alice")
	_, bobFT := attach(t, h, "bob")
	expectFrame(t, aliceFT, TypeUserStatusChanged)

	h.monitor.sweep()
	bobFT.pong()
	h.monitor.sweep()

	req.True(aliceFT.isClosed())
	req.False(bobFT.isClosed())
	req.False(h.IsUserConnected("alice"))
	req.Equal(StatusOffline, h.GetStatus("alice"))
	req.Equal(1.0, testutil.ToFloat64(m.HeartbeatsReaped))

	ev := payloadOf[PresenceEvent](t, expectFrame(t, bobFT, TypeUserStatusChanged))
	req.Equal("alice", ev.UserID)
	req.Equal(StatusOffline, ev.Status)
	expectNoFrame(t, bobFT, TypeUserStatusChanged, 100*time.Millisecond)
}

func TestLiveness_OrphanIsReapedWithoutAffectingNewLogin(t *testing.T) {
	req := require.New(t)
	h, _ := newTestHub(t, newStaticParticipants(nil), testOptions())

	_, bobFT := attach(t, h, "bob")
	_, oldFT := attach(t, h, "alice")
	current, newFT := attach(t, h, "alice")
	expectFrame(t, bobFT, TypeUserStatusChanged)
	expectFrame(t, bobFT, TypeUserStatusChanged)

	h.monitor.sweep()
	bobFT.pong()
	newFT.pong()
	h.monitor.sweep()

	req.True(oldFT.isClosed(), "superseded connection is reaped")
	req.False(newFT.isClosed())

	got, ok := h.Registry().Lookup("alice")
	req.True(ok)
	req.Same(current, got)
	req.Equal(StatusOnline, h.GetStatus("alice"))
	expectNoFrame(t, bobFT, TypeUserStatusChanged, 100*time.Millisecond)
}

func TestLiveness_RunReapsOnTicker(t *testing.T) {
	req := require.New(t)
	opts := testOptions()
	opts.HeartbeatInterval = 20 * time.Millisecond
	h, _ := newTestHub(t, newStaticParticipants(nil), opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	_, aliceFT := attach(t, h, "alice")

	req.Eventually(aliceFT.isClosed, time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return h.GetStatus("alice") == StatusOffline }, time.Second, 5*time.Millisecond)
}

func TestLiveness_StopEndsLoop(t *testing.T) {
	h, _ := newTestHub(t, newStaticParticipants(nil), testOptions())

	done := make(chan struct{})
	go func() {
		h.Run(context.Background())
		close(done)
	}()

	require.NoError(t, h.Shutdown(time.Second))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestLiveness_StartAfterStopReturns(t *testing.T) {
	h, _ := newTestHub(t, newStaticParticipants(nil), testOptions())
	h.monitor.Stop()

	done := make(chan struct{})
	go func() {
		h.monitor.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start ran after Stop")
	}
}
