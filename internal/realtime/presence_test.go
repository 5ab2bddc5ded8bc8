package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPresenceStore_DefaultsToOffline(t *testing.T) {
	req := require.New(t)
	p := NewPresenceStore()

	req.Equal(StatusOffline, p.GetStatus("ghost"))
	_, ok := p.Get("ghost")
	req.False(ok)
}

func TestPresenceStore_OfflineStampsLastSeen(t *testing.T) {
	req := require.New(t)
	p := NewPresenceStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	rec := p.SetStatus("alice", StatusOnline)
	req.Equal(StatusOnline, rec.Status)
	req.True(rec.LastSeen.IsZero())

	rec = p.SetStatus("alice", StatusOffline)
	req.Equal(StatusOffline, rec.Status)
	req.Equal(fixed, rec.LastSeen)

	// Going online again keeps the last offline stamp.
	rec = p.SetStatus("alice", StatusAway)
	req.Equal(StatusAway, p.GetStatus("alice"))
	req.Equal(fixed, rec.LastSeen)
}

func TestPresenceStore_TransitionIf(t *testing.T) {
	req := require.New(t)
	p := NewPresenceStore()

	var notified []PresenceRecord
	notify := func(rec PresenceRecord) { notified = append(notified, rec) }

	_, applied := p.TransitionIf("alice", StatusOnline, func() bool { return false }, notify)
	req.False(applied)
	req.Empty(notified)
	req.Equal(StatusOffline, p.GetStatus("alice"))

	rec, applied := p.TransitionIf("alice", StatusOnline, func() bool { return true }, notify)
	req.True(applied)
	req.Equal(StatusOnline, rec.Status)
	req.Len(notified, 1)
	req.Equal("alice", notified[0].UserID)
	req.Equal(StatusOnline, notified[0].Status)
}

func TestPresenceStore_Online(t *testing.T) {
	p := NewPresenceStore()
	p.SetStatus("alice", StatusOnline)
	p.SetStatus("bob", StatusAway)
	p.SetStatus("carol", StatusOffline)

	require.ElementsMatch(t, []string{"alice", "bob"}, p.Online())
}

func TestStatus_Valid(t *testing.T) {
	req := require.New(t)
	req.True(StatusOnline.Valid())
	req.True(StatusAway.Valid())
	req.True(StatusOffline.Valid())
	req.False(Status("busy").Valid())
}

func TestPresenceRecord_JSONOmitsZeroLastSeen(t *testing.T) {
	req := require.New(t)

	raw, err := json.Marshal(PresenceRecord{UserID: "dave", Status: StatusOnline})
	req.NoError(err)
	req.JSONEq(`{"userId":"dave","status":"online"}`, string(raw))

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err = json.Marshal(PresenceRecord{UserID: "dave", Status: StatusOffline, LastSeen: seen})
	req.NoError(err)
	req.JSONEq(`{"userId":"dave","status":"offline","lastSeen":"2026-03-01T12:00:00Z"}`, string(raw))
}
