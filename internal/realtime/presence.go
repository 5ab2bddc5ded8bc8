package realtime

import (
	"sync"
	"time"
)

// Status is a user's presence state.
type Status string

// Presence states.
const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the known presence states.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	default:
		return false
	}
}

// PresenceRecord is the last known presence of a user. LastSeen is stamped on
// every transition to offline and is zero for users never seen offline.
type PresenceRecord struct {
	UserID   string    `json:"userId"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen,omitzero"`
}

// PresenceStore keeps one PresenceRecord per user for the process lifetime.
// Records are created lazily; an unknown user is offline.
type PresenceStore struct {
	mu      sync.Mutex
	records map[string]PresenceRecord
	now     func() time.Time
}

// NewPresenceStore creates an empty store.
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		records: make(map[string]PresenceRecord),
		now:     time.Now,
	}
}

// SetStatus records status for userID and returns the new record.
func (p *PresenceStore) SetStatus(userID string, status Status) PresenceRecord {
	rec, _ := p.TransitionIf(userID, status, nil, nil)
	return rec
}

// TransitionIf applies status when cond is nil or returns true, then calls
// notify with the new record. Both callbacks run under the store lock, which
// makes a flip and its broadcast a single step with respect to other
// transitions. Callbacks must not call back into the store.
func (p *PresenceStore) TransitionIf(userID string, status Status, cond func() bool, notify func(PresenceRecord)) (PresenceRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cond != nil && !cond() {
		return p.lookupLocked(userID), false
	}

	rec := p.lookupLocked(userID)
	rec.Status = status
	if status == StatusOffline {
		rec.LastSeen = p.now()
	}
	p.records[userID] = rec

	if notify != nil {
		notify(rec)
	}
	return rec, true
}

// GetStatus returns the current status of userID, offline if unknown.
func (p *PresenceStore) GetStatus(userID string) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookupLocked(userID).Status
}

// Get returns the record for userID and whether one exists.
func (p *PresenceStore) Get(userID string) (PresenceRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[userID]
	return rec, ok
}

// Online returns the ids of users whose status is not offline.
func (p *PresenceStore) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.records))
	for id, rec := range p.records {
		if rec.Status != StatusOffline {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *PresenceStore) lookupLocked(userID string) PresenceRecord {
	if rec, ok := p.records[userID]; ok {
		return rec
	}
	return PresenceRecord{UserID: userID, Status: StatusOffline}
}
