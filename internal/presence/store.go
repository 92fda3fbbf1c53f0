// Package presence tracks per-connection online state and aggregates it
// into one effective status per user. Presence is best-effort telemetry:
// updates for unknown users are accepted as first-seen, never rejected.
package presence

import (
	"sort"
	"sync"
	"time"

	"messaging-service/internal/errs"
	"messaging-service/internal/models"
)

type override struct {
	status models.PresenceStatus
	setAt  time.Time
}

// Store holds presence records keyed by (user, connection) plus manual
// status overrides. Aggregation priority: unexpired manual override, then
// any-connection-online, then offline.
type Store struct {
	mu          sync.RWMutex
	conns       map[int]map[string]models.PresenceRecord
	overrides   map[int]override
	overrideTTL time.Duration
	staleAfter  time.Duration
	now         func() time.Time
}

// NewStore constructs a Store. overrideTTL bounds how long a manual status
// sticks; staleAfter is how long a silent connection still counts as
// online (zero disables staleness expiry).
func NewStore(overrideTTL, staleAfter time.Duration) *Store {
	return &Store{
		conns:       make(map[int]map[string]models.PresenceRecord),
		overrides:   make(map[int]override),
		overrideTTL: overrideTTL,
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// WithClock swaps the time source for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// UpdateConnection upserts the record for (userID, connID). Going offline
// removes the record immediately; heartbeat cadence is the transport's
// concern, not this layer's.
func (s *Store) UpdateConnection(userID int, connID string, online bool, device string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !online {
		if set, ok := s.conns[userID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(s.conns, userID)
			}
		}
		return
	}

	if _, ok := s.conns[userID]; !ok {
		s.conns[userID] = make(map[string]models.PresenceRecord)
	}
	s.conns[userID][connID] = models.PresenceRecord{
		UserID:     userID,
		ConnID:     connID,
		Device:     device,
		Online:     true,
		LastActive: s.now(),
	}
}

// Touch refreshes the activity timestamp of a live connection.
func (s *Store) Touch(userID int, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.conns[userID][connID]; ok {
		record.LastActive = s.now()
		s.conns[userID][connID] = record
	}
}

// SetManualStatus records a user-chosen override (busy, dnd, ...). It
// expires after the configured TTL.
func (s *Store) SetManualStatus(userID int, status models.PresenceStatus) error {
	if !status.Manual() {
		return errs.Validationf("status %q cannot be set manually", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[userID] = override{status: status, setAt: s.now()}
	return nil
}

// ClearManualStatus drops the override, reverting to computed presence.
func (s *Store) ClearManualStatus(userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, userID)
}

// GetAggregatedPresence computes the user's effective status.
func (s *Store) GetAggregatedPresence(userID int) models.AggregatedPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregateLocked(userID)
}

// GetAggregatedPresenceMany batches aggregation. Every requested id is
// present in the result; unknown users come back offline.
func (s *Store) GetAggregatedPresenceMany(userIDs []int) map[int]models.AggregatedPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int]models.AggregatedPresence, len(userIDs))
	for _, id := range userIDs {
		if _, ok := result[id]; ok {
			continue
		}
		result[id] = s.aggregateLocked(id)
	}
	return result
}

// ListOnlineUsers returns every user whose aggregated status is online,
// ordered by user id for deterministic output.
func (s *Store) ListOnlineUsers() []models.AggregatedPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var online []models.AggregatedPresence
	for userID := range s.conns {
		agg := s.aggregateLocked(userID)
		if agg.Status == models.StatusOnline {
			online = append(online, agg)
		}
	}
	sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })
	return online
}

// PruneStale drops connections that have been silent past staleAfter and
// overrides past their TTL. Meant to run on a ticker; returns how many
// connections were removed.
func (s *Store) PruneStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	pruned := 0
	if s.staleAfter > 0 {
		for userID, set := range s.conns {
			for connID, record := range set {
				if now.Sub(record.LastActive) > s.staleAfter {
					delete(set, connID)
					pruned++
				}
			}
			if len(set) == 0 {
				delete(s.conns, userID)
			}
		}
	}
	for userID, o := range s.overrides {
		if now.Sub(o.setAt) > s.overrideTTL {
			delete(s.overrides, userID)
		}
	}
	return pruned
}

func (s *Store) aggregateLocked(userID int) models.AggregatedPresence {
	agg := models.AggregatedPresence{UserID: userID, Status: models.StatusOffline}
	now := s.now()

	for _, record := range s.conns[userID] {
		if s.staleAfter > 0 && now.Sub(record.LastActive) > s.staleAfter {
			continue
		}
		agg.Connections++
		if record.LastActive.After(agg.LastActive) {
			agg.LastActive = record.LastActive
		}
	}

	if o, ok := s.overrides[userID]; ok && now.Sub(o.setAt) <= s.overrideTTL {
		agg.Status = o.status
		return agg
	}
	if agg.Connections > 0 {
		agg.Status = models.StatusOnline
	}
	return agg
}
