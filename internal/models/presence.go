package models

import "time"

// PresenceStatus is the derived per-user status. The manual statuses
// (busy, do_not_disturb, appearing_offline, be_right_back) can only be
// set explicitly by the user; online and offline are computed.
type PresenceStatus string

const (
	StatusOnline           PresenceStatus = "online"
	StatusOffline          PresenceStatus = "offline"
	StatusBusy             PresenceStatus = "busy"
	StatusDoNotDisturb     PresenceStatus = "do_not_disturb"
	StatusAppearingOffline PresenceStatus = "appearing_offline"
	StatusBeRightBack      PresenceStatus = "be_right_back"
)

// Manual reports whether the status is a user-chosen override rather
// than a computed one.
func (s PresenceStatus) Manual() bool {
	switch s {
	case StatusBusy, StatusDoNotDisturb, StatusAppearingOffline, StatusBeRightBack:
		return true
	}
	return false
}

// PresenceRecord tracks one device connection of a user. A user may have
// any number of concurrent records.
type PresenceRecord struct {
	UserID     int       `json:"user_id"`
	ConnID     string    `json:"conn_id"`
	Device     string    `json:"device,omitempty"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"last_active"`
}

// AggregatedPresence is the single logical status of a user, derived from
// all of their connections plus an optional manual override. It is
// computed on read and never stored.
type AggregatedPresence struct {
	UserID      int            `json:"user_id"`
	Status      PresenceStatus `json:"status"`
	Connections int            `json:"connections"`
	LastActive  time.Time      `json:"last_active,omitempty"`
}
