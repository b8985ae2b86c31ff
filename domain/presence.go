// Package domain contains core concepts of the collaboration core.
// This file defines presence entries and the participant roster.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"sort"
	"time"
)

// PresenceUser is one presence entry of a connected participant.
type PresenceUser struct {
	ID       string `validate:"required"`
	Name     string
	JoinedAt time.Time
}

// PresenceState maps a connection key to the entries tracked on it.
// A user connected from several devices appears under several keys.
type PresenceState map[string][]PresenceUser

// Roster is the live participant list of one channel.
// A sync replaces the whole state; join and leave are deltas that are only
// meaningful between two syncs.
type Roster struct {
	state PresenceState
}

func NewRoster() *Roster {
	return &Roster{state: make(PresenceState)}
}

// Sync rebuilds the roster from a full presence state.
func (r *Roster) Sync(state PresenceState) {
	next := make(PresenceState, len(state))
	for key, users := range state {
		next[key] = append([]PresenceUser(nil), users...)
	}
	r.state = next
}

func (r *Roster) Join(key string, users []PresenceUser) {
	r.state[key] = append(r.state[key], users...)
}

// Leave removes the given entries from a connection key, or the whole key
// when no entries are given.
func (r *Roster) Leave(key string, users []PresenceUser) {
	if len(users) == 0 {
		delete(r.state, key)
		return
	}
	gone := make(map[string]struct{}, len(users))
	for _, u := range users {
		gone[u.ID] = struct{}{}
	}
	var kept []PresenceUser
	for _, u := range r.state[key] {
		if _, ok := gone[u.ID]; !ok {
			kept = append(kept, u)
		}
	}
	if len(kept) == 0 {
		delete(r.state, key)
		return
	}
	r.state[key] = kept
}

// Participants returns one entry per user id, earliest join first.
func (r *Roster) Participants() []PresenceUser {
	byID := make(map[string]PresenceUser)
	for _, users := range r.state {
		for _, u := range users {
			if known, ok := byID[u.ID]; !ok || u.JoinedAt.Before(known.JoinedAt) {
				byID[u.ID] = u
			}
		}
	}
	out := make([]PresenceUser, 0, len(byID))
	for _, u := range byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Connections is the number of tracked connection keys.
func (r *Roster) Connections() int { return len(r.state) }
