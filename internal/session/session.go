// Package session holds the in-memory session state: who is signed in,
// whether the first validation is still running, and the last auth error.
// The auth gateway owns the writable *State; everything else reads through
// Observer.
package session

import (
	"sync"

	"github.com/Campus-Dev-Team/adminCamperStories/internal/models"
)

// Phase is the session state machine position derived from a Snapshot.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseAuthenticated
	PhaseAnonymous
	PhaseDenied
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseDenied:
		return "denied"
	}

	return "invalid"
}

// Snapshot is a point-in-time copy of the session fields.
type Snapshot struct {
	CurrentUser *models.UserSnapshot
	Loading     bool
	Err         error
}

// Phase derives the state machine position. Loading wins over everything
// else so a re-validation never looks like a sign-out.
func (s Snapshot) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseUnknown
	case s.CurrentUser != nil:
		return PhaseAuthenticated
	case s.Err != nil:
		return PhaseDenied
	default:
		return PhaseAnonymous
	}
}

// Authenticated reports whether a user is signed in.
func (s Snapshot) Authenticated() bool {
	return s.CurrentUser != nil
}

// Observer is the read-only view of the session handed to guards and views.
type Observer interface {
	Current() Snapshot
	Subscribe() (<-chan Snapshot, func())
}

// State is the shared, observable session holder.
type State struct {
	mu     sync.RWMutex
	snap   Snapshot
	nextID int
	subs   map[int]chan Snapshot
}

// New returns a State in the initial unknown phase (loading, no user).
func New() *State {
	return &State{
		snap: Snapshot{Loading: true},
		subs: make(map[int]chan Snapshot),
	}
}

// Current returns a copy of the current snapshot.
func (s *State) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copySnapshot(s.snap)
}

// Update applies fn to the snapshot under the lock and notifies
// subscribers when anything changed.
func (s *State) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	before := copySnapshot(s.snap)
	fn(&s.snap)
	s.snap.CurrentUser = s.snap.CurrentUser.Clone()
	changed := !equal(before, s.snap)
	snap := copySnapshot(s.snap)

	if changed {
		for _, ch := range s.subs {
			publish(ch, snap)
		}
	}
	s.mu.Unlock()
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow readers only ever see the most recent value. Call the
// returned function to unsubscribe.
func (s *State) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// publish replaces any unread value in ch with snap. Callers hold s.mu, so
// there is exactly one sender per channel.
func publish(ch chan Snapshot, snap Snapshot) {
	select {
	case <-ch:
	default:
	}

	ch <- snap
}

func copySnapshot(s Snapshot) Snapshot {
	s.CurrentUser = s.CurrentUser.Clone()
	return s
}

func equal(a, b Snapshot) bool {
	if a.Loading != b.Loading || a.Err != b.Err {
		return false
	}

	if (a.CurrentUser == nil) != (b.CurrentUser == nil) {
		return false
	}

	if a.CurrentUser == nil {
		return true
	}

	ua, ub := a.CurrentUser, b.CurrentUser
	if ua.ID != ub.ID || ua.RoleID != ub.RoleID || ua.Role != ub.Role || ua.Email != ub.Email {
		return false
	}

	if (ua.CityID == nil) != (ub.CityID == nil) || (ua.CityID != nil && *ua.CityID != *ub.CityID) {
		return false
	}

	if len(ua.Permissions) != len(ub.Permissions) {
		return false
	}

	for i := range ua.Permissions {
		if ua.Permissions[i] != ub.Permissions[i] {
			return false
		}
	}

	return true
}
