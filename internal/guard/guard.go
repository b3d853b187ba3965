// Package guard decides, from a session snapshot, whether a route may be
// shown, must wait for the session to settle, or must redirect.
package guard

import (
	"context"
	"errors"

	"github.com/Campus-Dev-Team/adminCamperStories/internal/session"
)

// Routes known to the dashboard.
const (
	RouteRoot      = "/"
	RouteLogin     = "/login"
	RouteDashboard = "/dashboard"
)

// Outcome is what the caller should do with a route.
type Outcome int

const (
	// ShowLoading means the session is still being validated.
	ShowLoading Outcome = iota
	// RenderChild means the protected content may be shown.
	RenderChild
	// Redirect means navigate to Decision.Location.
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case ShowLoading:
		return "loading"
	case RenderChild:
		return "render"
	case Redirect:
		return "redirect"
	}

	return "invalid"
}

// Decision is the guard's verdict for one route.
type Decision struct {
	Outcome  Outcome
	Location string
	// Replace asks for the redirect to replace the current history entry
	// rather than push a new one.
	Replace bool
	// Reason is the session error behind a redirect, if any.
	Reason error
}

// Protect gates protected content on the session.
func Protect(snap session.Snapshot) Decision {
	switch {
	case snap.Loading:
		return Decision{Outcome: ShowLoading}
	case snap.CurrentUser == nil:
		return Decision{Outcome: Redirect, Location: RouteLogin, Replace: true, Reason: snap.Err}
	default:
		return Decision{Outcome: RenderChild}
	}
}

// Resolve applies the route table. The login page bounces signed-in users
// to the dashboard; the root and any unknown path go to whichever of the
// two fits the session.
func Resolve(path string, snap session.Snapshot) Decision {
	switch path {
	case RouteDashboard:
		return Protect(snap)
	case RouteLogin:
		if snap.Loading {
			return Decision{Outcome: ShowLoading}
		}

		if snap.CurrentUser != nil {
			return Decision{Outcome: Redirect, Location: RouteDashboard, Replace: true}
		}

		return Decision{Outcome: RenderChild, Reason: snap.Err}
	default:
		if snap.Loading {
			return Decision{Outcome: ShowLoading}
		}

		if snap.CurrentUser != nil {
			return Decision{Outcome: Redirect, Location: RouteDashboard, Replace: true}
		}

		return Decision{Outcome: Redirect, Location: RouteLogin, Replace: true, Reason: snap.Err}
	}
}

// ErrObserverClosed is returned by Await when the subscription ends before
// the session settles.
var ErrObserverClosed = errors.New("session observer closed")

// Await blocks until Resolve stops answering ShowLoading for path, then
// returns that decision.
func Await(ctx context.Context, obs session.Observer, path string) (Decision, error) {
	updates, cancel := obs.Subscribe()
	defer cancel()

	// Subscribe before reading so no transition is missed in between.
	if d := Resolve(path, obs.Current()); d.Outcome != ShowLoading {
		return d, nil
	}

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return Decision{}, ErrObserverClosed
			}

			if d := Resolve(path, snap); d.Outcome != ShowLoading {
				return d, nil
			}
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
}
