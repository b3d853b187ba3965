package e2e_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Campus-Dev-Team/adminCamperStories/internal/auth"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/dashboard"
	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/guard"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/models"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- login and the guard ---

func TestLogin_GuardRendersDashboard(t *testing.T) {
	h := newHarness(t)

	// Before anything runs the guard waits.
	assert.Equal(t, guard.ShowLoading, guard.Protect(h.gateway.Session().Current()).Outcome)

	h.login(t)

	d, err := guard.Await(t.Context(), h.gateway.Session(), guard.RouteDashboard)
	require.NoError(t, err)
	assert.Equal(t, guard.RenderChild, d.Outcome)

	d = guard.Resolve(guard.RouteLogin, h.gateway.Session().Current())
	assert.Equal(t, guard.Redirect, d.Outcome)
	assert.Equal(t, guard.RouteDashboard, d.Location)

	rec := h.store.Get()
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.User.ID)
	assert.Equal(t, "refresh-1", rec.RefreshToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.gateway.Login(t.Context(), adminEmail, "nope")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	var le *auth.LoginError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Credenciales inválidas", le.Message)

	assert.Nil(t, h.store.Get())
	assert.Equal(t, session.PhaseUnknown, h.gateway.Session().Current().Phase(), "a failed login leaves the session alone")
}

func TestLogin_NonAdminIsTurnedAway(t *testing.T) {
	h := newHarness(t)

	_, err := h.gateway.Login(t.Context(), camperEmail, camperPassword)
	require.ErrorIs(t, err, apperrors.ErrUnauthorizedRole)

	var re *auth.RoleError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, frontendURL+"/login", re.RedirectURL)

	assert.Nil(t, h.store.Get())
	assert.Equal(t, int32(1), h.backend.logouts.Load(), "the issued session is closed")

	d := guard.Protect(h.gateway.Session().Current())
	assert.Equal(t, guard.Redirect, d.Outcome)
	assert.Equal(t, guard.RouteLogin, d.Location)
	assert.ErrorIs(t, d.Reason, apperrors.ErrUnauthorizedRole)
}

// --- token refresh ---

func TestExpiredToken_RefreshedAndRetried(t *testing.T) {
	h := newHarness(t)
	t1 := h.login(t)
	h.backend.expire(t1)

	campers, err := h.dash.Campers(t.Context())
	require.NoError(t, err)
	assert.Len(t, campers, 3)

	rec := h.store.Get()
	require.NotNil(t, rec)
	assert.NotEqual(t, t1, rec.Token)
	assert.True(t, h.backend.live(rec.Token), "the stored token is the one the backend issued")
	assert.Equal(t, int64(1), rec.User.ID, "refresh keeps the user")
	assert.Equal(t, int32(1), h.backend.refreshs.Load())
	assert.True(t, h.gateway.Session().Current().Authenticated())
}

func TestExpiredToken_RosterRefreshesOnce(t *testing.T) {
	h := newHarness(t)
	h.backend.expire(h.login(t))

	roster, err := h.dash.BuildRoster(t.Context())
	require.NoError(t, err)

	assert.Equal(t, int32(1), h.backend.refreshs.Load())
	assert.Equal(t, dashboard.Summary{Total: 3, Incomplete: 2}, roster.Summary())

	for _, e := range roster.Entries {
		assert.False(t, e.Missing, "camper %d", e.ID)
	}

	require.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(`
# HELP camperstories_admin_token_refresh_total Token refresh attempts, by result.
# TYPE camperstories_admin_token_refresh_total counter
camperstories_admin_token_refresh_total{result="success"} 1
`), "camperstories_admin_token_refresh_total"))
}

func TestExpiredToken_ParallelCallersShareOneRefresh(t *testing.T) {
	h := newHarness(t)
	h.backend.expire(h.login(t))

	const n = 6

	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := range n {
		wg.Go(func() {
			_, errs[i] = h.dash.Incomplete(t.Context())
		})
	}

	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}

	assert.Equal(t, int32(1), h.backend.refreshs.Load())
}

func TestRefreshRejected_EndsSession(t *testing.T) {
	h := newHarness(t)
	h.backend.expire(h.login(t))
	h.backend.revokeRefresh()

	_, err := h.dash.Campers(t.Context())
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)

	assert.Nil(t, h.store.Get())

	d := guard.Protect(h.gateway.Session().Current())
	assert.Equal(t, guard.Redirect, d.Outcome)
	assert.Equal(t, guard.RouteLogin, d.Location)
	assert.True(t, d.Replace)
}

// --- logout ---

func TestLogout_ClearsLocalAndServerSession(t *testing.T) {
	h := newHarness(t)
	tok := h.login(t)

	require.NoError(t, h.gateway.Logout(t.Context()))

	assert.Nil(t, h.store.Get())
	assert.False(t, h.backend.live(tok))
	assert.Equal(t, session.PhaseAnonymous, h.gateway.Session().Current().Phase())

	d := guard.Protect(h.gateway.Session().Current())
	assert.Equal(t, guard.Redirect, d.Outcome)

	// With no token the pipeline sends no bearer, is rejected, and the
	// refresh that follows fails for want of a refresh token.
	_, err := h.dash.Campers(t.Context())
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
}

// --- restart ---

func TestRestart_RestoresAndRevalidates(t *testing.T) {
	h := newHarness(t)
	tok := h.login(t)

	h2 := h.restart(t)

	snap := h2.gateway.Restore()
	assert.Equal(t, session.PhaseAuthenticated, snap.Phase())
	assert.Equal(t, models.RoleAdmin, snap.CurrentUser.RoleID)
	assert.Equal(t, tok, h2.gateway.Token())

	require.NoError(t, h2.gateway.RefreshAuthState(t.Context()))
	assert.True(t, h2.gateway.Session().Current().Authenticated())

	campus, err := h2.dash.CampusByCity(t.Context(), *snap.CurrentUser.CityID)
	require.NoError(t, err)
	assert.Equal(t, int64(adminCampusID), campus)

	donations, err := h2.dash.Donations(t.Context(), campus)
	require.NoError(t, err)
	require.Len(t, donations, 1)
	assert.Equal(t, "3", donations[0]["campus"])
}

func TestRestart_ServerEndedSession(t *testing.T) {
	h := newHarness(t)
	h.backend.expire(h.login(t))

	h2 := h.restart(t)
	require.True(t, h2.gateway.Restore().Authenticated(), "locally the session still looks fine")

	require.NoError(t, h2.gateway.RefreshAuthState(t.Context()))
	assert.Equal(t, session.PhaseAnonymous, h2.gateway.Session().Current().Phase())
	assert.Nil(t, h2.store.Get())
}

func TestAwait_UnblocksWhenValidationSettles(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h2 := h.restart(t)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	done := make(chan guard.Decision, 1)
	go func() {
		d, err := guard.Await(ctx, h2.gateway.Session(), guard.RouteDashboard)
		assert.NoError(t, err)
		done <- d
	}()

	require.NoError(t, h2.gateway.RefreshAuthState(t.Context()))

	select {
	case d := <-done:
		assert.Equal(t, guard.RenderChild, d.Outcome)
	case <-time.After(10 * time.Second):
		t.Fatal("guard never settled")
	}
}
