// Package auth is the client side of the Camper Stories session: it logs
// staff in, validates and refreshes their session against the backend, and
// is the only writer of the credential store and the session state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/models"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/session"
	"golang.org/x/sync/singleflight"
)

//go:generate mockgen -source=gateway.go -destination=mock_store_test.go -package=auth

// CredentialStore persists the credential record. *state.State satisfies
// it.
type CredentialStore interface {
	Get() *models.CredentialRecord
	Set(rec models.CredentialRecord) error
	Clear() error
}

// validateTimeout bounds a collapsed validation call once it is detached
// from the first caller's context.
const validateTimeout = 30 * time.Second

// Gateway performs login, logout, validation and refresh, and translates
// their outcomes into session state transitions.
type Gateway struct {
	client      *Client
	store       CredentialStore
	state       *session.State
	logger      *slog.Logger
	frontendURL string
	now         func() time.Time

	validate singleflight.Group
}

// GatewayConfig holds the Gateway's collaborators.
type GatewayConfig struct {
	Client *Client
	Store  CredentialStore
	// FrontendURL is where users whose role may not use the dashboard are
	// sent instead.
	FrontendURL string
	Logger      *slog.Logger
}

// NewGateway creates a Gateway with a fresh session in the unknown phase.
func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Gateway{
		client:      cfg.Client,
		store:       cfg.Store,
		state:       session.New(),
		logger:      logger.With(slog.String("component", "auth")),
		frontendURL: cfg.FrontendURL,
		now:         time.Now,
	}
}

// Session returns the read-only view of the session state.
func (g *Gateway) Session() session.Observer {
	return g.state
}

// Token returns the stored bearer token, or "" when there is none or it
// has passed its deadline.
func (g *Gateway) Token() string {
	rec := g.store.Get()
	if rec == nil || rec.Expired(g.now()) {
		return ""
	}

	return rec.Token
}

// Restore hydrates the session from the credential store without a network
// call. A record whose bearer has expired survives only if it carries a
// refresh token; the request pipeline renews it on the first 401.
func (g *Gateway) Restore() session.Snapshot {
	rec := g.store.Get()

	switch {
	case rec == nil:
		g.logger.Debug("no stored session")
		g.setAnonymous(nil)
	case rec.Expired(g.now()) && rec.RefreshToken == "":
		g.logger.Info("stored session expired")
		g.clearStore()
		g.setAnonymous(nil)
	case !rec.User.Recognized():
		err := g.roleError(&rec.User)
		g.clearStore()
		g.setAnonymous(err)
	default:
		g.logger.Debug("restored stored session",
			slog.Int64("user_id", rec.User.ID),
			slog.Int("role_id", rec.User.RoleID),
		)
		g.setUser(&rec.User)
	}

	return g.state.Current()
}

// ValidateSession asks the backend who this client is and updates the
// session. Concurrent calls share one backend round trip. It returns nil
// when the backend reports no session; the session is then anonymous.
func (g *Gateway) ValidateSession(ctx context.Context) error {
	ch := g.validate.DoChan("validate", func() (interface{}, error) {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), validateTimeout)
		defer cancel()

		return nil, g.validateOnce(vctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAuthState re-derives the session from the server, showing the
// loading phase while it runs.
func (g *Gateway) RefreshAuthState(ctx context.Context) error {
	g.state.Update(func(s *session.Snapshot) { s.Loading = true })
	return g.ValidateSession(ctx)
}

func (g *Gateway) validateOnce(ctx context.Context) error {
	rec := g.store.Get()

	var token string
	if rec != nil {
		token = rec.Token
	}

	p, err := g.client.ValidateSession(ctx, token)

	switch {
	case err != nil && apperrors.IsTransient(err):
		// The backend never gave an authoritative answer; keep the stored
		// credentials for the next attempt.
		g.logger.Warn("session validation failed", slog.String("error", err.Error()))
		g.setAnonymous(err)

		return err
	case err != nil:
		g.logger.Warn("session validation rejected", slog.String("error", err.Error()))
		g.clearStore()
		g.setAnonymous(err)

		return err
	case p == nil:
		g.logger.Info("no active session")
		g.clearStore()
		g.setAnonymous(nil)

		return nil
	case !p.User.Recognized():
		roleErr := g.roleError(&p.User)
		g.logger.Warn("session role not authorized",
			slog.Int64("user_id", p.User.ID),
			slog.Int("role_id", p.User.RoleID),
		)
		g.clearStore()
		g.setAnonymous(roleErr)

		return roleErr
	}

	if err := g.persist(rec, p); err != nil {
		g.logger.Warn("saving validated session", slog.String("error", err.Error()))
	}

	g.logger.Debug("session validated",
		slog.Int64("user_id", p.User.ID),
		slog.Int("role_id", p.User.RoleID),
	)
	g.setUser(&p.User)

	return nil
}

// persist merges a validated principal into the stored record. A record
// is only written when a token is known.
func (g *Gateway) persist(rec *models.CredentialRecord, p *Principal) error {
	next := models.CredentialRecord{User: p.User}
	if rec != nil {
		next.Token, next.ExpiresAt, next.RefreshToken = rec.Token, rec.ExpiresAt, rec.RefreshToken
	}

	if p.Token != "" {
		next.Token, next.ExpiresAt = p.Token, p.ExpiresAt
	}

	if p.RefreshToken != "" {
		next.RefreshToken = p.RefreshToken
	}

	if next.Token == "" {
		return nil
	}

	return g.store.Set(next)
}

// Login authenticates with email and password. Rejections come back as
// *LoginError (ErrInvalidCredentials), unreachable backends as
// ErrNetworkFailure, and non-admin roles as *RoleError
// (ErrUnauthorizedRole). Only a successful admin login changes the session.
func (g *Gateway) Login(ctx context.Context, email, password string) (*models.UserSnapshot, error) {
	p, err := g.client.Login(ctx, email, password)
	if err != nil {
		var le *LoginError
		if errors.As(err, &le) {
			g.logger.Info("login rejected",
				slog.String("email", email),
				slog.Int("status", le.Status),
			)
		} else {
			g.logger.Warn("login failed",
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
		}

		return nil, err
	}

	if !p.User.Recognized() {
		roleErr := g.roleError(&p.User)
		g.logger.Warn("login by non-admin role",
			slog.String("email", email),
			slog.Int("role_id", p.User.RoleID),
		)

		// The backend opened a session for this user; close it.
		if err := g.client.Logout(ctx, p.Token); err != nil {
			g.logger.Warn("closing non-admin session", slog.String("error", err.Error()))
		}

		g.clearStore()
		g.setAnonymous(roleErr)

		return nil, roleErr
	}

	// A cookie-only login has no bearer to store, but whatever an earlier
	// login left behind must not outlive it.
	if p.Token == "" {
		if err := g.store.Clear(); err != nil {
			return nil, fmt.Errorf("clearing credentials: %w", err)
		}
	} else if err := g.persist(nil, p); err != nil {
		return nil, fmt.Errorf("saving credentials: %w", err)
	}

	g.logger.Info("logged in",
		slog.Int64("user_id", p.User.ID),
		slog.String("role", p.User.Role),
	)
	g.setUser(&p.User)

	return p.User.Clone(), nil
}

// Logout signs out locally and then tells the backend. The local sign out
// always happens; a failed network call is only logged. The returned error
// is non-nil only if the credential store could not be cleared.
func (g *Gateway) Logout(ctx context.Context) error {
	var token string
	if rec := g.store.Get(); rec != nil {
		token = rec.Token
	}

	storeErr := g.store.Clear()
	g.setAnonymous(nil)

	if err := g.client.Logout(ctx, token); err != nil {
		g.logger.Warn("server logout failed", slog.String("error", err.Error()))
	} else {
		g.logger.Info("logged out")
	}

	if storeErr != nil {
		return fmt.Errorf("clearing credentials: %w", storeErr)
	}

	return nil
}

// RefreshToken exchanges the refresh credential for a new bearer token and
// stores it. An authoritative rejection ends the session: credentials are
// cleared, the session becomes anonymous, and the error wraps
// ErrSessionExpired. Transport failures leave the credentials in place.
func (g *Gateway) RefreshToken(ctx context.Context) (string, error) {
	rec := g.store.Get()

	var refresh string
	if rec != nil {
		refresh = rec.RefreshToken
	}

	grant, err := g.client.RefreshToken(ctx, refresh)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionExpired) {
			g.logger.Info("refresh rejected, session ended")
			g.clearStore()
			g.setAnonymous(nil)
		} else {
			g.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		}

		return "", err
	}

	next := models.CredentialRecord{
		Token:        grant.Token,
		ExpiresAt:    grant.ExpiresAt,
		RefreshToken: grant.RefreshToken,
	}

	switch {
	case rec != nil:
		next.User = rec.User
		if next.RefreshToken == "" {
			next.RefreshToken = rec.RefreshToken
		}
	case g.state.Current().CurrentUser != nil:
		next.User = *g.state.Current().CurrentUser
	default:
		g.logger.Debug("refreshed token has no user to store with")
		return grant.Token, nil
	}

	if err := g.store.Set(next); err != nil {
		g.logger.Warn("saving refreshed token", slog.String("error", err.Error()))
	}

	g.logger.Debug("token refreshed")

	return grant.Token, nil
}

func (g *Gateway) roleError(u *models.UserSnapshot) *RoleError {
	re := &RoleError{RoleID: u.RoleID, Role: u.Role}
	if g.frontendURL != "" {
		re.RedirectURL = g.frontendURL + "/login"
	}

	return re
}

func (g *Gateway) clearStore() {
	if err := g.store.Clear(); err != nil {
		g.logger.Warn("clearing credentials", slog.String("error", err.Error()))
	}
}

func (g *Gateway) setUser(u *models.UserSnapshot) {
	g.state.Update(func(s *session.Snapshot) {
		s.CurrentUser = u
		s.Loading = false
		s.Err = nil
	})
}

// setAnonymous signs the session out. A non-nil err makes it denied.
func (g *Gateway) setAnonymous(err error) {
	g.state.Update(func(s *session.Snapshot) {
		s.CurrentUser = nil
		s.Loading = false
		s.Err = err
	})
}
