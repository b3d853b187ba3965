package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/Campus-Dev-Team/adminCamperStories/internal/dashboard"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/guard"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/models"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/session"
)

// redirectError is a guard verdict that sends the user away from the
// dashboard.
type redirectError struct {
	location string
	reason   error
}

func (e *redirectError) Error() string {
	hint := fmt.Sprintf("redirected to %s; run camperstories-admin login", e.location)
	if e.reason == nil {
		return "not signed in: " + hint
	}

	return describe(e.reason) + ": " + hint
}

func (e *redirectError) Unwrap() error { return e.reason }

// protect hydrates the session from the store and asks the guard whether
// the dashboard may render.
func (a *app) protect(ctx context.Context) error {
	a.gateway.Restore()

	d, err := guard.Await(ctx, a.gateway.Session(), guard.RouteDashboard)
	if err != nil {
		return err
	}

	if d.Outcome != guard.RenderChild {
		return &redirectError{location: d.Location, reason: d.Reason}
	}

	return nil
}

func (a *app) user() *models.UserSnapshot {
	return a.gateway.Session().Current().CurrentUser
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.std.err)

	return fs
}

// outputFlag registers -o and returns a parser for it.
func outputFlag(fs *flag.FlagSet) func() (dashboard.Format, error) {
	o := fs.String("o", "table", "output format: table, json or yaml")
	return func() (dashboard.Format, error) {
		return dashboard.ParseFormat(*o)
	}
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}

		return usageError{err}
	}

	if fs.NArg() > 0 {
		return usageError{fmt.Errorf("%s: unexpected argument %q", fs.Name(), fs.Arg(0))}
	}

	return nil
}

// prompt reads one line from stdin.
func (a *app) prompt(scanner *bufio.Scanner, label string) (string, error) {
	fmt.Fprint(a.std.err, label)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(label, ": "), err)
		}

		return "", errors.New("no input")
	}

	return strings.TrimSpace(scanner.Text()), nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "login")
	email := fs.String("email", a.cfg.AdminEmail, "account email (default $ADMIN_EMAIL)")
	password := fs.String("password", "", "password (default $ADMIN_PASSWORD, else read from stdin)")

	if err := parse(fs, args); err != nil {
		return err
	}

	pw := *password
	if pw == "" {
		pw = a.cfg.AdminPassword
	}

	scanner := bufio.NewScanner(a.std.in)

	var err error
	if *email == "" {
		if *email, err = a.prompt(scanner, "Email: "); err != nil {
			return err
		}
	}

	if pw == "" {
		if pw, err = a.prompt(scanner, "Password: "); err != nil {
			return err
		}
	}

	if _, err := a.gateway.Login(ctx, *email, pw); err != nil {
		return err
	}

	// Settle the session against the server the same way a fresh start
	// would, then let the login route decide where to go.
	if err := a.gateway.RefreshAuthState(ctx); err != nil {
		return err
	}

	snap := a.gateway.Session().Current()

	d := guard.Resolve(guard.RouteLogin, snap)
	if d.Outcome != guard.Redirect || d.Location != guard.RouteDashboard {
		return &redirectError{location: guard.RouteLogin, reason: snap.Err}
	}

	u := snap.CurrentUser
	fmt.Fprintf(a.std.out, "signed in as %s (%s)\n", u.Email, u.Role)

	return nil
}

func runLogout(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlagSet(a, "logout"), args); err != nil {
		return err
	}

	if err := a.gateway.Logout(ctx); err != nil {
		return err
	}

	fmt.Fprintln(a.std.out, "signed out")

	return nil
}

// statusView is what status prints.
type statusView struct {
	Phase        string   `json:"phase" yaml:"phase"`
	UserID       int64    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Email        string   `json:"email,omitempty" yaml:"email,omitempty"`
	Role         string   `json:"role,omitempty" yaml:"role,omitempty"`
	CityID       *int64   `json:"city_id,omitempty" yaml:"city_id,omitempty"`
	Permissions  []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	TokenExpires string   `json:"token_expires,omitempty" yaml:"token_expires,omitempty"`
	Error        string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func newStatusView(snap session.Snapshot, rec *models.CredentialRecord) statusView {
	v := statusView{Phase: snap.Phase().String()}

	if u := snap.CurrentUser; u != nil {
		v.UserID, v.Email, v.Role = u.ID, u.Email, u.Role
		v.CityID = u.CityID
		v.Permissions = u.Permissions
	}

	if rec != nil && !rec.ExpiresAt.IsZero() {
		v.TokenExpires = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}

	if snap.Err != nil {
		v.Error = describe(snap.Err)
	}

	return v
}

func runStatus(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "status")
	format := outputFlag(fs)

	if err := parse(fs, args); err != nil {
		return err
	}

	f, err := format()
	if err != nil {
		return usageError{err}
	}

	a.gateway.Restore()
	validateErr := a.gateway.RefreshAuthState(ctx)

	view := newStatusView(a.gateway.Session().Current(), a.store.Get())
	if err := dashboard.Render(a.std.out, f, view); err != nil {
		return err
	}

	return validateErr
}

func runOverview(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "overview")
	format := outputFlag(fs)

	if err := parse(fs, args); err != nil {
		return err
	}

	f, err := format()
	if err != nil {
		return usageError{err}
	}

	rec, err := a.dash.Overview(ctx)
	if err != nil {
		return err
	}

	return dashboard.Render(a.std.out, f, rec)
}

func runCampers(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "campers")
	filter := fs.String("filter", "all", "completeness: all, pending or complete")
	search := fs.String("search", "", "match full names, ignoring case and accents")
	page := fs.Int("page", 1, "page number, starting at 1")
	size := fs.Int("size", 20, "campers per page, 0 for all")
	format := outputFlag(fs)

	if err := parse(fs, args); err != nil {
		return err
	}

	flt, err := dashboard.ParseFilter(*filter)
	if err != nil {
		return usageError{err}
	}

	f, err := format()
	if err != nil {
		return usageError{err}
	}

	roster, err := a.dash.BuildRoster(ctx)
	if err != nil {
		return err
	}

	return dashboard.Render(a.std.out, f, dashboard.Paginate(roster.Filter(*search, flt), *page, *size))
}

func runIncomplete(ctx context.Context, a *app, args []string) error {
	return listCampers(ctx, a, "incomplete", args, a.dash.Incomplete)
}

func runMyCampus(ctx context.Context, a *app, args []string) error {
	return listCampers(ctx, a, "my-campus", args, a.dash.MyCampus)
}

func listCampers(ctx context.Context, a *app, name string, args []string, fetch func(context.Context) ([]dashboard.Camper, error)) error {
	fs := newFlagSet(a, name)
	format := outputFlag(fs)

	if err := parse(fs, args); err != nil {
		return err
	}

	f, err := format()
	if err != nil {
		return usageError{err}
	}

	campers, err := fetch(ctx)
	if err != nil {
		return err
	}

	return dashboard.Render(a.std.out, f, campers)
}

func runUnlisted(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "unlisted")
	campus := fs.String("campus", "", "campus name (required)")
	format := outputFlag(fs)

	if err := parse(fs, args); err != nil {
		return err
	}

	if *campus == "" {
		return usageError{errors.New("unlisted: -campus is required")}
	}

	f, err := format()
	if err != nil {
		return usageError{err}
	}

	campers, err := a.dash.Unlisted(ctx, *campus)
	if err != nil {
		return err
	}

	return dashboard.Render(a.std.out, f, campers)
}

func runDonations(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "donations")
	campus := fs.Int64("campus", 0, "campus ID (default: the campus of your city)")
	format := outputFlag(fs)

	if err := parse(fs, args); err != nil {
		return err
	}

	f, err := format()
	if err != nil {
		return usageError{err}
	}

	id := *campus
	if id == 0 {
		u := a.user()
		if u == nil || u.CityID == nil {
			return usageError{errors.New("donations: -campus is required when your account has no city")}
		}

		if id, err = a.dash.CampusByCity(ctx, *u.CityID); err != nil {
			return err
		}
	}

	records, err := a.dash.Donations(ctx, id)
	if err != nil {
		return err
	}

	return dashboard.Render(a.std.out, f, records)
}
