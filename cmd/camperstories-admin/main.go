package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Campus-Dev-Team/adminCamperStories/internal/auth"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/config"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/dashboard"
	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/logging"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/pipeline"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var Version = "dev"

const (
	exitFailure  = 1
	exitRedirect = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := run(ctx, os.Args[1:], stdio{in: os.Stdin, out: os.Stdout, err: os.Stderr})
	stop()

	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", describe(err))
		}

		os.Exit(exitCode(err))
	}
}

type stdio struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// command is one subcommand. Protected commands only run once the guard
// lets /dashboard render.
type command struct {
	name      string
	summary   string
	protected bool
	run       func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{name: "login", summary: "sign in and store the session", run: runLogin},
	{name: "logout", summary: "sign out and forget the stored session", run: runLogout},
	{name: "status", summary: "re-validate and show the current session", run: runStatus},
	{name: "overview", summary: "show the admin landing data", protected: true, run: runOverview},
	{name: "campers", summary: "list campers with profile completeness", protected: true, run: runCampers},
	{name: "incomplete", summary: "list unfinished registrations", protected: true, run: runIncomplete},
	{name: "my-campus", summary: "list the campers of your campus", protected: true, run: runMyCampus},
	{name: "unlisted", summary: "list a campus's hidden campers", protected: true, run: runUnlisted},
	{name: "donations", summary: "list donations for a campus", protected: true, run: runDonations},
	{name: "watch", summary: "re-validate periodically and serve metrics", protected: true, run: runWatch},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}

	return command{}, false
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: camperstories-admin <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")

	for _, c := range commands {
		fmt.Fprintf(w, "  %-11s %s\n", c.name, c.summary)
	}

	fmt.Fprintf(w, "  %-11s %s\n", "version", "print the version")
}

func run(ctx context.Context, args []string, std stdio) error {
	if len(args) == 0 {
		usage(std.err)
		return usageError{errors.New("no command given")}
	}

	switch args[0] {
	case "version":
		fmt.Fprintln(std.out, Version)
		return nil
	case "help", "-h", "-help", "--help":
		usage(std.out)
		return nil
	}

	cmd, ok := lookup(args[0])
	if !ok {
		usage(std.err)
		return usageError{fmt.Errorf("unknown command %q", args[0])}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Debug("camperstories-admin starting",
		slog.String("version", Version),
		slog.String("command", cmd.name),
	)

	a, err := newApp(cfg, logger, std)
	if err != nil {
		return err
	}
	defer a.close()

	if cmd.protected {
		if err := a.protect(ctx); err != nil {
			return err
		}
	}

	return cmd.run(ctx, a, args[1:])
}

// app is the wired client stack shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	std      stdio
	store    *state.State
	gateway  *auth.Gateway
	api      *pipeline.Client
	dash     *dashboard.Service
	registry *prometheus.Registry
}

func newApp(cfg *config.Config, logger *slog.Logger, std stdio) (*app, error) {
	var (
		store *state.State
		err   error
	)

	if cfg.StatePath != "" {
		store, err = state.LoadAt(cfg.StatePath, logger)
	} else {
		store, err = state.Load(logger)
	}

	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	// Session and data calls share one client so session cookies set by
	// login travel with validation and refresh.
	httpClient := auth.NewHTTPClient(cfg.RequestTimeout)

	gateway := auth.NewGateway(auth.GatewayConfig{
		Client:      auth.NewClient(cfg.SessionBaseURL, httpClient),
		Store:       store,
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	api := pipeline.New(pipeline.Config{
		BaseURL:        cfg.APIBaseURL,
		HTTPClient:     httpClient,
		Tokens:         gateway,
		Refresher:      gateway,
		Rate:           cfg.RequestRate,
		Burst:          cfg.RequestBurst,
		RefreshTimeout: cfg.RequestTimeout,
		Metrics:        pipeline.NewMetrics(registry),
		Logger:         logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		std:      std,
		store:    store,
		gateway:  gateway,
		api:      api,
		dash:     dashboard.NewService(api, cfg.DetailConcurrency, logger),
		registry: registry,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing state", slog.String("error", err.Error()))
	}
}

// usageError is a bad invocation.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var re *redirectError
	var ue usageError

	switch {
	case errors.As(err, &re), errors.As(err, &ue), errors.Is(err, flag.ErrHelp):
		return exitRedirect
	default:
		return exitFailure
	}
}

// describe turns the error taxonomy into something to tell a person.
func describe(err error) string {
	var (
		re *redirectError
		le *auth.LoginError
		ro *auth.RoleError
	)

	switch {
	case errors.As(err, &re):
		return re.Error()
	case errors.As(err, &ro):
		if ro.RedirectURL != "" {
			return fmt.Sprintf("you are not an admin (role %s); sign in at %s", ro.Role, ro.RedirectURL)
		}

		return fmt.Sprintf("you are not an admin (role %s)", ro.Role)
	case errors.As(err, &le):
		return describeLogin(le)
	case errors.Is(err, apperrors.ErrSessionExpired):
		return "session expired, log in again"
	case errors.Is(err, apperrors.ErrNetworkFailure):
		return fmt.Sprintf("cannot reach the backend: %v", err)
	}

	return err.Error()
}

func describeLogin(le *auth.LoginError) string {
	msg := le.Message
	if msg == "" {
		msg = apperrors.ErrInvalidCredentials.Error()
	}

	for _, name := range le.FieldNames() {
		msg += fmt.Sprintf("\n  %s: %s", name, le.Fields[name])
	}

	return msg
}
