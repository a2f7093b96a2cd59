package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/andreweacott/bearer/pkg/auth"
	"github.com/andreweacott/bearer/pkg/config"
	"github.com/andreweacott/bearer/pkg/logger"
	"github.com/andreweacott/bearer/pkg/metrics"
	"github.com/andreweacott/bearer/pkg/oauth"
	"github.com/andreweacott/bearer/pkg/store"
	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (bad arguments, configuration, storage).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the client has to be registered or re-authorized.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the provider or token endpoint refused or failed.
	ExitCodeAuthFailed = 3
)

// streams holds the process I/O so commands can be tested
type streams struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	openBrowser func(string) error
}

func defaultStreams() streams {
	return streams{
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
		openBrowser: OpenBrowser,
	}
}

// app is the state shared by all commands, built once flags are parsed
type app struct {
	streams

	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	store   *store.Store
	auth    *auth.Authenticator
}

// init builds the logger, store, metrics and authenticator from cfg
func (a *app) init() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log, err := logger.NewWithWriter(a.cfg.LogLevel, a.cfg.LogFormat, a.errOut)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	a.log = log
	a.log.Debug("Loaded configuration", "config", a.cfg.String())

	if a.cfg.MetricsTextfile != "" {
		m, err := metrics.New(version)
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		a.metrics = m
	}

	st, err := store.New(a.cfg.ConfigDir)
	if err != nil {
		return err
	}
	a.store = st

	client := oauth.NewClient(&http.Client{Timeout: a.cfg.Timeout()}, a.log)
	client.SetMetrics(a.metrics)
	breakerCfg := oauth.DefaultCircuitBreakerConfig()
	breakerCfg.Metrics = a.metrics
	exchanger := oauth.NewExchangerWithCircuitBreaker(client, breakerCfg, a.log)

	flow := &terminalFlow{
		out:         a.errOut,
		openBrowser: a.cfg.OpenBrowser,
		open:        a.openBrowser,
		log:         a.log,
	}
	a.auth = auth.NewAuthenticator(exchanger, a.log,
		auth.WithCallbackPort(a.cfg.CallbackPort),
		auth.WithMetrics(a.metrics),
		auth.WithFlowObserver(flow),
	)
	return nil
}

// finish writes the metrics textfile, if configured
func (a *app) finish() {
	if a.cfg == nil || a.metrics == nil {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		fmt.Fprintf(a.errOut, "WARNING: %v\n", err)
	}
}

// newRootCmd builds the command tree. The root command itself prints the
// authorization header for CLIENT, or registers it with -r.
func newRootCmd(s streams) (*cobra.Command, *app) {
	a := &app{streams: s}
	var register bool

	root := &cobra.Command{
		Use:   "bearer [flags] CLIENT",
		Short: "Create bearer tokens from the command line",
		Long: `bearer stores OAuth2 clients, one file per client, and prints an
"Authorization: Bearer <token>" header for them, refreshing expired
access tokens on the way.

Register a client first (interactive, runs the browser flow):

  bearer register CLIENT

then use it:

  curl -H "$(bearer CLIENT)" https://api.example.com/`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			if register {
				return a.runRegister(cmd.Context(), args[0])
			}
			return a.runHeader(cmd.Context(), args[0])
		},
	}

	a.cfg = config.RegisterFlags(root.PersistentFlags())
	root.Flags().BoolVarP(&register, "register", "r", false, "Register a new client. This command is interactive.")

	root.AddCommand(
		newHeaderCmd(a),
		newTokenCmd(a),
		newRegisterCmd(a),
		newRefreshCmd(a),
		newListCmd(a),
	)

	root.Version = version
	root.SetVersionTemplate(`{{printf "bearer version %s\n" .Version}}`)
	root.SetIn(s.in)
	root.SetOut(s.out)
	root.SetErr(s.errOut)
	return root, a
}

// execute runs the CLI and returns the process exit code
func execute(ctx context.Context, args []string, s streams) int {
	root, a := newRootCmd(s)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.finish()
	if err != nil {
		fmt.Fprintf(s.errOut, "ERROR: %v\n", err)
		if hint := errorHint(err); hint != "" {
			fmt.Fprintln(s.errOut, hint)
		}
	}
	return getExitCode(err)
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	if errors.Is(err, oauth.ErrNotRegistered) ||
		errors.Is(err, oauth.ErrReauthorizationRequired) ||
		errors.Is(err, store.ErrClientNotFound) {
		return ExitCodeAuthRequired
	}

	var (
		transportErr *oauth.TransportError
		protocolErr  *oauth.ProtocolError
		malformedErr *oauth.MalformedResponseError
		deniedErr    *oauth.ProviderDeniedError
	)
	if errors.Is(err, oauth.ErrCircuitOpen) ||
		errors.As(err, &transportErr) ||
		errors.As(err, &protocolErr) ||
		errors.As(err, &malformedErr) ||
		errors.As(err, &deniedErr) {
		return ExitCodeAuthFailed
	}

	// Default to general error
	return ExitCodeError
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, store.ErrClientNotFound):
		return "Register it first with: bearer register CLIENT"
	case errors.Is(err, oauth.ErrNotRegistered), errors.Is(err, oauth.ErrReauthorizationRequired):
		return "Authorize it again with: bearer refresh CLIENT"
	}
	return ""
}
