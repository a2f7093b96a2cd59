package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andreweacott/bearer/pkg/auth"
	"github.com/andreweacott/bearer/pkg/callback"
	"github.com/andreweacott/bearer/pkg/oauth"
	"github.com/andreweacott/bearer/pkg/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func newHeaderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "header CLIENT",
		Short: "Print the Authorization header for a client (default command)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHeader(cmd.Context(), args[0])
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token CLIENT",
		Short: "Print the bare access token for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := a.usableToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tok.AccessToken)
			return nil
		},
	}
}

func newRegisterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register CLIENT",
		Short: "Register a new client. This command is interactive.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRegister(cmd.Context(), args[0])
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh CLIENT",
		Short: "Get new tokens, using the browser flow when no refresh token is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRefresh(cmd.Context(), args[0])
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(time.Now())
		},
	}
}

// usableToken loads the client and returns a valid access token, persisting
// refreshed tokens before returning them
func (a *app) usableToken(ctx context.Context, name string) (*oauth2.Token, error) {
	rec, err := a.store.Load(name)
	if err != nil {
		return nil, err
	}

	src := auth.NewTokenSource(ctx, a.auth.Manager(), name, rec.Credentials(), rec.TokenSet(), func(ts oauth.TokenSet) error {
		rec.SetTokens(ts)
		return a.store.Save(rec)
	})
	return src.Token()
}

func (a *app) runHeader(ctx context.Context, name string) error {
	tok, err := a.usableToken(ctx, name)
	if err != nil {
		return err
	}
	// No trailing newline, so the output can be used in "$(...)" as is
	fmt.Fprintf(a.out, "Authorization: %s %s", tok.Type(), tok.AccessToken)
	return nil
}

func (a *app) runRegister(ctx context.Context, name string) error {
	exists, err := a.store.Exists(name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", store.ErrClientExists, name)
	}

	// The redirect URL is registered at the provider before the listener
	// binds, so an ephemeral port cannot be known yet
	if a.cfg.CallbackPort == 0 {
		return errors.New("register needs a fixed callback port, --port 0 picks a random one")
	}

	redirectURI := callback.RedirectURIForPort(a.cfg.CallbackPort)
	fmt.Fprintln(a.out, "Before continuing, register a client with the following redirect URL at the OAuth2 provider:")
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, redirectURI)
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Ensure the port is not already used by another service.")
	fmt.Fprintln(a.out, "If the provider requires an https URL, run an https reverse proxy before continuing.")
	fmt.Fprintln(a.out)

	creds, err := a.promptCredentials()
	if err != nil {
		return err
	}

	rec, err := a.store.Create(name, creds)
	if err != nil {
		return err
	}

	tokens, err := a.auth.Authorize(ctx, name, creds)
	if err != nil {
		return err
	}

	rec.SetTokens(tokens)
	if err := a.store.Save(rec); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Tokens retrieved successfully")
	return nil
}

func (a *app) promptCredentials() (oauth.Credentials, error) {
	p, err := newPrompter(a.in, a.out)
	if err != nil {
		return oauth.Credentials{}, err
	}
	defer p.Close()

	var creds oauth.Credentials

	providerName, err := p.Ask(fmt.Sprintf("Provider (%s, or any name)", strings.Join(oauth.ProviderKeys(), ", ")), "")
	if err != nil {
		return creds, err
	}
	creds.Provider = providerName
	if known, ok := oauth.LookupProvider(providerName); ok {
		creds.Provider = known.Name
		creds.AuthorizeURL = known.AuthorizeURL
		creds.TokenURL = known.TokenURL
	}

	if creds.AuthorizeURL, err = p.Ask("Enter the OAuth2.0 authorize URL", creds.AuthorizeURL); err != nil {
		return creds, err
	}
	if creds.TokenURL, err = p.Ask("Enter the OAuth2.0 token URL", creds.TokenURL); err != nil {
		return creds, err
	}
	if creds.ClientID, err = p.Ask("Enter the Client Id", ""); err != nil {
		return creds, err
	}
	if creds.Secret, err = p.Secret("Enter the Client Secret"); err != nil {
		return creds, err
	}
	if creds.Scope, err = p.Ask("Enter the scope (optional)", ""); err != nil {
		return creds, err
	}

	return creds, creds.Validate()
}

func (a *app) runRefresh(ctx context.Context, name string) error {
	rec, err := a.store.Load(name)
	if err != nil {
		return err
	}

	tokens, err := a.auth.Refresh(ctx, name, rec.Credentials(), rec.TokenSet())
	if err != nil {
		return err
	}

	rec.SetTokens(tokens)
	if err := a.store.Save(rec); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Tokens retrieved successfully")
	return nil
}

func (a *app) runList(now time.Time) error {
	names, err := a.store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintf(a.out, "No clients registered in %s\n", a.store.Dir())
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"CLIENT", "PROVIDER", "CLIENT ID", "TOKEN"})

	for _, name := range names {
		rec, err := a.store.Load(name)
		if err != nil {
			a.log.WithClient(name).WithError(err).Warn("Skipping unreadable client file")
			t.AppendRow(table.Row{name, "?", "?", "unreadable"})
			continue
		}
		t.AppendRow(table.Row{name, rec.Client.Provider, rec.Client.ClientID, tokenStatus(rec, now)})
	}

	t.Render()
	return nil
}

func tokenStatus(rec *store.Record, now time.Time) string {
	expired, known := rec.Expired(now)
	switch {
	case !known:
		return "none"
	case !expired:
		return "valid until " + rec.Tokens.ExpiresAt.UTC().Format(time.RFC3339)
	case rec.Tokens.RefreshToken != "":
		return "expired (refreshable)"
	default:
		return "expired"
	}
}
