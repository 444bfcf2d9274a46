package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"videosync/oauth"
)

const defaultPrincipal = "operator"

func newAuthCmd(e *env) *cobra.Command {
	var principal string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the YouTube OAuth session",
	}
	cmd.PersistentFlags().StringVar(&principal, "principal", defaultPrincipal,
		"name the CSRF state is issued to; url and callback must agree")

	urlCmd := &cobra.Command{
		Use:   "url",
		Short: "Print the consent URL to open in a browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.session.AuthorizationURL(cmd.Context(), principal)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}

	var code, state string
	callbackCmd := &cobra.Command{
		Use:     "callback",
		Short:   "Exchange the code from the redirect for tokens",
		Example: `  videosync auth callback --code 4/0Adeu5B... --state 3f2a...`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.HandleCallback(cmd.Context(), principal, code, state); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Authenticated.")
			return nil
		},
	}
	callbackCmd.Flags().StringVar(&code, "code", "", "authorization code from the redirect")
	callbackCmd.Flags().StringVar(&state, "state", "", "state parameter from the redirect")
	_ = callbackCmd.MarkFlagRequired("code")
	_ = callbackCmd.MarkFlagRequired("state")

	var timeout time.Duration
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Run the consent flow with a local redirect listener",
		Long: `login prints the consent URL and listens on the configured redirect URL
until the provider redirects back or the timeout passes. The redirect URL must
point at this machine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			states := oauth.NewMemoryStateTokens()
			defer states.Stop()
			return login(cmd, a.newSession(states), a.cfg.OAuth.RedirectURL, principal, timeout)
		},
	}
	loginCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the redirect")

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.session.Refresh(cmd.Context()); err != nil {
				return err
			}
			st, err := a.session.Status(cmd.Context(), principal)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Access token refreshed, expires %s.\n", formatTime(st.ExpiresAt))
			return nil
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Revoke the session and delete stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.Disconnect(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Disconnected.")
			return nil
		},
	}

	cmd.AddCommand(urlCmd, callbackCmd, loginCmd, refreshCmd, disconnectCmd)
	return cmd
}

// login serves one redirect on redirectURL and completes the session with it.
func login(cmd *cobra.Command, session *oauth.SessionManager, redirectURL, principal string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	u, err := url.Parse(redirectURL)
	if err != nil {
		return fmt.Errorf("parse redirect url: %w", err)
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", u.Host, err)
	}

	consent, err := session.AuthorizationURL(ctx, principal)
	if err != nil {
		ln.Close()
		return err
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	done := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var err error
		if msg := q.Get("error"); msg != "" {
			err = fmt.Errorf("authorization denied: %s", msg)
		} else {
			err = session.HandleCallback(r.Context(), principal, q.Get("code"), q.Get("state"))
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Authenticated. You can close this window.")
		}
		select {
		case done <- err:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in a browser:\n\n  %s\n\nWaiting for the redirect on %s ...\n", consent, redirectURL)

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Authenticated.")
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("no redirect received within %s", timeout)
		}
		return ctx.Err()
	}
}
