package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raine/sportdesk/internal/api"
	"github.com/raine/sportdesk/internal/dashboard"
	"github.com/raine/sportdesk/internal/session"
	"github.com/rs/zerolog/log"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string, out io.Writer) error
}

var commands = map[string]command{
	"login":     {"sign in with email and password", runLogin},
	"signup":    {"create an account and sign in", runSignup},
	"whoami":    {"show the signed-in user", runWhoami},
	"logout":    {"forget the local session", runLogout},
	"get":       {"GET a backend path and print the JSON response", runGet},
	"overview":  {"show how many facilities, coaches, clubs, events and participants exist", runOverview},
	"keepalive": {"keep the session alive until interrupted", runKeepalive},
}

var errNotSignedIn = errors.New("not signed in")

func runLogin(ctx context.Context, a *app, args []string, out io.Writer) error {
	_, creds, err := a.promptCredentials(false)
	if err != nil {
		return err
	}
	resp, err := a.session.SignIn(ctx, creds)
	if err != nil {
		return err
	}
	if err := authFailure(resp); err != nil {
		return err
	}
	return runWhoami(ctx, a, nil, out)
}

func runSignup(ctx context.Context, a *app, args []string, out io.Writer) error {
	name, creds, err := a.promptCredentials(true)
	if err != nil {
		return err
	}
	resp, err := a.session.SignUp(ctx, session.SignUpRequest{
		Name:     name,
		Email:    creds.Email,
		Password: creds.Password,
	})
	if err != nil {
		return err
	}
	if err := authFailure(resp); err != nil {
		return err
	}
	return runWhoami(ctx, a, nil, out)
}

func authFailure(resp *api.JSONResponse) error {
	if resp.OK() {
		return nil
	}
	if resp.Envelope.Message != "" {
		return errors.New(resp.Envelope.Message)
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}

func runWhoami(ctx context.Context, a *app, args []string, out io.Writer) error {
	user, err := a.session.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return errNotSignedIn
	}
	fmt.Fprintln(out, successStyle.Render("Signed in as "+user.Name))
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("  %s · %s · %s", user.Email, user.Role, user.ID)))
	return nil
}

func runLogout(ctx context.Context, a *app, args []string, out io.Writer) error {
	a.session.SignOut()
	a.jar.Clear()
	fmt.Fprintln(out, "Signed out.")
	return nil
}

func runGet(ctx context.Context, a *app, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: sportdesk get <path>")
	}
	path := args[0]
	if !strings.HasPrefix(path, "/") && !strings.Contains(path, "://") {
		path = "/" + path
	}

	resp, err := a.client.FetchJSON(ctx, http.MethodGet, path, nil, api.RequestOptions{})
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, resp.Raw, "", "  ") == nil {
		fmt.Fprintln(out, pretty.String())
	} else {
		fmt.Fprintln(out, string(resp.Raw))
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("GET %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func runOverview(ctx context.Context, a *app, args []string, out io.Writer) error {
	counts, err := a.dashboard.Overview(ctx)
	if err != nil {
		return err
	}
	for _, r := range dashboard.Resources {
		fmt.Fprintf(out, "%-14s %d\n", r, counts[r])
	}
	return nil
}

// runKeepalive checks the session periodically until ctx is cancelled. The
// token store refreshes the access token in the background meanwhile.
func runKeepalive(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keepalive", flag.ContinueOnError)
	interval := fs.Duration("interval", 5*time.Minute, "how often to check the session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	check := func() error {
		a.session.Cache().Invalidate(session.CurrentUserKey)
		user, err := a.session.CurrentUser(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("could not check session")
			return nil
		}
		if user == nil {
			return errNotSignedIn
		}
		log.Info().Str("user", user.Email).Msg("session alive")
		return nil
	}

	// Run immediately on startup
	if err := check(); err != nil {
		return err
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping session keep-alive")
			return nil
		case <-ticker.C:
			if err := check(); err != nil {
				return err
			}
		}
	}
}
