package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/term"

	"feedsync/pkg/api"
	"feedsync/pkg/apperr"
	"feedsync/pkg/config"
	"feedsync/pkg/engine"
	"feedsync/pkg/session"
)

const FeedCtlVersion = "0.1.0"

func main() {
	usage := `Feed control.

Settings come from FEED_API_URL, FEED_WS_URL and FEED_CREDENTIALS_DB unless
given as flags.

Usage:
    feedctl watch [--search=<term>] [--page=<n>] [--size=<n>] [options]
    feedctl post <body> [--parent=<id>] [options]
    feedctl like <id> [options]
    feedctl unlike <id> [options]
    feedctl edit <id> <body> [options]
    feedctl delete <id> [options]
    feedctl thread <id> [--depth=<n>] [options]
    feedctl login <username> [options]
    feedctl register <username> [options]
    feedctl logout [options]
    feedctl -h | --help
    feedctl --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --api_url=<url>      REST base url.
    --ws_url=<url>       Push socket url.
    --db=<path>          Credential database.
    --profile=<name>     Credential profile [default: default].
    --search=<term>      Only show posts containing term.
    --page=<n>           Page to open [default: 1].
    --size=<n>           Posts per page [default: 10].
    --parent=<id>        Reply to this post.
    --depth=<n>          Reply levels to show, 0 for all [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], FeedCtlVersion)
	if err != nil {
		panic(err)
	}

	// glog writes to files unless told otherwise
	flag.CommandLine.Parse(nil)
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "ERROR")
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feedctl: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	switch {
	case flagSet(opts, "watch"):
		err = app.watch(ctx, opts)
	case flagSet(opts, "post"):
		err = app.post(ctx, opts)
	case flagSet(opts, "like"):
		err = app.byID(ctx, opts, app.engine.Like)
	case flagSet(opts, "unlike"):
		err = app.byID(ctx, opts, app.engine.Unlike)
	case flagSet(opts, "edit"):
		err = app.edit(ctx, opts)
	case flagSet(opts, "delete"):
		err = app.byID(ctx, opts, app.engine.DeletePost)
	case flagSet(opts, "thread"):
		err = app.thread(ctx, opts)
	case flagSet(opts, "login"):
		err = app.login(ctx, opts, false)
	case flagSet(opts, "register"):
		err = app.login(ctx, opts, true)
	case flagSet(opts, "logout"):
		err = app.engine.Logout(ctx)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "feedctl: %s\n", describe(err))
		app.close()
		glog.Flush()
		os.Exit(1)
	}
}

func flagSet(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

func stringOr(opts docopt.Opts, name, def string) string {
	if v, err := opts.String(name); err == nil && v != "" {
		return v
	}
	return def
}

type app struct {
	creds  *session.SQLiteStore
	engine *engine.Engine
	closed bool
}

func newApp(opts docopt.Opts) (*app, error) {
	cfg := config.LoadClient()
	if v := stringOr(opts, "--api_url", ""); v != "" {
		cfg.APIURL = v
		cfg.WSURL = config.Get("FEED_WS_URL", config.WSURL(v))
	}
	cfg.WSURL = stringOr(opts, "--ws_url", cfg.WSURL)
	cfg.CredentialsDB = stringOr(opts, "--db", cfg.CredentialsDB)
	cfg.Profile = stringOr(opts, "--profile", cfg.Profile)

	if err := os.MkdirAll(filepath.Dir(cfg.CredentialsDB), 0o700); err != nil {
		return nil, err
	}
	creds, err := session.OpenSQLite(cfg.CredentialsDB, cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}

	client := api.New(cfg.APIURL, cfg.Timeout)
	eng := engine.New(engine.Config{
		WSURL:        cfg.WSURL,
		FetchTimeout: cfg.Timeout,
	}, engine.Deps{
		Backend:     client,
		Credentials: creds,
	})
	return &app{creds: creds, engine: eng}, nil
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true
	a.engine.Close()
	a.creds.Close()
}

func (a *app) login(ctx context.Context, opts docopt.Opts, register bool) error {
	username, _ := opts.String("<username>")
	password, err := readPassword()
	if err != nil {
		return err
	}

	var s session.Session
	if register {
		s, err = a.engine.Register(ctx, username, password)
	} else {
		s, err = a.engine.Login(ctx, username, password)
	}
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", s.User.Username)
	return nil
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(raw), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describe turns the failure kinds into one line for the terminal.
func describe(err error) string {
	switch {
	case errors.Is(err, apperr.ErrAuth):
		return "not authorized (try feedctl login): " + err.Error()
	case errors.Is(err, apperr.ErrStaleReference):
		return "no such post: " + err.Error()
	case errors.Is(err, apperr.ErrValidation):
		return "rejected: " + err.Error()
	case errors.Is(err, apperr.ErrNetwork):
		return "backend unreachable: " + err.Error()
	}
	return err.Error()
}
