package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dom/authsvc/internal/client"
	"github.com/dom/authsvc/internal/logging"
	"golang.org/x/term"
)

const defaultServer = "http://localhost:8000"

// readPassword is replaced in tests.
var readPassword = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `authcli - command line client for the auth service

USAGE:
  authcli [global options] <command> [options]

COMMANDS:
  register  Create an account and sign in (-username, -email)
  login     Sign in (-username)
  whoami    Print the signed in user
  home      Show the protected home page
  logout    Forget the stored session
  health    Check that the backend is running

GLOBAL OPTIONS:
  -server      Backend URL (env AUTH_API_URL, default http://localhost:8000)
  -token-file  Where the session token is kept (default: user config dir)
  -v           Verbose logging

Passwords are always prompted for and never accepted as flags.`)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("authcli", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { printUsage(stderr) }

	server := global.String("server", envOr("AUTH_API_URL", defaultServer), "backend URL")
	tokenFile := global.String("token-file", "", "token file path")
	verbose := global.Bool("v", false, "verbose logging")
	if err := global.Parse(args); err != nil {
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 2
	}
	command, cmdArgs := rest[0], rest[1:]

	if command == "help" {
		printUsage(stdout)
		return 0
	}

	path := *tokenFile
	if path == "" {
		p, err := client.DefaultTokenPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		path = p
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logging.New(stderr, "text", level)

	api := client.NewAPIClient(*server)
	c := &cli{
		out:     stdout,
		api:     api,
		session: client.NewSession(api, client.NewFileTokenStore(path), client.WithLogger(log)),
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var err error
	switch command {
	case "register":
		err = c.register(ctx, cmdArgs)
	case "login":
		err = c.login(ctx, cmdArgs)
	case "whoami":
		err = c.whoami(ctx)
	case "home":
		err = c.home(ctx)
	case "logout":
		err = c.logout()
	case "health":
		err = c.health(ctx)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", describe(err))
		return 1
	}
	return 0
}

type cli struct {
	out     io.Writer
	api     *client.APIClient
	session *client.Session
}

func (c *cli) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	username := fs.String("username", "", "account name")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := readPassword("Password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	user, err := c.session.Register(ctx, *username, *email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Registered and signed in as %s\n", user.Username)
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("username", "", "account name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := readPassword("Password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	user, err := c.session.Login(ctx, *username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Signed in as %s\n", user.Username)
	return nil
}

func (c *cli) whoami(ctx context.Context) error {
	if err := c.resolve(ctx); err != nil {
		return err
	}

	user, err := c.session.Protected()
	if errors.Is(err, client.ErrNotAuthenticated) {
		fmt.Fprintln(c.out, "anonymous")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, user.Username)
	return nil
}

func (c *cli) home(ctx context.Context) error {
	if err := c.resolve(ctx); err != nil {
		return err
	}

	user, err := c.session.Protected()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Welcome, %s!\n\n", user.Username)
	fmt.Fprintf(c.out, "  ID:      %s\n", user.ID)
	fmt.Fprintf(c.out, "  Email:   %s\n", user.Email)
	if !user.CreatedAt.IsZero() {
		fmt.Fprintf(c.out, "  Joined:  %s\n", user.CreatedAt.Local().Format(time.RFC1123))
	}
	return nil
}

func (c *cli) logout() error {
	if err := c.session.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Signed out")
	return nil
}

func (c *cli) health(ctx context.Context) error {
	resp, err := c.api.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: %s\n", resp.Status, resp.Message)
	return nil
}

// resolve runs the startup resolution and waits until the session settles.
func (c *cli) resolve(ctx context.Context) error {
	if err := c.session.Start(ctx); err != nil {
		return err
	}
	_, err := c.session.Wait(ctx)
	return err
}

func describe(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNotAuthenticated):
		return "you are not signed in; run `authcli login` first"
	case errors.As(err, &apiErr):
		if len(apiErr.Fields) == 0 {
			return apiErr.Message
		}
		parts := make([]string, 0, len(apiErr.Fields))
		for field, msg := range apiErr.Fields {
			parts = append(parts, field+" "+msg)
		}
		sort.Strings(parts)
		return apiErr.Message + ": " + strings.Join(parts, "; ")
	default:
		return err.Error()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
