// Package main provides the CLI entry point for the admin console.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/erp/adminconsole/internal/admin"
	"github.com/erp/adminconsole/internal/apierror"
	"github.com/erp/adminconsole/internal/app"
	"github.com/erp/adminconsole/internal/auth"
	"github.com/erp/adminconsole/internal/client"
	"github.com/erp/adminconsole/internal/infrastructure/config"
	"github.com/erp/adminconsole/internal/session"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Environment fallbacks for the login command.
const (
	envUsername = "ADMIN_USERNAME"
	envPassword = "ADMIN_PASSWORD"
)

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `adminctl - ERP Admin Console

USAGE:
    adminctl [global options] <command> [command options] [arguments]

GLOBAL OPTIONS:
    -config, -c <path>    Path to the TOML configuration file
    -output, -o <format>  Output format: json or yaml (default json)
    -version              Show version information
    -help, -h             Show this help message

SESSION COMMANDS:
    login [-username u] [-password p]
                          Sign in and store the credential pair
                          (falls back to %s / %s)
    logout                Sign out and clear the stored credentials
    whoami                Show the signed-in user
    status                Show whether a session is stored and decodable
    register -username u -password p [-email e] [-display-name n]
                          Create an operator account

RESOURCE COMMANDS:
    list <resource> [-page n] [-size n]
                          Show one page (pages count from 1)
    get <resource> <id>   Show one record
    create <resource> -data <json|@file>
                          Create a record
    update <resource> <id> -data <json|@file>
                          Merge fields into a record
    delete <resource> <id>
                          Delete a record
    watch <resource> [-interval d] [-count n] [-prometheus addr]
                          Reload the first page periodically

RESOURCES:
    %s

CONFIGURATION:
    Settings come from adminctl.toml (working directory or user config dir)
    and ADMIN_ environment variables, e.g. ADMIN_API_BASE_URL,
    ADMIN_STORAGE_BACKEND (memory, file, redis), ADMIN_STORAGE_PATH,
    ADMIN_LOG_LEVEL.

EXAMPLES:
    adminctl login -username admin
    adminctl list tutors -page 2 -size 50
    adminctl -o yaml get students 42
    adminctl create group-configs -data '{"name":"Robotics","monthly_fee":"120.00"}'
    adminctl watch tutors -interval 30s -prometheus :9090
`, envUsername, envPassword, strings.Join(resourceNames, ", "))
}

var resourceNames = []string{
	admin.GroupConfigsResource,
	admin.StudentsResource,
	admin.TutorsResource,
	admin.UsersResource,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli carries global options and the output streams for one invocation.
type cli struct {
	configPath string
	output     string
	stdout     io.Writer
	stderr     io.Writer
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}

	fs := flag.NewFlagSet("adminctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	fs.StringVar(&c.configPath, "config", "", "Path to the TOML configuration file")
	fs.StringVar(&c.configPath, "c", "", "Path to the TOML configuration file (shorthand)")
	fs.StringVar(&c.output, "output", "json", "Output format: json or yaml")
	fs.StringVar(&c.output, "o", "json", "Output format (shorthand)")
	showVersion := fs.Bool("version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		c.printVersion()
		return 0
	}
	if c.output != "json" && c.output != "yaml" {
		fmt.Fprintf(stderr, "Error: unsupported output format %q\n", c.output)
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "Error: a command is required")
		fmt.Fprintln(stderr)
		printUsage(stderr)
		return 2
	}

	cmd, cmdArgs := rest[0], rest[1:]
	var err error
	switch cmd {
	case "login":
		err = c.login(ctx, cmdArgs)
	case "logout":
		err = c.logout(ctx, cmdArgs)
	case "whoami":
		err = c.whoami(ctx, cmdArgs)
	case "status":
		err = c.status(ctx, cmdArgs)
	case "register":
		err = c.register(ctx, cmdArgs)
	case "list":
		err = c.list(ctx, cmdArgs)
	case "get":
		err = c.get(ctx, cmdArgs)
	case "create":
		err = c.create(ctx, cmdArgs)
	case "update":
		err = c.update(ctx, cmdArgs)
	case "delete":
		err = c.delete(ctx, cmdArgs)
	case "watch":
		err = c.watch(ctx, cmdArgs)
	case "version":
		c.printVersion()
	case "help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", cmd)
		printUsage(stderr)
		return 2
	}

	if err != nil {
		return c.fail(err)
	}
	return 0
}

func (c *cli) printVersion() {
	fmt.Fprintf(c.stdout, "adminctl version %s\n", version)
	fmt.Fprintf(c.stdout, "  Build time: %s\n", buildTime)
	fmt.Fprintf(c.stdout, "  Git commit: %s\n", gitCommit)
}

// errUsage marks argument errors; they exit with 2.
var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func (c *cli) fail(err error) int {
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(c.stderr, "Error: %s\n", strings.TrimPrefix(err.Error(), errUsage.Error()+": "))
		return 2
	case errors.Is(err, client.ErrSessionEnded):
		// the navigator already told the operator to sign in again
		return 1
	}

	if rec, ok := apierror.As(err); ok {
		fmt.Fprintf(c.stderr, "Error: %s (%s, HTTP %d)\n", rec.Message, rec.Status, rec.StatusCode)
		for _, d := range rec.ValidationErrors {
			fmt.Fprintf(c.stderr, "  %s: %s\n", d.Field, d.Message)
		}
		return 1
	}
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

// open loads configuration and wires the console. Callers must Close it.
func (c *cli) open(ctx context.Context, mutate ...func(*config.Config)) (*app.App, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	for _, m := range mutate {
		m(cfg)
	}
	return app.New(ctx, cfg, app.WithNavigator(app.NewHintNavigator(c.stderr)))
}

func (c *cli) print(v any) error {
	switch c.output {
	case "yaml":
		enc := yaml.NewEncoder(c.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseInterleaved parses flags that may follow positional arguments,
// e.g. "list tutors -page 2".
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, usageErr("%v", err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// =============================================================================
// Session commands
// =============================================================================

func (c *cli) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login", c.stderr)
	username := fs.String("username", os.Getenv(envUsername), "Account username")
	password := fs.String("password", os.Getenv(envPassword), "Account password")
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return usageErr("login requires -username and -password (or %s and %s)", envUsername, envPassword)
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Auth.Login(ctx, auth.Credentials{Username: *username, Password: *password}); err != nil {
		return err
	}
	a.Logger.Debug("signed in", zap.String("username", *username))
	return c.print(sessionView(ctx, a))
}

func (c *cli) logout(ctx context.Context, _ []string) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.stderr, "signed out")
	return nil
}

func (c *cli) whoami(ctx context.Context, _ []string) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.Auth.IsAuthenticated(ctx) {
		return errors.New("not signed in: run 'adminctl login'")
	}
	user, err := a.Auth.Me(ctx)
	if err != nil {
		return err
	}
	return c.print(user)
}

// sessionStatus is what status and login print.
type sessionStatus struct {
	Authenticated bool      `json:"authenticated" yaml:"authenticated"`
	Valid         bool      `json:"valid" yaml:"valid"`
	Subject       string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero" yaml:"expires_at,omitempty"`
	Storage       string    `json:"storage" yaml:"storage"`
}

func sessionView(ctx context.Context, a *app.App) sessionStatus {
	v := a.Auth.Session(ctx)
	st := sessionStatus{
		Authenticated: a.Auth.IsAuthenticated(ctx),
		Valid:         v.Valid,
		Subject:       v.Subject,
		Storage:       a.Config.Storage.Backend,
	}
	if claims := session.Decode(a.Store.Pair(ctx).AccessToken); claims != nil {
		st.ExpiresAt = claims.Expiry()
	}
	return st
}

func (c *cli) status(ctx context.Context, _ []string) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return c.print(sessionView(ctx, a))
}

func (c *cli) register(ctx context.Context, args []string) error {
	fs := newFlagSet("register", c.stderr)
	var req auth.RegisterRequest
	fs.StringVar(&req.Username, "username", "", "Account username")
	fs.StringVar(&req.Password, "password", "", "Account password")
	fs.StringVar(&req.Email, "email", "", "Contact email")
	fs.StringVar(&req.DisplayName, "display-name", "", "Display name")
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.Auth.Register(ctx, req)
	if err != nil {
		return err
	}
	return c.print(user)
}

// =============================================================================
// Resource commands
// =============================================================================

// listView is what list and watch print.
type listView struct {
	Resource string       `json:"resource" yaml:"resource"`
	Paging   admin.Paging `json:"paging" yaml:"paging"`
	Items    any          `json:"items" yaml:"items"`
}

func pagingView(p admin.Paging) admin.Paging {
	p.Page++ // operators count pages from 1
	return p
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list", c.stderr)
	page := fs.Int("page", 1, "Page number, from 1")
	size := fs.Int("size", 0, "Page size (default from config)")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("list takes exactly one resource")
	}
	if *page < 1 {
		return usageErr("-page must be at least 1")
	}
	if *size < 0 || *size > 100 {
		return usageErr("-size must be between 1 and 100")
	}

	a, err := c.open(ctx, func(cfg *config.Config) {
		if *size > 0 {
			cfg.Cache.PageSize = *size
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	coll, err := a.Console.Lookup(pos[0])
	if err != nil {
		return usageErr("%v", err)
	}
	items, err := coll.ListAny(ctx, *page-1)
	if err != nil {
		return err
	}
	return c.print(listView{Resource: coll.Name(), Paging: pagingView(coll.Paging()), Items: items})
}

// lookupRecord resolves "<resource> <id>" arguments.
func (c *cli) lookupRecord(a *app.App, cmd string, pos []string) (admin.Collection, string, error) {
	if len(pos) != 2 {
		return nil, "", usageErr("%s takes a resource and an id", cmd)
	}
	coll, err := a.Console.Lookup(pos[0])
	if err != nil {
		return nil, "", usageErr("%v", err)
	}
	return coll, pos[1], nil
}

func (c *cli) get(ctx context.Context, args []string) error {
	pos, err := parseInterleaved(newFlagSet("get", c.stderr), args)
	if err != nil {
		return err
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, id, err := c.lookupRecord(a, "get", pos)
	if err != nil {
		return err
	}
	rec, err := coll.GetAny(ctx, id)
	if err != nil {
		return err
	}
	return c.print(rec)
}

// readData returns the -data payload; "@path" reads a file and "-" reads stdin.
func readData(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "":
		return nil, usageErr("-data is required")
	case data == "-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		raw, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("reading data file: %w", err)
		}
		return raw, nil
	}
	return []byte(data), nil
}

func (c *cli) create(ctx context.Context, args []string) error {
	fs := newFlagSet("create", c.stderr)
	data := fs.String("data", "", "Record as JSON, @file or - for stdin")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("create takes exactly one resource")
	}
	raw, err := readData(*data, os.Stdin)
	if err != nil {
		return err
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, err := a.Console.Lookup(pos[0])
	if err != nil {
		return usageErr("%v", err)
	}
	rec, err := coll.CreateJSON(ctx, raw)
	if err != nil {
		return err
	}
	return c.print(rec)
}

func (c *cli) update(ctx context.Context, args []string) error {
	fs := newFlagSet("update", c.stderr)
	data := fs.String("data", "", "Fields as JSON, @file or - for stdin")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	raw, err := readData(*data, os.Stdin)
	if err != nil {
		return err
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, id, err := c.lookupRecord(a, "update", pos)
	if err != nil {
		return err
	}
	rec, err := coll.UpdateJSON(ctx, id, raw)
	if err != nil {
		return err
	}
	return c.print(rec)
}

func (c *cli) delete(ctx context.Context, args []string) error {
	pos, err := parseInterleaved(newFlagSet("delete", c.stderr), args)
	if err != nil {
		return err
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, id, err := c.lookupRecord(a, "delete", pos)
	if err != nil {
		return err
	}
	if err := coll.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "deleted %s/%s\n", coll.Name(), id)
	return nil
}

func (c *cli) watch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch", c.stderr)
	interval := fs.Duration("interval", 30*time.Second, "Reload interval")
	count := fs.Int("count", 0, "Stop after n reloads (0 runs until interrupted)")
	promAddr := fs.String("prometheus", "", "Serve Prometheus metrics on addr, e.g. :9090")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("watch takes exactly one resource")
	}
	if *interval <= 0 {
		return usageErr("-interval must be positive")
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, err := a.Console.Lookup(pos[0])
	if err != nil {
		return usageErr("%v", err)
	}

	if *promAddr != "" {
		addr, err := a.Metrics.Serve(*promAddr)
		if err != nil {
			return fmt.Errorf("starting metrics endpoint: %w", err)
		}
		fmt.Fprintf(c.stderr, "metrics on http://%s/metrics\n", addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = a.Metrics.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	items, err := coll.ListAny(ctx, 0)
	for n := 1; ; n++ {
		if err != nil {
			return err
		}
		if err := c.print(listView{Resource: coll.Name(), Paging: pagingView(coll.Paging()), Items: items}); err != nil {
			return err
		}
		if *count > 0 && n >= *count {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		items, err = coll.RefreshAny(ctx)
	}
}
