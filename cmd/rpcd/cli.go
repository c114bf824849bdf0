// ABOUTME: Kong command tree for start, stop, restart, reload, status, and call
// ABOUTME: Wires configuration into the dispatch server and its transports

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/harper/rpcd/internal/app"
	"github.com/harper/rpcd/internal/client"
	"github.com/harper/rpcd/internal/config"
	rpcerrors "github.com/harper/rpcd/internal/errors"
	rpchttp "github.com/harper/rpcd/internal/http"
	"github.com/harper/rpcd/internal/logger"
	"github.com/harper/rpcd/internal/management"
	"github.com/harper/rpcd/internal/metrics"
	"github.com/harper/rpcd/internal/process"
	"github.com/harper/rpcd/internal/server"
	"github.com/harper/rpcd/internal/websocket"
	"github.com/harper/rpcd/internal/xdg"
)

var (
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type CLI struct {
	Config  string `short:"c" type:"path" help:"Path to config file" env:"RPCD_CONFIG"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Start   StartCmd   `cmd:"" help:"Start the server in the foreground"`
	Stop    StopCmd    `cmd:"" help:"Stop the running server"`
	Restart RestartCmd `cmd:"" help:"Stop the running server and start a new one"`
	Reload  ReloadCmd  `cmd:"" help:"Restart the workers of the running server"`
	Status  StatusCmd  `cmd:"" help:"Show whether the server is running"`
	Call    CallCmd    `cmd:"" help:"Send one JSON-RPC request to a running server"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// env is what every command's Run receives.
type env struct {
	cli    *CLI
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
}

func (e *env) config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load(e.configPath())
	if err != nil {
		return nil, err
	}
	logger.SetVerbose(cfg.Log.Verbose || e.cli.Verbose)
	e.cfg = cfg
	return cfg, nil
}

// configPath is --config, else the XDG config file when one exists.
func (e *env) configPath() string {
	if e.cli.Config != "" {
		return e.cli.Config
	}
	if path := xdg.DefaultConfigFile(); fileExists(path) {
		return path
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (e *env) controller() (*process.Controller, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	run := func(ctx context.Context) error {
		return buildServer(cfg).Run(ctx)
	}
	return process.NewController(cfg.Server.Name, process.NewPIDFile(cfg.Server.PIDFile), run), nil
}

func (e *env) info(format string, args ...any) {
	fmt.Fprintln(e.stdout, infoStyle.Render(fmt.Sprintf(format, args...)))
}

// buildServer assembles the dispatch server and every configured listener.
func buildServer(cfg *config.Config) *server.Server {
	m := metrics.New()
	srv := server.New(func(se *server.Env) error {
		if err := app.Bootstrap(se); err != nil {
			return err
		}
		cfg.Middleware.Apply(se.Registry)
		return nil
	}, server.Options{
		Name:            cfg.Server.Name,
		Workers:         cfg.Server.Workers,
		MaxConnections:  cfg.Server.MaxConnections,
		QueueSize:       cfg.Server.QueueSize,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		PIDFile:         process.NewPIDFile(cfg.Server.PIDFile),
		Metrics:         m,
	})

	srv.AddTransport(websocket.NewServer(srv).WithReadLimit(cfg.Server.MaxMessageBytes).HTTPServer(cfg.WebSocketAddr()))
	logger.Info("WebSocket listening on %s", cfg.WebSocketAddr())
	if cfg.Server.HTTPPort != 0 {
		srv.AddTransport(rpchttp.NewServer(srv).WithMaxBodyBytes(cfg.Server.MaxMessageBytes).HTTPServer(cfg.HTTPAddr(), cfg.Server.H2C))
		logger.Info("HTTP listening on %s (h2c=%v)", cfg.HTTPAddr(), cfg.Server.H2C)
	}
	if cfg.Management.Enabled {
		srv.AddTransport(management.NewServer(cfg, srv, m).HTTPServer(cfg.ManagementAddr()))
		logger.Info("Management API listening on %s", cfg.ManagementAddr())
	}
	return srv
}

type StartCmd struct{}

func (c *StartCmd) Run(e *env) error {
	ctl, err := e.controller()
	if err != nil {
		return err
	}
	e.info("Starting %s", e.cfg.Server.Name)
	return ctl.Start(context.Background())
}

type StopCmd struct{}

func (c *StopCmd) Run(e *env) error {
	ctl, err := e.controller()
	if err != nil {
		return err
	}
	if err := ctl.Stop(context.Background()); err != nil {
		return err
	}
	e.info("Stopped %s", e.cfg.Server.Name)
	return nil
}

type RestartCmd struct{}

func (c *RestartCmd) Run(e *env) error {
	ctl, err := e.controller()
	if err != nil {
		return err
	}
	e.info("Restarting %s", e.cfg.Server.Name)
	return ctl.Restart(context.Background())
}

type ReloadCmd struct{}

func (c *ReloadCmd) Run(e *env) error {
	ctl, err := e.controller()
	if err != nil {
		return err
	}
	if err := ctl.Reload(context.Background()); err != nil {
		return err
	}
	e.info("Reload signal sent to %s", e.cfg.Server.Name)
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(e *env) error {
	ctl, err := e.controller()
	if err != nil {
		return err
	}
	pid, running := ctl.Status()
	if !running {
		return rpcerrors.NewNotRunningError(e.cfg.Server.Name, e.cfg.Server.PIDFile)
	}
	e.info("%s is running (pid %d)", e.cfg.Server.Name, pid)
	return nil
}

type CallCmd struct {
	Method  string        `arg:"" help:"Method to call"`
	Params  string        `arg:"" optional:"" help:"Params as a JSON object or array"`
	URL     string        `help:"WebSocket url (defaults to the configured listener)"`
	Notify  bool          `help:"Send as a notification and do not wait for a reply"`
	Timeout time.Duration `default:"10s" help:"How long to wait for the reply"`
}

func (c *CallCmd) Run(e *env) error {
	var params any
	if c.Params != "" {
		if !json.Valid([]byte(c.Params)) {
			return fmt.Errorf("params are not valid JSON: %s", c.Params)
		}
		params = json.RawMessage(c.Params)
	}

	url := c.URL
	if url == "" {
		cfg, err := e.config()
		if err != nil {
			return err
		}
		url = "ws://" + cfg.WebSocketAddr()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	cl, err := client.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	if c.Notify {
		return cl.Notify(ctx, c.Method, params)
	}

	resp, err := cl.Call(ctx, c.Method, params)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, string(out))
	if bag := resp.Error(); bag != nil {
		return rpcerrors.New(bag.Code(), bag.Message(), bag.Data())
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(e *env) error {
	fmt.Fprintf(e.stdout, "rpcd %s %s\n", version, dimStyle.Render("(built "+buildTime+")"))
	return nil
}

// run parses args, runs the selected command, and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cli := &CLI{}
	exitCode := -1
	parser, err := kong.New(cli,
		kong.Name("rpcd"),
		kong.Description("Multi-worker JSON-RPC 2.0 server"),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render("Error: "+err.Error()))
		return 1
	}

	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render("Error: "+err.Error()))
		return 1
	}

	e := &env{cli: cli, stdout: stdout, stderr: stderr}
	if err := kctx.Run(e); err != nil {
		var re *rpcerrors.ResponseError
		if errors.As(err, &re) {
			return 1
		}
		fmt.Fprintln(stderr, errorStyle.Render("Error: "+err.Error()))
		return 1
	}
	return 0
}
