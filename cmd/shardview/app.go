package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardview/internal/config"
	"github.com/samcharles93/shardview/internal/logger"
	"github.com/samcharles93/shardview/internal/safetensors"
	"github.com/samcharles93/shardview/internal/version"
)

const envModelDir = "SHARDVIEW_MODEL"

// app holds state shared by every subcommand of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string
	maxShards  int
	maxTensors int
	strict     bool

	cfg config.Config
	log logger.Logger
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	a := &app{stdout: stdout, stderr: stderr, log: logger.Discard()}
	return &cli.Command{
		Name:      "shardview",
		Usage:     "Inspect and serve safetensors model archives",
		Version:   version.String(),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     a.globalFlags(),
		Before:    a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			a.inspectCmd(),
			a.getCmd(),
			a.serveCmd(),
			a.versionCmd(),
		},
	}
}

func (a *app) globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &a.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &a.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &a.logFormat,
		},
		&cli.IntFlag{
			Name:        "max-shards",
			Usage:       "maximum shard files opened from a directory",
			Value:       safetensors.DefaultMaxShards,
			Destination: &a.maxShards,
		},
		&cli.IntFlag{
			Name:        "max-tensors",
			Usage:       "maximum tensor entries read from one header",
			Value:       safetensors.DefaultMaxTensors,
			Destination: &a.maxTensors,
		},
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "fail instead of truncating when a limit is exceeded",
			Destination: &a.strict,
		},
	}
}

// before loads the config file and builds the logger. Flags given on the
// command line win over the file.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if a.configPath != "" {
		cfg, err := config.LoadFile(a.configPath)
		if err != nil {
			return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
		a.cfg = cfg
	} else {
		a.cfg = config.Load()
	}
	a.applyConfig(cmd)

	log, err := logger.Open(a.stderr, a.logFormat, a.logLevel)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	a.log = log
	return logger.WithContext(ctx, log), nil
}

func (a *app) applyConfig(c *cli.Command) {
	cfg := a.cfg
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		a.logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		a.logFormat = cfg.LogFormat
	}
	limits := cfg.Limits()
	if !c.IsSet("max-shards") {
		a.maxShards = limits.MaxShards
	}
	if !c.IsSet("max-tensors") {
		a.maxTensors = limits.MaxTensors
	}
	if !c.IsSet("strict") {
		a.strict = limits.Strict
	}
}

func (a *app) limits() safetensors.Limits {
	return safetensors.Limits{
		MaxShards:  a.maxShards,
		MaxTensors: a.maxTensors,
		Strict:     a.strict,
	}
}

// openModel resolves and opens the model directory for a subcommand.
func (a *app) openModel(model string) (*safetensors.Set, error) {
	dir, err := resolveModelDir(model, a.cfg.ModelsDir)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	set, err := safetensors.OpenDir(dir,
		safetensors.WithLimits(a.limits()),
		safetensors.WithLogger(a.log),
	)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: open model: %v", err), 1)
	}
	return set, nil
}

func modelFlag(dest *string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "model",
		Aliases:     []string{"m"},
		Usage:       "model directory, or a name under models_dir",
		Sources:     cli.EnvVars(envModelDir),
		Destination: dest,
	}
}
