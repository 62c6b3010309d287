package main

import (
	"context"
	"fmt"
	"os"

	"github.com/livefn/livefn/cmd/functions"
	"github.com/livefn/livefn/cmd/start"
	"github.com/livefn/livefn/cmd/version"
	lfcli "github.com/livefn/livefn/pkg/cli"
	lfversion "github.com/livefn/livefn/pkg/livefn/version"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/syscode"
	isatty "github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
)

// globalFlags are the flags that should be available on all commands
var globalFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "json",
		Usage: "Output logs as JSON.  Set to true if stdout is not a TTY.",
	},
	&cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable verbose logging.",
	},
	&cli.StringFlag{
		Name:    "log-level",
		Aliases: []string{"l"},
		Value:   "info",
		Usage:   "Set the log level.  One of: trace, debug, info, warn, error.",
	},
}

func execute() {
	app := &cli.Command{
		Name: "livefn",
		Usage: lfcli.RenderBanner(
			"livefn",
			lfversion.Print(),
			"Run your deployed Lambda functions on your machine.",
		),
		Version: lfversion.Print(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			// Set LOG_HANDLER environment variable based on --json flag
			// This ensures the logger respects the JSON output setting
			if cmd.Bool("json") {
				os.Setenv("LOG_HANDLER", "json")
			}

			if os.Getenv("LOG_LEVEL") == "" {
				// Set LOG_LEVEL environment variable so the logger picks it up
				if cmd.IsSet("log-level") {
					os.Setenv("LOG_LEVEL", cmd.String("log-level"))
				} else if cmd.Bool("verbose") {
					os.Setenv("LOG_LEVEL", "debug")
				} else {
					os.Setenv("LOG_LEVEL", "info")
				}
			}

			return logger.WithStdlib(ctx, logger.New()), nil
		},

		Flags: globalFlags,
		Commands: []*cli.Command{
			start.Command(),
			functions.Command(),
			version.Command(),
		},
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		// Always use JSON when not in a terminal
		os.Setenv("LOG_HANDLER", "json")
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, lfcli.RenderError(err.Error()))
		if code := syscode.CodeOf(err); code != syscode.CodeUnknown {
			fmt.Fprintln(os.Stderr, lfcli.FeintStyle.Render("code: "+code))
		}
		os.Exit(1)
	}
}
