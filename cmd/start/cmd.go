package start

import (
	"github.com/livefn/livefn/pkg/devserver"
	"github.com/livefn/livefn/pkg/watcher"
	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	cmd := &cli.Command{
		Name:        "start",
		Usage:       "Start a live debug session for the app's functions.",
		UsageText:   "livefn start [options]",
		Description: "Example: livefn start --stage dev --udp",
		Action:      action,

		Flags: []cli.Flag{
			// Base flags
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a livefn configuration file",
			},
			&cli.StringFlag{
				Name:  "app-dir",
				Value: ".",
				Usage: "Root directory of the app",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "App name, used to name the debug stack",
			},
			&cli.StringFlag{
				Name:  "stage",
				Value: "dev",
				Usage: "Stage to deploy to",
			},
			&cli.StringFlag{
				Name:    "region",
				Sources: cli.EnvVars("AWS_REGION"),
				Usage:   "AWS region of the stage",
			},
			&cli.StringFlag{
				Name:  "main",
				Value: devserver.DefaultMain,
				Usage: "Stacks entrypoint relative to the app directory. Changes in its directory rebuild the stacks.",
			},

			// Toolkit flags
			&cli.StringFlag{
				Name:  "cdk-command",
				Value: "npx cdk",
				Usage: "Command used to run the infrastructure toolkit",
			},
			&cli.StringFlag{
				Name:  "build-command",
				Usage: "Command that compiles the app before synth, eg. \"npm run build\"",
			},

			// Debug stack flags
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Connect to an existing debug stack endpoint instead of deploying one",
			},
			&cli.StringFlag{
				Name:  "bucket-name",
				Usage: "Bucket for large payloads when --endpoint is used",
			},
			&cli.StringFlag{
				Name:  "debug-app",
				Usage: "Toolkit --app command that synthesizes the debug stack",
			},
			&cli.StringFlag{
				Name:  "debug-dir",
				Usage: "Working directory of the debug stack app. Defaults to the app directory.",
			},

			// Session flags
			&cli.StringFlag{
				Name:  "host",
				Value: devserver.DefaultHost,
				Usage: "Host the local runtime API listens on",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   devserver.DefaultPort,
				Usage:   "First port tried for the local runtime API",
			},
			&cli.BoolFlag{
				Name:  "udp",
				Usage: "Receive invocations over UDP in addition to the websocket",
			},
			&cli.StringFlag{
				Name:  "udp-addr",
				Value: "0.0.0.0:0",
				Usage: "Address the UDP socket binds",
			},
			&cli.BoolFlag{
				Name:  "console",
				Usage: "Log function output at trace level",
			},
			&cli.BoolFlag{
				Name:  "auto-deploy",
				Usage: "Deploy stack changes without waiting for ENTER",
			},
			&cli.BoolFlag{
				Name:  "skip-deploy",
				Usage: "Synthesize the app on startup without deploying it",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Value: watcher.DefaultDebounce,
				Usage: "How long file changes settle before they are handled",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write JSON logs at trace level to this file",
			},
		},
	}

	return cmd
}
