package start

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/livefn/livefn/cmd/internal/envflags"
	"github.com/livefn/livefn/cmd/internal/localconfig"
	"github.com/livefn/livefn/pkg/cdk"
	"github.com/livefn/livefn/pkg/devserver"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/service"
	"github.com/livefn/livefn/pkg/syscode"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v3"
)

func action(ctx context.Context, cmd *cli.Command) error {
	conf, err := localconfig.Load(ctx, cmd)
	if err != nil {
		return err
	}

	l := logger.StdlibLogger(ctx)
	if path := envflags.String(cmd, "log-file", conf.LogFile); path != "" {
		f, err := openLogFile(path)
		if err != nil {
			return err
		}
		defer f.Close()
		l = logger.New(logger.WithTee(slog.NewJSONHandler(f, logger.HandlerOptions(logger.LevelTrace))))
	}
	ctx = logger.WithStdlib(ctx, l)

	opts, err := sessionOptions(cmd, conf, l)
	if err != nil {
		return err
	}

	return service.Start(ctx, devserver.New(opts))
}

func openLogFile(path string) (*os.File, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// sessionOptions resolves every setting from flags, config and defaults and
// wires the toolkits for the app and the debug stack.
func sessionOptions(cmd *cli.Command, conf *localconfig.Config, l logger.Logger) (devserver.Options, error) {
	appDir, err := homedir.Expand(envflags.String(cmd, "app-dir", conf.AppDir))
	if err != nil {
		return devserver.Options{}, err
	}
	if appDir, err = filepath.Abs(appDir); err != nil {
		return devserver.Options{}, err
	}

	name := envflags.String(cmd, "name", conf.Name)
	if name == "" {
		name = filepath.Base(appDir)
	}
	stage := envflags.String(cmd, "stage", conf.Stage)
	region := envflags.String(cmd, "region", conf.Region)

	opts := devserver.Options{
		AppDir:     appDir,
		Name:       name,
		Stage:      stage,
		Region:     region,
		Main:       envflags.String(cmd, "main", conf.Main),
		Endpoint:   envflags.String(cmd, "endpoint", conf.Endpoint),
		BucketName: envflags.String(cmd, "bucket-name", conf.BucketName),
		Host:       envflags.String(cmd, "host", conf.Host),
		Port:       envflags.Int(cmd, "port", conf.Port),
		UDP:        envflags.Bool(cmd, "udp", conf.UDP),
		UDPAddr:    envflags.String(cmd, "udp-addr", conf.UDPAddr),
		Console:    envflags.Bool(cmd, "console", conf.Console),
		AutoDeploy: envflags.Bool(cmd, "auto-deploy", conf.AutoDeploy),
		SkipDeploy: envflags.Bool(cmd, "skip-deploy", conf.SkipDeploy),
		Debounce:   envflags.Duration(cmd, "debounce", conf.Debounce.Duration()),
		Logger:     l,
	}

	toolkit := strings.Fields(envflags.String(cmd, "cdk-command", conf.CDKCommand))
	var env []string
	if region != "" {
		env = append(env, "AWS_REGION="+region)
	}

	appContext := map[string]string{"stage": stage}
	for k, v := range conf.Context {
		appContext[k] = v
	}
	opts.AppToolkit = cdk.New(cdk.Opts{
		Dir:          appDir,
		Command:      toolkit,
		BuildCommand: strings.Fields(envflags.String(cmd, "build-command", conf.BuildCommand)),
		Context:      appContext,
		Env:          env,
		Logger:       l.With("caller", "cdk"),
	})

	if opts.Endpoint != "" {
		return opts, nil
	}

	debugApp := envflags.String(cmd, "debug-app", conf.DebugApp)
	if debugApp == "" {
		return devserver.Options{}, syscode.New(syscode.CodeConfigInvalid, "either --endpoint or --debug-app is required")
	}
	debugDir := envflags.String(cmd, "debug-dir", conf.DebugDir)
	if debugDir == "" {
		debugDir = appDir
	}
	opts.DebugToolkit = cdk.New(cdk.Opts{
		Dir:     debugDir,
		Command: toolkit,
		App:     debugApp,
		Output:  filepath.Join(appDir, ".build", "debug-stack.out"),
		Context: map[string]string{
			"name":   name,
			"stage":  stage,
			"region": region,
		},
		Env:    env,
		Logger: l.With("caller", "debug-stack"),
	})
	return opts, nil
}
