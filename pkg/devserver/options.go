// Package devserver runs a live debug session: it bootstraps the debug
// stack, relays invocations from the stub to local processes and rebuilds
// the app as its source changes.
package devserver

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/livefn/livefn/pkg/bootstrap"
	"github.com/livefn/livefn/pkg/bridge"
	"github.com/livefn/livefn/pkg/function"
	"github.com/livefn/livefn/pkg/handler"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/metrics"
	"github.com/livefn/livefn/pkg/pipeline"
	"github.com/livefn/livefn/pkg/runtime"
)

const (
	DefaultPort = 12557
	DefaultHost = "127.0.0.1"
	DefaultMain = "stacks/index.ts"
)

// AppToolkit builds, synthesizes and deploys the app's stacks.
type AppToolkit interface {
	pipeline.Builder
	pipeline.Synthesizer
	pipeline.Deployer
}

// Options is everything a session needs. Collaborators left nil are
// created from the remaining fields.
type Options struct {
	// AppDir is the root of the app.
	AppDir string
	Name   string
	Stage  string
	Region string
	// Main is the stacks entrypoint relative to AppDir. Changes in its
	// directory drive the build pipeline.
	Main string

	// Endpoint skips the debug stack deploy and connects to an existing
	// stub.
	Endpoint   string
	BucketName string

	// UDP enables the datagram transport, bound on UDPAddr.
	UDP     bool
	UDPAddr string

	// Host and Port are where the runtime API listens. The first free port
	// from Port is used.
	Host string
	Port int

	// Console logs process output at TRACE instead of INFO.
	Console    bool
	AutoDeploy bool
	// SkipDeploy synthesizes the app on startup without deploying it.
	SkipDeploy bool
	Debounce   time.Duration
	// ShimsDir receives the runtime bootstrap scripts. A temporary
	// directory is used when empty.
	ShimsDir string

	// Stdin is read for deploy-on-enter. Defaults to os.Stdin.
	Stdin io.Reader

	Logger  logger.Logger
	Clock   clockwork.Clock
	Metrics *metrics.Metrics

	DebugToolkit bootstrap.Toolkit
	AppToolkit   AppToolkit
	Functions    *function.Registry
	// Handlers defaults to the built in runtimes.
	Handlers *handler.Registry
	Starter      runtime.Starter
	Blobs        bridge.BlobStore
}

func (o *Options) defaults() {
	if o.AppDir == "" {
		o.AppDir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(o.AppDir); err == nil {
		o.AppDir = abs
	}
	if o.Main == "" {
		o.Main = DefaultMain
	}
	if o.UDPAddr == "" {
		o.UDPAddr = "0.0.0.0:0"
	}
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Logger == nil {
		o.Logger = logger.VoidLogger()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Functions == nil {
		o.Functions = function.NewRegistry(o.AppDir)
	}
}

// InfraDir returns the absolute directory holding the stack definitions.
func (o Options) InfraDir() string {
	return filepath.Dir(filepath.Join(o.AppDir, o.Main))
}
