package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/livefn/livefn/pkg/bootstrap"
	"github.com/livefn/livefn/pkg/bridge"
	"github.com/livefn/livefn/pkg/handler"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/metrics"
	"github.com/livefn/livefn/pkg/pipeline"
	"github.com/livefn/livefn/pkg/runtime"
	"github.com/livefn/livefn/pkg/syscode"
	"github.com/livefn/livefn/pkg/util"
	"github.com/livefn/livefn/pkg/util/broadcast"
	"github.com/livefn/livefn/pkg/watcher"
	"golang.org/x/sync/errgroup"
)

// Session is a single live debug session. It implements service.Service.
type Session struct {
	opts Options
	log  logger.Logger

	debug    bootstrap.Outputs
	handlers *handler.Registry
	output   broadcast.Topic[runtime.Output]
	runtime  *runtime.Server
	socket   *bridge.Socket
	datagram *bridge.Datagram
	watcher  *watcher.Watcher
	pipeline *pipeline.Pipeline
	listener net.Listener
	router   chi.Router

	shimsDir  string
	tempShims bool

	// ctx scopes the components started in Pre. It is cancelled once Run
	// returns.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Session {
	opts.defaults()
	return &Session{
		opts: opts,
		log:  opts.Logger,
	}
}

func (s *Session) Name() string {
	return "devserver"
}

// StartTimeout covers the debug stack and app deploys.
func (s *Session) StartTimeout() time.Duration {
	return 30 * time.Minute
}

// Addr returns the runtime API address once Pre succeeded.
func (s *Session) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Pre deploys the debug stack and the app, then binds the local ports. Any
// failure aborts the session.
func (s *Session) Pre(ctx context.Context) (err error) {
	s.ctx, s.cancel = context.WithCancel(logger.WithStdlib(context.WithoutCancel(ctx), s.log))
	defer func() {
		if err != nil {
			_ = s.Stop(ctx)
		}
	}()
	ctx = logger.WithStdlib(ctx, s.log)

	if err := s.bootstrap(ctx); err != nil {
		return err
	}

	if s.opts.UDP {
		s.datagram, err = bridge.NewDatagram(bridge.DatagramOpts{
			Addr:   s.opts.UDPAddr,
			Blobs:  s.opts.Blobs,
			Clock:  s.opts.Clock,
			Logger: s.log.With("caller", "datagram"),
		})
		if err != nil {
			return err
		}
		ep, err := s.datagram.Start(s.ctx)
		if err != nil {
			return err
		}
		s.log.Info("using UDP connection", "addr", ep.Addr)
	}

	if s.opts.AppToolkit != nil {
		_, sums, err := bootstrap.DeployApp(ctx, s.opts.AppToolkit, s.opts.SkipDeploy)
		if err != nil {
			return err
		}
		s.pipeline = pipeline.New(pipeline.Opts{
			Builder:     s.opts.AppToolkit,
			Synthesizer: s.opts.AppToolkit,
			Deployer:    s.opts.AppToolkit,
			Checksums:   sums,
			AutoDeploy:  s.opts.AutoDeploy,
			Logger:      s.log.With("caller", "pipeline"),
			Metrics:     s.opts.Metrics,
		})
		s.pipeline.OnTransition(s.onTransition)
	}

	if err := s.opts.Functions.Reload(); err != nil {
		return syscode.Wrap(syscode.CodeConfigInvalid, err)
	}

	if err := s.setupRuntime(); err != nil {
		return err
	}
	if err := s.listen(); err != nil {
		return err
	}

	if s.debug.Endpoint != "" {
		s.socket = bridge.NewSocket(bridge.SocketOpts{
			URL:    s.debug.Endpoint,
			Blobs:  s.opts.Blobs,
			Logger: s.log.With("caller", "socket"),
			Now:    s.opts.Clock.Now,
		})
		s.socket.OnRequest(s.handleRequest)
		if s.datagram != nil {
			s.socket.OnRegister(s.addPeer)
		}
	}
	if s.datagram != nil {
		s.datagram.OnRequest(s.handleRequest)
	}

	s.watcher, err = watcher.New(watcher.Opts{
		Root:     s.opts.AppDir,
		Debounce: s.opts.Debounce,
		Logger:   s.log.With("caller", "watcher"),
	})
	if err != nil {
		return err
	}
	s.watcher.OnChange(func(paths []string) {
		// draining waits for in-flight invocations
		go s.drainChanged(paths)
	})
	if s.pipeline != nil {
		s.watcher.OnChange(s.infraChanged)
	}
	return s.watcher.Start()
}

// bootstrap resolves the debug stack outputs, deploying the stack unless
// an endpoint was given.
func (s *Session) bootstrap(ctx context.Context) error {
	if s.opts.Endpoint != "" {
		s.debug = bootstrap.Outputs{Endpoint: s.opts.Endpoint, BucketName: s.opts.BucketName}
	} else if s.opts.DebugToolkit != nil {
		out, err := bootstrap.DeployDebugStack(ctx, s.opts.DebugToolkit, bootstrap.StackName(s.opts.Stage, s.opts.Name))
		if err != nil {
			return err
		}
		s.debug = out
	}

	if s.opts.Blobs == nil && s.debug.BucketName != "" {
		store, err := bridge.NewS3Store(ctx, s.debug.BucketName, s.opts.Region)
		if err != nil {
			s.log.Warn("large payloads will not be offloaded", "error", err)
			return nil
		}
		s.opts.Blobs = store
	}
	return nil
}

func (s *Session) setupRuntime() error {
	s.handlers = s.opts.Handlers
	if s.handlers == nil {
		s.shimsDir = s.opts.ShimsDir
		if s.shimsDir == "" {
			dir, err := os.MkdirTemp("", "livefn-shims-")
			if err != nil {
				return fmt.Errorf("error creating shims directory: %w", err)
			}
			s.shimsDir, s.tempShims = dir, true
		}
		if _, err := handler.WriteShims(s.shimsDir); err != nil {
			return err
		}
		s.handlers = handler.NewDefaultRegistry(s.shimsDir)
	}

	starter := s.opts.Starter
	if starter == nil {
		starter = runtime.ExecStarter{Output: &s.output}
	}
	s.output.Subscribe(s.logOutput)

	s.runtime = runtime.New(runtime.Opts{
		Handlers: s.handlers,
		Starter:  starter,
		Clock:    s.opts.Clock,
		Logger:   s.log.With("caller", "runtime"),
		Metrics:  s.opts.Metrics,
	})
	return nil
}

// listen binds the runtime API on the first free port and mounts the
// metrics endpoint next to it.
func (s *Session) listen() error {
	port, err := util.FreePort(s.opts.Host, s.opts.Port)
	if err != nil {
		return syscode.Wrap(syscode.CodePortUnavailable, err)
	}
	l, err := net.Listen("tcp", net.JoinHostPort(s.opts.Host, strconv.Itoa(port)))
	if err != nil {
		return syscode.Wrap(syscode.CodePortUnavailable, fmt.Errorf("could not bind runtime api: %w", err))
	}
	s.listener = l

	opts := metrics.Opts{Metrics: s.opts.Metrics}
	if s.datagram != nil {
		opts.Peers = s.datagram
	}
	r := chi.NewRouter()
	r.Mount("/metrics", metrics.NewMetricsAPI(opts).Router)
	r.Mount("/", s.runtime.Handler())
	s.router = r
	return nil
}

func (s *Session) Run(ctx context.Context) error {
	ctx = logger.WithStdlib(ctx, s.log)
	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	s.log.Notice("live debug session ready", "runtime_api", s.Addr(), "functions", len(s.opts.Functions.All()))

	g.Go(func() error {
		return s.runtime.Serve(ctx, s.listener, s.router)
	})
	if s.socket != nil {
		g.Go(func() error {
			if _, err := s.socket.Start(ctx); err != nil {
				return err
			}
			err := s.socket.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	if s.datagram != nil {
		g.Go(func() error {
			err := s.datagram.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		return s.watcher.Run(ctx)
	})
	if s.pipeline != nil {
		g.Go(func() error {
			return s.pipeline.Run(ctx)
		})
		g.Go(func() error {
			s.readEnter(ctx)
			return nil
		})
	}

	return g.Wait()
}

// Stop releases everything acquired in Pre. It is safe to call after a
// partial Pre.
func (s *Session) Stop(ctx context.Context) error {
	var err error
	if s.cancel != nil {
		s.cancel()
	}
	if s.socket != nil {
		if e := s.socket.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}
	if s.datagram != nil {
		if e := s.datagram.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}
	if s.runtime != nil {
		if e := s.runtime.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}
	if s.listener != nil {
		if e := s.listener.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
			err = multierror.Append(err, e)
		}
	}
	if e := s.closeStdin(); e != nil {
		err = multierror.Append(err, e)
	}
	if s.tempShims {
		if e := os.RemoveAll(s.shimsDir); e != nil {
			err = multierror.Append(err, e)
		}
	}
	return err
}
