// Command osaurus runs the local model gateway and talks to a running one.
//
// Usage:
//
//	osaurus serve [--port 1337] [--expose] [--dev]
//	osaurus restart [--port 8080] [--expose]
//	osaurus stop
//	osaurus status
//	osaurus ui
//	osaurus reload-tools
//	osaurus version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/osaurus-ai/osaurus/pkg/config"
	"github.com/osaurus-ai/osaurus/pkg/control"
	"github.com/osaurus-ai/osaurus/pkg/dev"
	"github.com/osaurus-ai/osaurus/pkg/inference/upstream"
	"github.com/osaurus-ai/osaurus/pkg/logging"
	"github.com/osaurus-ai/osaurus/pkg/metrics"
	"github.com/osaurus-ai/osaurus/pkg/models"
	"github.com/osaurus-ai/osaurus/pkg/server"
	"github.com/osaurus-ai/osaurus/pkg/server/handlers"
	"github.com/osaurus-ai/osaurus/pkg/services"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// CLI defines the command-line surface. Every subcommand except serve talks
// to an already-running gateway over its control socket.
type CLI struct {
	Serve       ServeCmd       `cmd:"" help:"Run the gateway in the foreground."`
	Restart     RestartCmd     `cmd:"" help:"Tell a running gateway to (re)bind its listener."`
	Stop        StopCmd        `cmd:"" help:"Tell a running gateway to stop serving."`
	Status      StatusCmd      `cmd:"" help:"Check the health of a running gateway."`
	UI          UICmd          `cmd:"" help:"Ask the gateway to surface its UI."`
	ReloadTools ReloadToolsCmd `cmd:"" name:"reload-tools" help:"Ask the gateway to rescan installed models."`
	Version     VersionCmd     `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to the JSON config file." type:"path"`
}

// ServeCmd runs the gateway daemon.
type ServeCmd struct {
	Port   int  `help:"Listen port (overrides config)."`
	Expose bool `help:"Listen on all interfaces instead of loopback."`
	Dev    bool `help:"Serve canned responses instead of a real model."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.Expose {
		cfg.ExposeToNetwork = true
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := models.NewRegistry(cfg.ModelsDir, logger.Named("models"))
	if err := registry.Load(); err != nil {
		logger.Warn("initial model scan failed", zap.Error(err))
	}

	local, foundation, err := buildBackends(cfg, logger)
	if err != nil {
		return err
	}
	if c.Dev {
		foundation = dev.Backend()
		logger.Info("dev backend enabled, responses are canned")
	}

	m := metrics.New()
	deps := handlers.Deps{
		Router:   services.NewRouter(registry, local, foundation),
		Settings: cfg,
		Metrics:  m,
		Activity: control.NewActivity(m.ActiveGenerations),
		Logger:   logger,
	}
	srv := server.New(deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("osaurus ready", zap.String("addr", srv.Addr()))

	listener := control.NewListener(cfg.ControlSocket, control.Handlers{
		Serve: func(port *int, expose *bool) {
			go func() {
				if err := srv.Serve(context.Background(), port, expose); err != nil {
					logger.Error("serve command failed", zap.Error(err))
				}
			}()
		},
		Stop: func() {
			go func() {
				if err := srv.Stop(context.Background()); err != nil {
					logger.Error("stop command failed", zap.Error(err))
				}
			}()
		},
		ToolsReload: func() {
			go func() {
				if err := registry.Load(); err != nil {
					logger.Warn("model rescan failed", zap.Error(err))
					return
				}
				logger.Info("models rescanned", zap.Int("count", registry.Len()))
			}()
		},
	}, logger.Named("control"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return registry.Watch(gctx) })
	g.Go(func() error { return listener.Listen(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop(context.Background())
	})
	return g.Wait()
}

// buildBackends wires the upstream runtime when one is configured. The same
// endpoint serves installed models as-is and, with the model override, the
// system-default service.
func buildBackends(cfg *config.Settings, logger *zap.Logger) (local, foundation types.Backend, err error) {
	if cfg.Upstream.BaseURL == "" {
		return nil, nil, nil
	}
	apiKey := ""
	if cfg.Upstream.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.Upstream.APIKeyEnv)
	}
	opts := upstream.Options{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  apiKey,
		Timeout: 5 * time.Minute,
		Logger:  logger.Named("upstream"),
	}
	localClient, err := upstream.New(opts)
	if err != nil {
		return nil, nil, err
	}
	local = localClient
	if cfg.Upstream.Model != "" {
		opts.Model = cfg.Upstream.Model
		foundationClient, err := upstream.New(opts)
		if err != nil {
			return nil, nil, err
		}
		foundation = foundationClient
	}
	return local, foundation, nil
}

// RestartCmd sends a serve command to the control socket.
type RestartCmd struct {
	Port   *int  `help:"New listen port."`
	Expose *bool `negatable:"" help:"Bind all interfaces (--no-expose returns to loopback)."`
}

func (c *RestartCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	cmd := control.Command{Name: control.CmdServe, Port: c.Port, Expose: c.Expose}
	if err := control.Send(cfg.ControlSocket, cmd); err != nil {
		return err
	}
	fmt.Println("serve signal sent")
	return nil
}

// StopCmd asks the gateway to stop serving. The daemon stays alive and can
// be brought back with restart.
type StopCmd struct{}

func (c *StopCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if err := control.Send(cfg.ControlSocket, control.Command{Name: control.CmdStop}); err != nil {
		return err
	}
	fmt.Println("stop signal sent")
	return nil
}

// StatusCmd polls the health endpoint.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
	if err := control.CheckHealth(context.Background(), base); err != nil {
		fmt.Printf("osaurus is not responding on port %d\n", cfg.Port)
		return err
	}
	fmt.Printf("osaurus is healthy on port %d\n", cfg.Port)
	return nil
}

// UICmd asks the gateway to surface its UI, when a frontend is registered.
type UICmd struct{}

func (c *UICmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	return control.Send(cfg.ControlSocket, control.Command{Name: control.CmdUI})
}

// ReloadToolsCmd asks the gateway to rescan its model manifests.
type ReloadToolsCmd struct{}

func (c *ReloadToolsCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if err := control.Send(cfg.ControlSocket, control.Command{Name: control.CmdToolsReload}); err != nil {
		return err
	}
	fmt.Println("reload signal sent")
	return nil
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("osaurus %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("osaurus"),
		kong.Description("Local LLM gateway speaking the OpenAI and Ollama wire protocols."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
