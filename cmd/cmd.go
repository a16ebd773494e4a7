package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/config"
)

const (
	ServiceName      = "mediaproxy"
	ServiceNamespace = "media-communications-mesh"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run is the process entrypoint: a urfave/cli app with a `server`
// command (run the proxy) and a `stats` command (the terminal
// dashboard, §4.11).
func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "SMPTE ST 2110 / RDMA media proxy control plane",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			statsCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the media proxy control plane",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dev", Usage: "PCI BDF of the NIC device"},
			&cli.StringFlag{Name: "ip", Usage: "local interface IP"},
			&cli.IntFlag{Name: "grpc", Usage: "gRPC control-plane port"},
			&cli.IntFlag{Name: "tcp", Usage: "TCP control-plane port"},
			&cli.StringFlag{Name: "config_file", Usage: "path to a YAML/JSON config file"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(flagArgs(c))
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			slog.Info("SHUTTING_DOWN")
			return app.Stop(context.Background())
		},
	}
}

// flagArgs rebuilds a flag-style argv from the already-parsed cli.Context
// so config.LoadConfig's own pflag.FlagSet sees the same values — the
// two flag parsers (urfave/cli's up front, pflag's inside LoadConfig)
// stay in sync without LoadConfig importing urfave/cli.
func flagArgs(c *cli.Context) []string {
	var args []string
	for _, name := range c.FlagNames() {
		if !c.IsSet(name) {
			continue
		}
		args = append(args, "--"+name, fmt.Sprint(c.Value(name)))
	}
	return args
}
