package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/config"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/controlplane"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/event"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/obslog"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/session"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/infra/debughttp"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/infra/discovery"
	grpcserver "github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/infra/server/grpc"
	tcpserver "github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/infra/server/tcp"
)

// ProvideLogger builds the process-wide *slog.Logger from cfg (§10).
func ProvideLogger(cfg *config.Config) *slog.Logger {
	return obslog.New(cfg.LogLevel, cfg.LogFilePath)
}

// ProvideEventBroker wires the optional AMQP exporter in front of the
// broker (§4.7/§11); a broker with no AMQP URI configured just skips
// the export hook.
func ProvideEventBroker(cfg *config.Config, logger *slog.Logger) (*event.Broker, error) {
	var exporter event.Exporter
	if cfg.AMQPURI != "" {
		exp, err := event.NewAMQPExporter(cfg.AMQPURI, "mediaproxy.events", logger)
		if err != nil {
			return nil, fmt.Errorf("cmd: new amqp exporter: %w", err)
		}
		exporter = exp
	}
	return event.New(logger, exporter), nil
}

// ProvideSessionRegistry constructs the process-wide session table
// (§4.8). stPipeline/ringOpen are nil here — the in-process fakes each
// package ships stand in until real CGo bindings are wired in (see
// DESIGN.md).
func ProvideSessionRegistry(logger *slog.Logger, broker *event.Broker) *session.Registry {
	return session.New(logger, broker, nil, nil)
}

// ProvideDispatcher adapts the session registry onto the control
// plane's five-verb Dispatcher (§6.1).
func ProvideDispatcher(reg *session.Registry) controlplane.Dispatcher {
	return controlplane.Service{Registry: reg}
}

// ProvideDiscovery dials Consul (or builds a no-op registry when
// ConsulAddr is empty).
func ProvideDiscovery(cfg *config.Config, logger *slog.Logger) (*discovery.Registry, error) {
	return discovery.New(cfg.ConsulAddr, logger)
}

var Module = fx.Module("mediaproxy",
	fx.Provide(
		ProvideLogger,
		ProvideEventBroker,
		ProvideSessionRegistry,
		ProvideDispatcher,
		ProvideDiscovery,
	),

	fx.Invoke(registerServers),
	fx.Invoke(registerDiscovery),
	fx.Invoke(registerDebugHTTP),
)

// registerServers starts the gRPC and TCP control planes on fx's
// lifecycle (OnStart dials the listener and serves in a goroutine,
// OnStop cancels the per-server context so Serve's select returns).
func registerServers(lc fx.Lifecycle, cfg *config.Config, d controlplane.Dispatcher, logger *slog.Logger) {
	grpcSrv := grpcserver.New(d, logger)
	tcpSrv := tcpserver.New(d, logger)

	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			grpcLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.IP, cfg.GRPC))
			if err != nil {
				return fmt.Errorf("cmd: listen grpc: %w", err)
			}
			tcpLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.IP, cfg.TCP))
			if err != nil {
				grpcLis.Close()
				return fmt.Errorf("cmd: listen tcp: %w", err)
			}

			go func() {
				if err := grpcSrv.Serve(ctx, grpcLis); err != nil {
					logger.Error("grpc control plane stopped", "error", err)
				}
			}()
			go func() {
				if err := tcpSrv.Serve(ctx, tcpLis); err != nil {
					logger.Error("tcp control plane stopped", "error", err)
				}
			}()
			logger.Info("CONTROL_PLANE_LISTENING", "grpc_addr", grpcLis.Addr().String(), "tcp_addr", tcpLis.Addr().String())
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func registerDiscovery(lc fx.Lifecycle, cfg *config.Config, reg *discovery.Registry) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return reg.Register(discovery.Registration{
				ServiceID:   cfg.ServiceRegisterID,
				ServiceName: ServiceName,
				Address:     cfg.IP,
				GRPCPort:    cfg.GRPC,
				TCPPort:     cfg.TCP,
			})
		},
		OnStop: func(context.Context) error {
			return reg.Deregister(cfg.ServiceRegisterID)
		},
	})
}

func registerDebugHTTP(lc fx.Lifecycle, cfg *config.Config, reg *session.Registry, broker *event.Broker, logger *slog.Logger) {
	srv := debughttp.New(logger, reg, broker)
	httpSrv := &http.Server{Addr: cfg.DebugHTTPAddr, Handler: srv.Router}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.DebugHTTPAddr)
			if err != nil {
				return fmt.Errorf("cmd: listen debug http: %w", err)
			}
			go func() {
				if err := httpSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
					logger.Error("debug http server stopped", "error", err)
				}
			}()
			logger.Info("DEBUG_HTTP_LISTENING", "addr", cfg.DebugHTTPAddr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpSrv.Shutdown(ctx)
		},
	})
}

// NewApp builds the fx.App wiring every component named in §10/§11's
// domain and ambient stacks for the `server` command.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(func() *config.Config { return cfg }),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger}
		}),
		Module,
	)
}
