// Package discovery registers the proxy's gRPC/TCP control-plane
// endpoints with Consul on startup and deregisters them on shutdown
// (spec §11 domain stack), replacing the teacher's private
// webitel-go-kit/infra/discovery module — itself a thin wrapper over
// the same public hashicorp/consul/api client this package imports
// directly (see DESIGN.md dropped-deps note).
package discovery

import (
	"fmt"
	"log/slog"

	consulapi "github.com/hashicorp/consul/api"
)

// Registration is the set of control-plane endpoints advertised to
// Consul (spec §6: gRPC and TCP control planes, "identical semantics").
type Registration struct {
	ServiceID   string
	ServiceName string
	Address     string
	GRPCPort    int
	TCPPort     int
}

// Registry wraps the Consul agent API. A Registry built with an empty
// ConsulAddr has no client, which makes Register/Deregister no-ops, so
// discovery is optional in environments without a Consul agent.
type Registry struct {
	client *consulapi.Client
	logger *slog.Logger
}

// New dials the Consul agent at addr. addr == "" returns a Registry
// whose operations are no-ops.
func New(addr string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		return &Registry{logger: logger}, nil
	}
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: new consul client: %w", err)
	}
	return &Registry{client: client, logger: logger}, nil
}

// Register advertises r's control-plane endpoints as one service entry:
// the entry's port and its single TCP health check use the gRPC port,
// and the TCP control-plane port is carried only as a "tcp-port=N" tag.
func (d *Registry) Register(r Registration) error {
	if d.client == nil {
		return nil
	}
	reg := &consulapi.AgentServiceRegistration{
		ID:      r.ServiceID,
		Name:    r.ServiceName,
		Address: r.Address,
		Port:    r.GRPCPort,
		Tags:    []string{fmt.Sprintf("tcp-port=%d", r.TCPPort)},
		Check: &consulapi.AgentServiceCheck{
			TCP:      fmt.Sprintf("%s:%d", r.Address, r.GRPCPort),
			Interval: "10s",
			Timeout:  "2s",
		},
	}
	if err := d.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("discovery: register %s: %w", r.ServiceID, err)
	}
	d.logger.Info("SERVICE_REGISTERED", "service_id", r.ServiceID, "grpc_port", r.GRPCPort, "tcp_port", r.TCPPort)
	return nil
}

// Deregister removes serviceID from Consul. Called on shutdown; the
// session registry's own device/session teardown is unaffected by its
// outcome.
func (d *Registry) Deregister(serviceID string) error {
	if d.client == nil {
		return nil
	}
	if err := d.client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("discovery: deregister %s: %w", serviceID, err)
	}
	d.logger.Info("SERVICE_DEREGISTERED", "service_id", serviceID)
	return nil
}
