package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"echo-rpc/loadbalance"
	"echo-rpc/registry"
)

// Dial looks up service in reg, lets b choose an instance and returns a
// client already connected to it.
func Dial(ctx context.Context, reg registry.Registry, b loadbalance.Balancer, service string, timeout time.Duration, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", service, err)
	}
	inst, err := b.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("client: pick %s (%s): %w", service, b.Name(), err)
	}

	host, port, err := splitHostPort(inst.Addr)
	if err != nil {
		return nil, err
	}
	c := New(host, port, timeout, opts...)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %w", ErrAddressResolution, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: bad port", ErrAddressResolution, addr)
	}
	return host, port, nil
}
