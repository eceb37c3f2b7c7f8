// Command echoctl sends one request to an echod server and prints the reply.
//
//	echoctl [flags] echo <text>
//	echoctl [flags] add <a> <b>
//	echoctl -registry <endpoints> [flags] instances
//	echoctl -registry <endpoints> [flags] watch
//
// With -registry the server is found through etcd and chosen by -balancer
// instead of -host/-port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"echo-rpc/client"
	"echo-rpc/codec"
	"echo-rpc/loadbalance"
	"echo-rpc/logging"
	"echo-rpc/message"
	"echo-rpc/protocol"
	"echo-rpc/registry"
)

var errUsage = errors.New("usage")

// openRegistryFunc connects to the registry named by endpoints. The closer
// releases it.
type openRegistryFunc func(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (registry.Registry, io.Closer, error)

func openEtcd(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (registry.Registry, io.Closer, error) {
	reg, err := registry.NewEtcdRegistry(endpoints, dialTimeout, logger)
	if err != nil {
		return nil, nil, err
	}
	return reg, reg, nil
}

type app struct {
	stdout       io.Writer
	stderr       io.Writer
	openRegistry openRegistryFunc
}

type flags struct {
	host        string
	port        int
	timeout     time.Duration
	readTimeout time.Duration
	codec       string
	framing     string
	logLevel    string

	registry    string
	service     string
	balancer    string
	key         string
	dialTimeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: os.Stdout, stderr: os.Stderr, openRegistry: openEtcd}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "echoctl: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("echoctl", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	var f flags
	fs.StringVar(&f.host, "host", "localhost", "server host")
	fs.IntVar(&f.port, "port", 7878, "server port")
	fs.DurationVar(&f.timeout, "timeout", time.Second, "connect timeout")
	fs.DurationVar(&f.readTimeout, "read-timeout", 5*time.Second, "response timeout, 0 waits forever")
	fs.StringVar(&f.codec, "codec", "proto", "wire codec: proto | json")
	fs.StringVar(&f.framing, "framing", "raw", "framing: raw | length-prefixed")
	fs.StringVar(&f.logLevel, "log-level", "off", "log level: debug | info | warn | error | off")
	fs.StringVar(&f.registry, "registry", "", "comma-separated etcd endpoints; discovers the server instead of -host/-port")
	fs.StringVar(&f.service, "service", "Echo", "service name in the registry")
	fs.StringVar(&f.balancer, "balancer", "round-robin", "balancer: round-robin | weighted-random | consistent-hash")
	fs.StringVar(&f.key, "key", "", "routing key for consistent-hash")
	fs.DurationVar(&f.dialTimeout, "registry-timeout", 3*time.Second, "registry dial timeout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: echoctl [flags] echo <text> | add <a> <b> | instances | watch\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	logger, err := logging.New(logging.Config{Level: f.logLevel, Format: "console"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errUsage
	}
	switch rest[0] {
	case "instances", "watch":
		reg, closer, err := a.registryFor(f, logger)
		if err != nil {
			return err
		}
		defer closer.Close()
		if rest[0] == "instances" {
			return a.listInstances(ctx, reg, f.service)
		}
		return a.watch(ctx, reg, f.service)
	}

	req, err := parseRequest(rest)
	if err != nil {
		fmt.Fprintf(a.stderr, "echoctl: %v\n", err)
		fs.Usage()
		return errUsage
	}
	c, closeReg, err := a.connect(ctx, f, logger)
	if err != nil {
		return err
	}
	defer closeReg()
	defer c.Disconnect()

	resp, err := c.Call(req)
	if err != nil {
		logger.Debug("call failed", zap.Error(err))
		return err
	}
	switch p := resp.Payload.(type) {
	case message.Echo:
		fmt.Fprintln(a.stdout, p.Content)
	case message.AddResponse:
		fmt.Fprintln(a.stdout, p.Result)
	default:
		return fmt.Errorf("unexpected response %s", resp)
	}
	return nil
}

// connect dials -host/-port, or a registry instance when -registry is set.
func (a *app) connect(ctx context.Context, f flags, logger *zap.Logger) (*client.Client, func(), error) {
	ct, err := codec.ParseType(f.codec)
	if err != nil {
		return nil, nil, err
	}
	framer, err := protocol.Parse(f.framing, protocol.ClientBufferSize, 0)
	if err != nil {
		return nil, nil, err
	}
	opts := []client.Option{
		client.WithCodec(codec.Get(ct)),
		client.WithFramer(framer),
		client.WithLogger(logger),
		client.WithReadTimeout(f.readTimeout),
	}

	if f.registry == "" {
		c := client.New(f.host, f.port, f.timeout, opts...)
		if err := c.Connect(); err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}

	b, err := loadbalance.Parse(f.balancer, f.key)
	if err != nil {
		return nil, nil, err
	}
	reg, closer, err := a.registryFor(f, logger)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.Dial(ctx, reg, b, f.service, f.timeout, opts...)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	logger.Debug("picked instance", zap.String("balancer", b.Name()), zap.String("addr", c.Addr()))
	return c, func() { closer.Close() }, nil
}

func (a *app) registryFor(f flags, logger *zap.Logger) (registry.Registry, io.Closer, error) {
	if f.registry == "" {
		return nil, nil, fmt.Errorf("-registry is required")
	}
	var endpoints []string
	for _, ep := range strings.Split(f.registry, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	return a.openRegistry(endpoints, f.dialTimeout, logger)
}

func (a *app) listInstances(ctx context.Context, reg registry.Registry, service string) error {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return err
	}
	a.printInstances(instances)
	return nil
}

// watch prints the current instances, then every change until ctx is done.
func (a *app) watch(ctx context.Context, reg registry.Registry, service string) error {
	updates := reg.Watch(ctx, service)
	if err := a.listInstances(ctx, reg, service); err != nil {
		return err
	}
	for instances := range updates {
		fmt.Fprintln(a.stdout, "--")
		a.printInstances(instances)
	}
	return nil
}

func (a *app) printInstances(instances []registry.ServiceInstance) {
	for _, inst := range instances {
		fmt.Fprintf(a.stdout, "%s weight=%d version=%q\n", inst.Addr, inst.Weight, inst.Version)
	}
}

func parseRequest(args []string) (*message.Request, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing command")
	}
	switch args[0] {
	case "echo":
		return message.NewEcho(strings.Join(args[1:], " ")), nil
	case "add":
		if len(args) != 3 {
			return nil, fmt.Errorf("add takes exactly two integers")
		}
		a, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("add: %w", err)
		}
		b, err := strconv.ParseInt(args[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("add: %w", err)
		}
		return message.NewAdd(int32(a), int32(b)), nil
	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}
