package server

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"echo-rpc/codec"
	"echo-rpc/message"
	"echo-rpc/metrics"
	"echo-rpc/protocol"
	"echo-rpc/registry"
)

// startServer runs a server on a free loopback port until the test ends.
func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithPollInterval(20 * time.Millisecond)}, opts...)
	svr, err := New("127.0.0.1:0", opts...)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- svr.Run() }()
	require.Eventually(t, func() bool { return svr.State() == StateRunning }, time.Second, time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, svr.Shutdown(ctx))
		assert.NoError(t, <-runErr)
	})
	return svr
}

// testPeer is a bare TCP client speaking the wire protocol directly.
type testPeer struct {
	t      *testing.T
	conn   net.Conn
	codec  codec.Codec
	framer protocol.Framer
	reader protocol.FrameReader
}

func dial(t *testing.T, svr *Server, framer protocol.Framer) *testPeer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", svr.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testPeer{t: t, conn: conn, codec: codec.ProtoCodec{}, framer: framer, reader: framer.NewReader(conn)}
}

func (p *testPeer) send(req *message.Request) {
	p.t.Helper()
	data, err := p.codec.EncodeRequest(req)
	require.NoError(p.t, err)
	require.NoError(p.t, p.framer.WriteFrame(p.conn, data))
}

func (p *testPeer) sendRaw(data []byte) {
	p.t.Helper()
	_, err := p.conn.Write(data)
	require.NoError(p.t, err)
}

func (p *testPeer) receive(timeout time.Duration) (*message.Response, error) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(timeout)))
	frame, err := p.reader.ReadFrame()
	if err != nil {
		return nil, err
	}
	return p.codec.DecodeResponse(frame)
}

func (p *testPeer) call(req *message.Request) *message.Response {
	p.t.Helper()
	p.send(req)
	resp, err := p.receive(2 * time.Second)
	require.NoError(p.t, err)
	return resp
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, message.Echo{Content: "hi"}, Dispatch(ctx, message.NewEcho("hi")).Payload)
	assert.Equal(t, message.AddResponse{Result: 30}, Dispatch(ctx, message.NewAdd(10, 20)).Payload)
	assert.Equal(t, message.AddResponse{Result: math.MinInt32}, Dispatch(ctx, message.NewAdd(math.MaxInt32, 1)).Payload)
	assert.Nil(t, Dispatch(ctx, &message.Request{}))
}

func TestBindError(t *testing.T) {
	first, err := New("127.0.0.1:0")
	require.NoError(t, err)
	defer first.Stop()

	_, err = New(first.Addr().String())
	assert.ErrorIs(t, err, ErrBind)

	_, err = New("not-an-address")
	assert.ErrorIs(t, err, ErrBind)
}

func TestStateTransitions(t *testing.T) {
	svr, err := New("127.0.0.1:0")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, svr.State())

	runErr := make(chan error, 1)
	go func() { runErr <- svr.Run() }()
	require.Eventually(t, func() bool { return svr.State() == StateRunning }, time.Second, time.Millisecond)

	svr.Stop()
	svr.Stop()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, StateStopped, svr.State())
	assert.ErrorIs(t, svr.Run(), ErrServerState)
}

func TestStopBeforeRun(t *testing.T) {
	svr, err := New("127.0.0.1:0")
	require.NoError(t, err)
	addr := svr.Addr().String()

	svr.Stop()
	assert.Equal(t, StateStopped, svr.State())
	assert.ErrorIs(t, svr.Run(), ErrServerState)
	require.NoError(t, svr.Shutdown(context.Background()))

	// The port is free again.
	again, err := New(addr)
	require.NoError(t, err)
	again.Stop()
}

func TestEchoAndAdd(t *testing.T) {
	svr := startServer(t)
	peer := dial(t, svr, protocol.NewRaw(protocol.ClientBufferSize))

	assert.Equal(t, message.Echo{Content: "Hello, World!"}, peer.call(message.NewEcho("Hello, World!")).Payload)
	assert.Equal(t, message.Echo{Content: ""}, peer.call(message.NewEcho("")).Payload)
	assert.Equal(t, message.AddResponse{Result: 30}, peer.call(message.NewAdd(10, 20)).Payload)
	assert.Equal(t, message.AddResponse{Result: math.MinInt32}, peer.call(message.NewAdd(math.MaxInt32, 1)).Payload)
	assert.Equal(t, message.AddResponse{Result: -2}, peer.call(message.NewAdd(math.MaxInt32, math.MaxInt32)).Payload)
}

func TestJSONCodecServer(t *testing.T) {
	svr := startServer(t, WithCodec(codec.JSONCodec{}))
	peer := dial(t, svr, protocol.NewRaw(0))
	peer.codec = codec.JSONCodec{}

	assert.Equal(t, message.AddResponse{Result: 3}, peer.call(message.NewAdd(1, 2)).Payload)
}

func TestMalformedBytesKeepConnection(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := metrics.New()
	svr := startServer(t, WithLogger(zap.New(core)), WithMetrics(m))
	peer := dial(t, svr, protocol.NewRaw(0))

	peer.sendRaw([]byte{0xff, 0xff, 0xff})

	_, err := peer.receive(150 * time.Millisecond)
	require.Error(t, err, "malformed bytes must not get a response")
	require.Eventually(t, func() bool {
		return logs.FilterMessage("failed to decode message").Len() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, message.Echo{Content: "still here"}, peer.call(message.NewEcho("still here")).Payload)

	expected := `
# HELP echo_rpc_conn_decode_errors_total Frames that did not decode to a request envelope.
# TYPE echo_rpc_conn_decode_errors_total counter
echo_rpc_conn_decode_errors_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "echo_rpc_conn_decode_errors_total"))
}

func TestEmptyEnvelopeGetsNoResponse(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	framer := protocol.NewLengthPrefixed(0)
	svr := startServer(t, WithLogger(zap.New(core)), WithFramer(framer))
	peer := dial(t, svr, framer)

	peer.send(&message.Request{})
	peer.send(message.NewEcho("after empty"))

	// The first response answers the echo: the empty envelope got nothing.
	resp, err := peer.receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, message.Echo{Content: "after empty"}, resp.Payload)
	assert.Equal(t, 1, logs.FilterMessage("request envelope contained no message").Len())

	_, err = peer.receive(100 * time.Millisecond)
	assert.Error(t, err, "no further response expected")
}

func TestRawEmptyEnvelopeKeepsConnection(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := metrics.New()
	svr := startServer(t, WithLogger(zap.New(core)), WithMetrics(m))
	peer := dial(t, svr, protocol.NewRaw(0))

	// Field 3, varint 5: a valid envelope with no variant set.
	peer.sendRaw([]byte{0x18, 0x05})

	require.Eventually(t, func() bool {
		return logs.FilterMessage("request envelope contained no message").Len() == 1
	}, time.Second, 5*time.Millisecond)
	_, err := peer.receive(100 * time.Millisecond)
	require.Error(t, err, "an empty envelope must not get a response")

	assert.Equal(t, message.Echo{Content: "after empty"}, peer.call(message.NewEcho("after empty")).Payload)

	expected := `
# HELP echo_rpc_conn_empty_envelopes_total Request envelopes without a payload.
# TYPE echo_rpc_conn_empty_envelopes_total counter
echo_rpc_conn_empty_envelopes_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "echo_rpc_conn_empty_envelopes_total"))
}

func TestLengthPrefixedPipelining(t *testing.T) {
	framer := protocol.NewLengthPrefixed(0)
	svr := startServer(t, WithFramer(framer))
	peer := dial(t, svr, framer)

	// Several requests in flight on one write; framing keeps them apart.
	for i := int32(0); i < 5; i++ {
		peer.send(message.NewAdd(i, i))
	}
	for i := int32(0); i < 5; i++ {
		resp, err := peer.receive(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, message.AddResponse{Result: 2 * i}, resp.Payload)
	}
}

func TestStopRefusesNewConnections(t *testing.T) {
	svr, err := New("127.0.0.1:0", WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	go svr.Run()
	require.Eventually(t, func() bool { return svr.State() == StateRunning }, time.Second, time.Millisecond)

	peer := dial(t, svr, protocol.NewRaw(0))
	assert.Equal(t, message.Echo{Content: "before stop"}, peer.call(message.NewEcho("before stop")).Payload)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svr.Shutdown(ctx), "idle handlers must notice Stop")

	_, err = net.DialTimeout("tcp", svr.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)

	// The idle connection was closed by its handler.
	_, err = peer.receive(time.Second)
	assert.Error(t, err)
}

func TestShutdownWhileClientIsBusy(t *testing.T) {
	svr, err := New("127.0.0.1:0", WithPollInterval(100*time.Millisecond))
	require.NoError(t, err)
	go svr.Run()
	require.Eventually(t, func() bool { return svr.State() == StateRunning }, time.Second, time.Millisecond)

	peer := dial(t, svr, protocol.NewRaw(0))
	stopSending := make(chan struct{})
	sending := make(chan struct{})
	go func() {
		defer close(sending)
		for i := 0; ; i++ {
			select {
			case <-stopSending:
				return
			default:
			}
			if _, err := peer.conn.Write(mustEncode(t, message.NewEcho(fmt.Sprintf("busy %d", i)))); err != nil {
				return
			}
			buf := make([]byte, protocol.ClientBufferSize)
			if _, err := peer.conn.Read(buf); err != nil {
				return
			}
			time.Sleep(30 * time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		close(stopSending)
		<-sending
	})

	// Let the client settle into a request every 30ms, well inside one poll.
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, svr.Shutdown(ctx), "a busy handler must still notice Stop")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func mustEncode(t *testing.T, req *message.Request) []byte {
	t.Helper()
	data, err := codec.ProtoCodec{}.EncodeRequest(req)
	require.NoError(t, err)
	return data
}

func TestMaxConnectionsBuildsPoolAfterBind(t *testing.T) {
	o := defaultOptions()
	WithMaxConnections(2)(&o)
	_, isPool := o.workers.(*BoundedPool)
	assert.False(t, isPool, "no workers may start before the listener is bound")

	first, err := New("127.0.0.1:0")
	require.NoError(t, err)
	defer first.Stop()
	_, err = New(first.Addr().String(), WithMaxConnections(2))
	require.ErrorIs(t, err, ErrBind)

	svr, err := New("127.0.0.1:0", WithMaxConnections(2))
	require.NoError(t, err)
	pool, ok := svr.opts.workers.(*BoundedPool)
	require.True(t, ok)

	// Stopping a server that never ran releases its workers.
	svr.Stop()
	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool workers still running after Stop")
	}
}

func TestMaxConnectionsQueuesExtraClients(t *testing.T) {
	svr := startServer(t, WithMaxConnections(1))

	first := dial(t, svr, protocol.NewRaw(0))
	assert.Equal(t, message.Echo{Content: "first"}, first.call(message.NewEcho("first")).Payload)

	second := dial(t, svr, protocol.NewRaw(0))
	second.send(message.NewEcho("second"))
	_, err := second.receive(200 * time.Millisecond)
	require.Error(t, err, "second client must wait for a free worker")

	require.NoError(t, first.conn.Close())

	resp, err := second.receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, message.Echo{Content: "second"}, resp.Payload)
}

func TestRegistersWhileRunning(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr, err := New("127.0.0.1:0", WithRegistry(reg, "Echo", "", 10))
	require.NoError(t, err)
	go svr.Run()

	require.Eventually(t, func() bool {
		insts, _ := reg.Discover(context.Background(), "Echo")
		return len(insts) == 1 && insts[0].Addr == svr.Addr().String()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svr.Shutdown(context.Background()))
	insts, err := reg.Discover(context.Background(), "Echo")
	require.NoError(t, err)
	assert.Empty(t, insts)
}
