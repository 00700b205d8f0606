package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"tcplink/codec"
	"tcplink/loadbalance"
	"tcplink/message"
	"tcplink/registry"
	"tcplink/server"
	"tcplink/transport"
)

type echoRequest struct {
	Payload string `json:"payload"`
}

func (m *echoRequest) Tag() string { return "echo.request" }

func (m *echoRequest) MarshalBody() ([]byte, error) { return json.Marshal(m) }

type echoResponse struct {
	Payload string `json:"payload"`
}

func (m *echoResponse) Tag() string { return "echo.response" }

func (m *echoResponse) MarshalBody() ([]byte, error) { return json.Marshal(m) }

func echoCodec(t *testing.T) codec.Codec {
	t.Helper()

	reg := message.NewRegistry()
	reg.MustRegister("echo.request", func(payload []byte) (message.Message, error) {
		m := &echoRequest{}
		if err := json.Unmarshal(payload, m); err != nil {
			return nil, err
		}
		return m, nil
	})
	reg.MustRegister("echo.response", func(payload []byte) (message.Message, error) {
		m := &echoResponse{}
		if err := json.Unmarshal(payload, m); err != nil {
			return nil, err
		}
		return m, nil
	})
	return codec.NewTagged(reg)
}

func upperHandler(ctx context.Context, req message.Message) (message.Message, error) {
	r, ok := req.(*echoRequest)
	if !ok {
		return nil, errors.New("unexpected request type")
	}
	return &echoResponse{Payload: strings.ToUpper(r.Payload)}, nil
}

// startEchoServer runs an uppercase-echo server on a random loopback port.
func startEchoServer(t *testing.T, c codec.Codec) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	svr := server.New(c, upperHandler)
	go svr.Serve(ln)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	return ln.Addr().String()
}

func TestExchange(t *testing.T) {
	c := echoCodec(t)
	addr := startEchoServer(t, c)

	cli, err := Dial("tcp", addr, c, WithDialTimeout(time.Second))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer cli.Close()

	resp, err := cli.Exchange(context.Background(), &echoRequest{Payload: "hello"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	got, ok := resp.(*echoResponse)
	if !ok {
		t.Fatalf("expect *echoResponse, got %T", resp)
	}
	if got.Payload != "HELLO" {
		t.Errorf("Payload mismatch: got %q, want %q", got.Payload, "HELLO")
	}

	// A second exchange reuses the same connection.
	resp, err = cli.Exchange(context.Background(), &echoRequest{Payload: "again"})
	if err != nil {
		t.Fatalf("second Exchange failed: %v", err)
	}
	if resp.(*echoResponse).Payload != "AGAIN" {
		t.Errorf("second Payload mismatch: got %q", resp.(*echoResponse).Payload)
	}
}

func TestDialRefused(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	_, err = Dial("tcp", addr, echoCodec(t), WithDialTimeout(2*time.Second))
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expect ErrConnect, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("dial failure took longer than the configured timeout")
	}
}

func TestExchangeAfterClose(t *testing.T) {
	c := echoCodec(t)
	addr := startEchoServer(t, c)

	cli, err := Dial("tcp", addr, c)
	if err != nil {
		t.Fatal(err)
	}

	if err := cli.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := cli.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	_, err = cli.Exchange(context.Background(), &echoRequest{Payload: "x"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestExchangeContextDeadline(t *testing.T) {
	c := echoCodec(t)

	// A server that accepts but never responds.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	cli, err := Dial("tcp", ln.Addr().String(), c)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = cli.Exchange(ctx, &echoRequest{Payload: "x"})
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expect transport.ErrTimeout, got %v", err)
	}
}

func TestDiscoveryClientExchange(t *testing.T) {
	c := echoCodec(t)
	addr := startEchoServer(t, c)

	reg := registry.NewStatic()
	if err := reg.Register("echo", registry.Endpoint{Addr: addr, Weight: 1}, 10); err != nil {
		t.Fatal(err)
	}

	cli := NewDiscoveryClient(reg, &loadbalance.RoundRobin{}, c,
		WithPoolSize(2),
		WithDiscoveryDialTimeout(time.Second))
	defer cli.Close()

	for i, payload := range []string{"one", "two", "three"} {
		resp, err := cli.Exchange(context.Background(), "echo", &echoRequest{Payload: payload})
		if err != nil {
			t.Fatalf("exchange %d failed: %v", i, err)
		}
		want := strings.ToUpper(payload)
		if got := resp.(*echoResponse).Payload; got != want {
			t.Errorf("exchange %d: got %q, want %q", i, got, want)
		}
	}
}

func TestDiscoveryClientConcurrentFailuresDoNotHang(t *testing.T) {
	c := echoCodec(t)

	// An endpoint that accepts and immediately hangs up, so every
	// exchange fails and its connection comes back to the pool closed.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	reg := registry.NewStatic()
	if err := reg.Register("flaky", registry.Endpoint{Addr: ln.Addr().String()}, 10); err != nil {
		t.Fatal(err)
	}

	// Pool size 1 forces the callers to contend for one capacity slot.
	cli := NewDiscoveryClient(reg, &loadbalance.RoundRobin{}, c,
		WithPoolSize(1),
		WithDiscoveryDialTimeout(time.Second))
	defer cli.Close()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				if _, err := cli.Exchange(context.Background(), "flaky", &echoRequest{Payload: "x"}); err == nil {
					t.Error("expect exchange against the failing endpoint to error")
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("exchanges against a failing endpoint blocked in the pool")
	}
}

func TestDiscoveryClientClearsDeadlineForNextBorrower(t *testing.T) {
	c := echoCodec(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	svr := server.New(c, func(ctx context.Context, req message.Message) (message.Message, error) {
		time.Sleep(100 * time.Millisecond)
		return upperHandler(ctx, req)
	})
	go svr.Serve(ln)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	reg := registry.NewStatic()
	if err := reg.Register("slow", registry.Endpoint{Addr: ln.Addr().String()}, 10); err != nil {
		t.Fatal(err)
	}

	// Pool size 1 guarantees the second exchange reuses the first's
	// connection.
	cli := NewDiscoveryClient(reg, &loadbalance.RoundRobin{}, c,
		WithPoolSize(1),
		WithDiscoveryDialTimeout(time.Second))
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := cli.Exchange(ctx, "slow", &echoRequest{Payload: "first"}); err != nil {
		t.Fatalf("deadlined exchange failed: %v", err)
	}

	// Wait out the first deadline. A stale deadline on the pooled
	// connection would fail this exchange immediately.
	time.Sleep(600 * time.Millisecond)

	resp, err := cli.Exchange(context.Background(), "slow", &echoRequest{Payload: "second"})
	if err != nil {
		t.Fatalf("exchange on the reused connection failed: %v", err)
	}
	if resp.(*echoResponse).Payload != "SECOND" {
		t.Errorf("got %q, want SECOND", resp.(*echoResponse).Payload)
	}
}

func TestDiscoveryClientNoEndpoints(t *testing.T) {
	cli := NewDiscoveryClient(registry.NewStatic(), &loadbalance.RoundRobin{}, echoCodec(t))
	defer cli.Close()

	_, err := cli.Exchange(context.Background(), "nothing", &echoRequest{Payload: "x"})
	if !errors.Is(err, loadbalance.ErrNoEndpoints) {
		t.Fatalf("expect ErrNoEndpoints, got %v", err)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	c := echoCodec(t)
	addr := startEchoServer(t, c)

	cli, err := Dial("tcp", addr, c)
	if err != nil {
		t.Fatal(err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "echo"})
	bc := NewBreakerClient(cli, breaker)
	defer bc.Close()

	// A healthy exchange passes through.
	resp, err := bc.Exchange(context.Background(), &echoRequest{Payload: "ok"})
	if err != nil {
		t.Fatalf("healthy exchange failed: %v", err)
	}
	if resp.(*echoResponse).Payload != "OK" {
		t.Errorf("got %q, want OK", resp.(*echoResponse).Payload)
	}

	// Kill the connection: every exchange now fails, and after the
	// default five consecutive failures the breaker opens.
	cli.Close()

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = bc.Exchange(context.Background(), &echoRequest{Payload: "x"})
	}
	if !errors.Is(lastErr, gobreaker.ErrOpenState) {
		t.Fatalf("expect ErrOpenState after repeated failures, got %v", lastErr)
	}
}
