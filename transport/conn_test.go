package transport

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"tcplink/codec"
	"tcplink/message"
	"tcplink/protocol"
)

type ping struct {
	Text string `json:"text"`
}

func (p *ping) Tag() string { return "test.ping" }

func (p *ping) MarshalBody() ([]byte, error) {
	return json.Marshal(p)
}

func testCodec(t *testing.T) codec.Codec {
	t.Helper()
	reg := message.NewRegistry()
	reg.MustRegister("test.ping", func(payload []byte) (message.Message, error) {
		p := &ping{}
		if err := json.Unmarshal(payload, p); err != nil {
			return nil, err
		}
		return p, nil
	})
	return codec.NewTagged(reg)
}

// tcpPair returns two ends of a real loopback TCP connection.
func tcpPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestConnSendReceive(t *testing.T) {
	rawClient, rawServer := tcpPair(t)

	c := testCodec(t)
	sender := NewConn(rawClient, c)
	receiver := NewConn(rawServer, c)

	if err := sender.Send(&ping{Text: "hello"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	m, err := receiver.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	got, ok := m.(*ping)
	if !ok {
		t.Fatalf("expect *ping, got %T", m)
	}
	if got.Text != "hello" {
		t.Errorf("Text mismatch: got %q, want %q", got.Text, "hello")
	}
}

func TestConnReceiveByteByByte(t *testing.T) {
	// The peer dribbles out the frame one byte per write; Receive must
	// still reconstruct the identical message.
	rawClient, rawServer := tcpPair(t)

	c := testCodec(t)
	receiver := NewConn(rawServer, c)

	body, err := c.Encode(&ping{Text: "chunked"})
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		frame := make([]byte, 0, protocol.HeaderSize+len(body))
		frame = append(frame, 0, 0, 0, byte(len(body)))
		frame = append(frame, body...)
		for _, b := range frame {
			if _, err := rawClient.Write([]byte{b}); err != nil {
				return
			}
		}
	}()

	m, err := receiver.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got := m.(*ping).Text; got != "chunked" {
		t.Errorf("Text mismatch: got %q, want %q", got, "chunked")
	}
}

func TestConnCleanCloseBetweenFrames(t *testing.T) {
	rawClient, rawServer := tcpPair(t)

	receiver := NewConn(rawServer, testCodec(t))
	rawClient.Close()

	_, err := receiver.Receive()
	if !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("expect ErrConnectionClosed, got %v", err)
	}
}

func TestConnCloseMidFrame(t *testing.T) {
	rawClient, rawServer := tcpPair(t)

	receiver := NewConn(rawServer, testCodec(t))

	// Header promises 100 bytes, then the peer hangs up.
	if _, err := rawClient.Write([]byte{0, 0, 0, 100, 'x', 'y'}); err != nil {
		t.Fatal(err)
	}
	rawClient.Close()

	_, err := receiver.Receive()
	if !errors.Is(err, protocol.ErrTruncatedFrame) {
		t.Fatalf("expect ErrTruncatedFrame, got %v", err)
	}
}

func TestConnMaxFrameSize(t *testing.T) {
	rawClient, rawServer := tcpPair(t)

	receiver := NewConn(rawServer, testCodec(t), WithMaxFrameSize(8))

	// Declared length 1 MB against an 8-byte limit.
	if _, err := rawClient.Write([]byte{0x00, 0x10, 0x00, 0x00}); err != nil {
		t.Fatal(err)
	}

	_, err := receiver.Receive()
	if !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("expect ErrFrameTooLarge, got %v", err)
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	rawClient, _ := tcpPair(t)

	conn := NewConn(rawClient, testCodec(t))
	if err := conn.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := conn.Send(&ping{Text: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed on Send after Close, got %v", err)
	}
	if _, err := conn.Receive(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed on Receive after Close, got %v", err)
	}
}

func TestConnReceiveTimeout(t *testing.T) {
	_, rawServer := tcpPair(t)

	receiver := NewConn(rawServer, testCodec(t), WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := receiver.Receive()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestConnCloseUnblocksReceive(t *testing.T) {
	_, rawServer := tcpPair(t)

	receiver := NewConn(rawServer, testCodec(t))

	done := make(chan error, 1)
	go func() {
		_, err := receiver.Receive()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	receiver.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expect error after Close, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not unblock after Close")
	}
}
